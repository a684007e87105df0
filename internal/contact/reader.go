package contact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// maxObjectBytes caps what Reader will pull for a single submission.
const maxObjectBytes = 1 << 20

var (
	ErrNotFound   = errors.New("contact: submission not found")
	ErrInvalidKey = errors.New("contact: not a submission key")
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Reader loads stored submissions back for operators, unsealing KMS objects.
type Reader struct {
	s3     objectGetter
	kms    dataKeyDecrypter
	bucket string
	prefix string
}

// NewReader reads from the bucket and prefix an S3Sink writes to. kmsc may be
// nil when no object was ever sealed.
func NewReader(s3c objectGetter, kmsc dataKeyDecrypter, bucket, prefix string) (*Reader, error) {
	if bucket == "" {
		return nil, xerrors.New("contact reader: bucket is required")
	}
	if s3c == nil {
		return nil, xerrors.New("contact reader: s3 client is required")
	}
	return &Reader{s3: s3c, kms: kmsc, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Get returns the submission stored under key, the full object key as logged
// by the sink. Keys outside the prefix or not ending in .json are rejected.
func (r *Reader) Get(ctx context.Context, key string) (Submission, error) {
	id, ok := r.idFromKey(key)
	if !ok {
		return Submission{}, ErrInvalidKey
	}

	out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return Submission{}, ErrNotFound
		}
		return Submission{}, xerrors.Wrapf(err, "get s3://%s/%s", r.bucket, key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes+1))
	if err != nil {
		return Submission{}, xerrors.Wrapf(err, "read s3://%s/%s", r.bucket, key)
	}
	if len(body) > maxObjectBytes {
		return Submission{}, xerrors.Newf("submission object %s exceeds %d bytes", key, maxObjectBytes)
	}

	if out.Metadata[MetaEncrypted] != "kms" {
		var sub Submission
		if err := json.Unmarshal(body, &sub); err != nil {
			return Submission{}, xerrors.Wrap(err, "unmarshal submission")
		}
		return sub, nil
	}

	if r.kms == nil {
		return Submission{}, xerrors.Newf("submission %s is sealed but no kms client is configured", key)
	}
	wrapped, err := base64.StdEncoding.DecodeString(out.Metadata[MetaDataKey])
	if err != nil || len(wrapped) == 0 {
		return Submission{}, xerrors.Newf("submission %s has no usable %s metadata", key, MetaDataKey)
	}
	return open(ctx, r.kms, body, wrapped, id)
}

// idFromKey checks key sits under the prefix and returns the submission id.
func (r *Reader) idFromKey(key string) (string, bool) {
	if key == "" || strings.Contains(key, "..") || path.Clean(key) != key {
		return "", false
	}
	if r.prefix != "" && !strings.HasPrefix(key, r.prefix+"/") {
		return "", false
	}
	base := path.Base(key)
	id, ok := strings.CutSuffix(base, ".json")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
