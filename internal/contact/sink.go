package contact

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"path"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sanitize"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// LogSink writes one log line per submission without the name, address or
// message body. It is the sink when no bucket is configured.
type LogSink struct {
	Logger log.Logger
}

func (s LogSink) Deliver(ctx context.Context, sub Submission) error {
	L := s.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	L.Info(ctx, "contact submission received",
		"submission_id", sub.ID,
		"email_domain", sanitize.EmailDomain(sub.Email),
		"message_length", utf8.RuneCountInString(sub.Message),
		"flagged", sub.Flagged,
	)
	return nil
}

// objectPutter is the subset of the S3 API used to store submissions.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// dataKeyGenerator is the subset of the KMS API used for envelope encryption.
type dataKeyGenerator interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
}

// dataKeyDecrypter unwraps a data key, used by Reader.
type dataKeyDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// object metadata keys
const (
	MetaEncrypted = "encrypted"
	MetaDataKey   = "data-key"
	MetaFlagged   = "flagged"
)

type S3SinkOptions struct {
	Bucket string
	Prefix string
	// KMSKeyID enables envelope encryption of the object body when set.
	KMSKeyID string
}

// S3Sink stores each submission as prefix/YYYY/MM/DD/<id>.json. With a KMS
// key the body is sealed with AES-256-GCM under a fresh data key and the
// wrapped key travels in the object metadata.
type S3Sink struct {
	s3   objectPutter
	kms  dataKeyGenerator
	opts S3SinkOptions
}

func NewS3Sink(s3c objectPutter, kmsc dataKeyGenerator, opts S3SinkOptions) (*S3Sink, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("contact s3 sink: bucket is required")
	}
	if s3c == nil {
		return nil, xerrors.New("contact s3 sink: s3 client is required")
	}
	if opts.KMSKeyID != "" && kmsc == nil {
		return nil, xerrors.New("contact s3 sink: kms key configured without a kms client")
	}
	return &S3Sink{s3: s3c, kms: kmsc, opts: opts}, nil
}

// Key returns the object key for sub.
func (s *S3Sink) Key(sub Submission) string {
	return path.Join(s.opts.Prefix, sub.ReceivedAt.UTC().Format("2006/01/02"), sub.ID+".json")
}

func (s *S3Sink) Deliver(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return xerrors.Wrap(err, "marshal submission")
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(s.Key(sub)),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{MetaFlagged: boolString(sub.Flagged)},
	}

	if s.opts.KMSKeyID != "" {
		sealed, wrappedKey, err := s.seal(ctx, body, sub.ID)
		if err != nil {
			return err
		}
		body = sealed
		in.ContentType = aws.String("application/octet-stream")
		in.Metadata[MetaEncrypted] = "kms"
		in.Metadata[MetaDataKey] = base64.StdEncoding.EncodeToString(wrappedKey)
	}
	in.Body = bytes.NewReader(body)
	in.ContentLength = aws.Int64(int64(len(body)))

	if _, err := s.s3.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.opts.Bucket, aws.ToString(in.Key))
	}
	return nil
}

// seal returns nonce||ciphertext and the KMS-wrapped data key. The submission
// id is bound as additional data so objects cannot be swapped between keys.
func (s *S3Sink) seal(ctx context.Context, plaintext []byte, id string) ([]byte, []byte, error) {
	out, err := s.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(s.opts.KMSKeyID),
		KeySpec:           kmstypes.DataKeySpecAes256,
		EncryptionContext: map[string]string{"purpose": "contact-submission"},
	})
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "kms generate data key")
	}
	defer clear(out.Plaintext)

	gcm, err := newGCM(out.Plaintext)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, xerrors.Wrap(err, "read nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, []byte(id)), out.CiphertextBlob, nil
}

// open reverses the envelope for an object written with a KMS key.
func open(ctx context.Context, kmsc dataKeyDecrypter, sealed, wrappedKey []byte, id string) (Submission, error) {
	out, err := kmsc.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    wrappedKey,
		EncryptionContext: map[string]string{"purpose": "contact-submission"},
	})
	if err != nil {
		return Submission{}, xerrors.Wrap(err, "kms decrypt data key")
	}
	defer clear(out.Plaintext)

	gcm, err := newGCM(out.Plaintext)
	if err != nil {
		return Submission{}, err
	}
	if len(sealed) < gcm.NonceSize() {
		return Submission{}, xerrors.New("sealed submission too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, []byte(id))
	if err != nil {
		return Submission{}, xerrors.Wrap(err, "open sealed submission")
	}
	var sub Submission
	if err := json.Unmarshal(plain, &sub); err != nil {
		return Submission{}, xerrors.Wrap(err, "unmarshal submission")
	}
	return sub, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(err, "aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(err, "gcm")
	}
	return gcm, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
