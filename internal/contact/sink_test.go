package contact

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakes

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

// GetObject serves back the last object put, anything else is NoSuchKey.
func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.in == nil || aws.ToString(in.Key) != aws.ToString(f.in.Key) {
		return nil, &s3types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(f.body)),
		Metadata: f.in.Metadata,
	}, nil
}

// fakeKMS "wraps" keys by prefixing them, enough to round trip Open.
type fakeKMS struct {
	keyID string
	err   error
}

const wrapPrefix = "wrapped:"

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.keyID = aws.ToString(in.KeyId)
	key := bytes.Repeat([]byte{0x42}, 32)
	return &kms.GenerateDataKeyOutput{
		Plaintext:      append([]byte(nil), key...),
		CiphertextBlob: append([]byte(wrapPrefix), key...),
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if !bytes.HasPrefix(in.CiphertextBlob, []byte(wrapPrefix)) {
		return nil, errors.New("not a wrapped key")
	}
	key := bytes.TrimPrefix(in.CiphertextBlob, []byte(wrapPrefix))
	return &kms.DecryptOutput{Plaintext: append([]byte(nil), key...)}, nil
}

func testSubmission() Submission {
	return Submission{
		ID:         "0b7c4c1e-6a43-4f6e-9a57-1f1d3a0d2c11",
		ReceivedAt: fixedNow,
		Name:       "Ada",
		Email:      "ada@example.com",
		Message:    "hello from the test suite",
		ClientIP:   "203.0.113.7",
	}
}

// NewS3Sink

func TestNewS3Sink_Validation(t *testing.T) {
	if _, err := NewS3Sink(&fakeS3{}, nil, S3SinkOptions{}); err == nil {
		t.Fatal("expected error without bucket")
	}
	if _, err := NewS3Sink(nil, nil, S3SinkOptions{Bucket: "b"}); err == nil {
		t.Fatal("expected error without s3 client")
	}
	if _, err := NewS3Sink(&fakeS3{}, nil, S3SinkOptions{Bucket: "b", KMSKeyID: "k"}); err == nil {
		t.Fatal("expected error with kms key but no client")
	}
}

// Deliver

func TestS3Sink_Plain(t *testing.T) {
	fs3 := &fakeS3{}
	sink, err := NewS3Sink(fs3, nil, S3SinkOptions{Bucket: "lmlabs-contact", Prefix: "contact/submissions"})
	if err != nil {
		t.Fatal(err)
	}
	sub := testSubmission()
	if err := sink.Deliver(context.Background(), sub); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	wantKey := "contact/submissions/2025/03/09/" + sub.ID + ".json"
	if got := aws.ToString(fs3.in.Key); got != wantKey {
		t.Fatalf("key = %q, want %q", got, wantKey)
	}
	if aws.ToString(fs3.in.Bucket) != "lmlabs-contact" {
		t.Fatalf("bucket = %q", aws.ToString(fs3.in.Bucket))
	}
	if aws.ToString(fs3.in.ContentType) != "application/json" {
		t.Fatalf("content type = %q", aws.ToString(fs3.in.ContentType))
	}
	if _, ok := fs3.in.Metadata[MetaEncrypted]; ok {
		t.Fatal("plain object marked encrypted")
	}
	var got Submission
	if err := json.Unmarshal(fs3.body, &got); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if got.Message != sub.Message || got.Email != sub.Email {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestS3Sink_KMSEnvelope(t *testing.T) {
	fs3 := &fakeS3{}
	fk := &fakeKMS{}
	sink, err := NewS3Sink(fs3, fk, S3SinkOptions{Bucket: "b", Prefix: "p", KMSKeyID: "alias/contact"})
	if err != nil {
		t.Fatal(err)
	}
	sub := testSubmission()
	if err := sink.Deliver(context.Background(), sub); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if fk.keyID != "alias/contact" {
		t.Fatalf("kms key id = %q", fk.keyID)
	}
	if fs3.in.Metadata[MetaEncrypted] != "kms" {
		t.Fatalf("metadata = %v", fs3.in.Metadata)
	}
	if aws.ToString(fs3.in.ContentType) != "application/octet-stream" {
		t.Fatalf("content type = %q", aws.ToString(fs3.in.ContentType))
	}
	if strings.Contains(string(fs3.body), sub.Message) {
		t.Fatal("message stored in clear text")
	}

	wrapped, err := base64.StdEncoding.DecodeString(fs3.in.Metadata[MetaDataKey])
	if err != nil {
		t.Fatalf("data key metadata: %v", err)
	}
	got, err := open(context.Background(), fk, fs3.body, wrapped, sub.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.Message != sub.Message || got.ID != sub.ID {
		t.Fatalf("opened = %+v", got)
	}

	if _, err := open(context.Background(), fk, fs3.body, wrapped, "some-other-id"); err == nil {
		t.Fatal("open with a different id should fail authentication")
	}
}

func TestS3Sink_Errors(t *testing.T) {
	sink, _ := NewS3Sink(&fakeS3{err: errors.New("access denied")}, nil, S3SinkOptions{Bucket: "b"})
	err := sink.Deliver(context.Background(), testSubmission())
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v", err)
	}

	sink, _ = NewS3Sink(&fakeS3{}, &fakeKMS{err: errors.New("throttled")}, S3SinkOptions{Bucket: "b", KMSKeyID: "k"})
	err = sink.Deliver(context.Background(), testSubmission())
	if err == nil || !strings.Contains(err.Error(), "kms generate data key") {
		t.Fatalf("err = %v", err)
	}
}

func TestLogSink_NeverFails(t *testing.T) {
	if err := (LogSink{}).Deliver(context.Background(), testSubmission()); err != nil {
		t.Fatalf("LogSink.Deliver: %v", err)
	}
}
