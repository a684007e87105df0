// Package secrets resolves credentials (redis password, github token) from
// SSM Parameter Store SecureString parameters at startup.
package secrets

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// ErrEmpty is returned when a parameter exists but holds only whitespace.
var ErrEmpty = xerrors.New("secret parameter is empty")

// parameterGetter is the subset of the SSM API used here, so tests need no AWS credentials.
type parameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver returns the value of a named secret.
type Resolver interface {
	Get(ctx context.Context, name string) (string, error)
}

// SSM reads decrypted parameters and caches them for the life of the process.
type SSM struct {
	client parameterGetter

	mu    sync.Mutex
	cache map[string]string
}

func NewSSM(client parameterGetter) *SSM {
	return &SSM{client: client, cache: make(map[string]string)}
}

// Get returns the trimmed value of parameter name.
func (s *SSM) Get(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if v, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	if s.client == nil {
		return "", xerrors.New("ssm client is not configured")
	}
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Wrapf(ErrEmpty, "SSM parameter %s", name)
	}

	s.mu.Lock()
	s.cache[name] = v
	s.mu.Unlock()
	return v, nil
}

// Resolve picks the literal value when set, otherwise reads param through r.
// Both empty means the secret is simply not configured and returns "".
func Resolve(ctx context.Context, r Resolver, literal, param string) (string, error) {
	if literal != "" {
		return literal, nil
	}
	if param == "" {
		return "", nil
	}
	if r == nil {
		return "", xerrors.Newf("parameter %s configured but no resolver available", param)
	}
	return r.Get(ctx, param)
}
