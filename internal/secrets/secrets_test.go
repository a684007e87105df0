package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values map[string]*string
	err    error
	calls  int
	sawDec bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.sawDec = aws.ToBool(in.WithDecryption)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: v}}, nil
}

func TestSSM_GetCachesAndTrims(t *testing.T) {
	f := &fakeSSM{values: map[string]*string{"/portfolio/github-token": aws.String(" ghp_abc\n")}}
	s := NewSSM(f)

	for i := 0; i < 3; i++ {
		v, err := s.Get(context.Background(), "/portfolio/github-token")
		if err != nil {
			t.Fatal(err)
		}
		if v != "ghp_abc" {
			t.Fatalf("value = %q", v)
		}
	}
	if f.calls != 1 {
		t.Fatalf("ssm calls = %d, want 1 (cached)", f.calls)
	}
	if !f.sawDec {
		t.Fatal("SecureString parameters must be requested with decryption")
	}
}

func TestSSM_GetErrors(t *testing.T) {
	cause := errors.New("AccessDeniedException")
	tests := []struct {
		name    string
		client  parameterGetter
		param   string
		wantIs  error
		wantErr bool
	}{
		{"api error", &fakeSSM{err: cause}, "/p", cause, true},
		{"missing value", &fakeSSM{values: map[string]*string{}}, "/p", nil, true},
		{"whitespace only", &fakeSSM{values: map[string]*string{"/p": aws.String("  ")}}, "/p", ErrEmpty, true},
		{"no client", nil, "/p", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSSM(tt.client).Get(context.Background(), tt.param)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("err = %v, want wrapping %v", err, tt.wantIs)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	f := &fakeSSM{values: map[string]*string{"/portfolio/redis": aws.String("hunter2")}}
	r := NewSSM(f)
	ctx := context.Background()

	if v, err := Resolve(ctx, r, "literal", "/portfolio/redis"); err != nil || v != "literal" {
		t.Fatalf("literal should win: %q %v", v, err)
	}
	if v, err := Resolve(ctx, r, "", "/portfolio/redis"); err != nil || v != "hunter2" {
		t.Fatalf("param: %q %v", v, err)
	}
	if v, err := Resolve(ctx, r, "", ""); err != nil || v != "" {
		t.Fatalf("unset: %q %v", v, err)
	}
	if _, err := Resolve(ctx, nil, "", "/portfolio/redis"); err == nil {
		t.Fatal("param without resolver should error")
	}
}
