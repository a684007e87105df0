package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	v.VCSDirty = nil
	info := v.Get()
	if info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	v.VCSDirty = &trueVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	v.VCSDirty = nil
}

func TestGet_AppName(t *testing.T) {
	if got := v.Get().AppName; got != v.AppName {
		t.Fatalf("AppName = %q, want %q", got, v.AppName)
	}
}

func TestInfo_String(t *testing.T) {
	dirty := true
	s := v.Info{AppName: "app", Version: "1.2.3", Commit: "abc", VCSDirty: &dirty}.String()
	for _, want := range []string{"app 1.2.3", "commit=abc", "dirty=true"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
