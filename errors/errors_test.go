package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDeserialize,
				Kind:   KindHashMismatch,
				Path:   []string{"artifact.bin"},
				Detail: "payload hash differs",
			},
			contains: []string{"[deserialize]", "hash_mismatch", "artifact.bin", "payload hash differs"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseCompile,
				Kind:  KindInvalidInput,
			},
			contains: []string{"[compile]", "invalid_input"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInstantiate,
				Kind:   KindResourceLimit,
				Detail: "memory reservation failed",
				Cause:  errors.New("mmap: cannot allocate"),
			},
			contains: []string{"[instantiate]", "resource_limit", "memory reservation failed", "caused by", "cannot allocate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Phase: PhaseDeserialize, Kind: KindIO, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := BadMagic([]byte{1, 2, 3, 4})

	tests := []struct {
		name   string
		target error
		want   bool
	}{
		{"same phase and kind", &Error{Phase: PhaseDeserialize, Kind: KindBadMagic}, true},
		{"kind wildcard", &Error{Phase: PhaseDeserialize}, true},
		{"phase wildcard", &Error{Kind: KindBadMagic}, true},
		{"different kind", &Error{Phase: PhaseDeserialize, Kind: KindHashMismatch}, false},
		{"different phase", &Error{Phase: PhaseCompile, Kind: KindBadMagic}, false},
		{"not a structured error", errors.New("bad magic"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeserializeKindsDistinct(t *testing.T) {
	// Each failure class must be distinguishable from the others.
	classes := []*Error{
		BadMagic([]byte("WASM")),
		UnknownVersion(9, 1),
		IncompatibleTarget(errors.New("triple mismatch")),
		Truncated("header"),
		HashMismatch(1, 2),
		Corrupt("bad section length"),
	}
	for i, a := range classes {
		for j, b := range classes {
			got := errors.Is(a, &Error{Phase: b.Phase, Kind: b.Kind})
			if (i == j) != got {
				t.Errorf("class %q vs %q: Is = %v", a.Kind, b.Kind, got)
			}
		}
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseLink, KindUnsupported).
		Path("env", "table").
		Detail("table imports need %s", "a native backend").
		Cause(cause).
		Build()

	if err.Phase != PhaseLink || err.Kind != KindUnsupported {
		t.Errorf("builder lost phase/kind: %+v", err)
	}
	if len(err.Path) != 2 || err.Path[0] != "env" {
		t.Errorf("builder lost path: %v", err.Path)
	}
	if err.Detail != "table imports need a native backend" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("builder lost cause")
	}
}

func TestLinkError(t *testing.T) {
	err := &LinkError{
		Unsatisfied: []UnsatisfiedImport{
			{Module: "env", Name: "missing_fn", Kind: "function", Reason: "missing"},
			{Module: "env", Name: "mem", Kind: "memory", Reason: "limits mismatch: provided min=1, required min=4"},
			{Module: "wasi_snapshot_preview1", Name: "fd_write", Kind: "function", Reason: "missing"},
		},
	}

	msg := err.Error()
	for _, want := range []string{
		"failed to link 3 import(s)",
		"env", "missing_fn", "wasi_snapshot_preview1", "fd_write",
		"limits mismatch",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	if !errors.Is(err, &LinkError{}) {
		t.Error("errors.Is should match any LinkError")
	}
	if errors.Is(err, &Error{Phase: PhaseLink}) {
		t.Error("LinkError should not match *Error targets")
	}
}

func TestLinkErrorEmpty(t *testing.T) {
	msg := (&LinkError{}).Error()
	if !strings.Contains(msg, "no imports specified") {
		t.Errorf("empty LinkError message = %q", msg)
	}
}
