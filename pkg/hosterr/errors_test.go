package hosterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	base := errors.New("broken pipe")
	err := fmt.Errorf("send LoadPlugin: %w", Wrap(KindIpcError, "session", base))

	if !errors.Is(err, IpcError) {
		t.Error("Expected errors.Is to match IpcError sentinel")
	}
	if errors.Is(err, Crashed) {
		t.Error("IpcError must not match Crashed")
	}
	if !errors.Is(err, base) {
		t.Error("Expected wrapped cause to be reachable")
	}
	if KindOf(err) != KindIpcError {
		t.Errorf("Expected KindIpcError, got %s", KindOf(err))
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"op and msg", New(KindLoadFailed, "load", "no factory"), "load: LoadFailed: no factory"},
		{"no op", New(KindTimeout, "", "12ms"), "Timeout: 12ms"},
		{"wrapped", Wrap(KindCrashed, "process", errors.New("boom")), "process: Crashed: boom"},
		{"formatted", Newf(KindNotFound, "param", "id %d", 7), "param: NotFound: id 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindCrashed, "x", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if IsKind(nil, KindUnknown) {
		t.Error("nil error has no kind")
	}
}
