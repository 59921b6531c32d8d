package apierr

import (
	"errors"
	"testing"
)

func TestWrapUIString(t *testing.T) {
	err := Wrap(CodeEnableFailed, ErrMissingEntry)
	wc, ok := err.(*WithCode)
	if !ok {
		t.Fatalf("expected *WithCode, got %T", err)
	}
	if got, want := wc.UIString(), "[PLUGINS_ENABLE_FAILED] "+ErrMissingEntry.Error(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !errors.Is(err, ErrMissingEntry) {
		t.Fatal("expected errors.Is to see through WithCode")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(CodeEnableFailed, nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}
