package panel

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vishalbelsare/panel/lib/encoding"
	"github.com/vishalbelsare/panel/lib/markup"
)

func TestSentinelErrors(t *testing.T) {
	// Verify sentinel errors are distinct
	errs := []error{
		ErrTemplate,
		ErrBinding,
		ErrNotDeclared,
		ErrAlreadyBound,
		ErrInvalidValue,
		ErrLink,
		ErrDispatch,
		ErrStaleRef,
		ErrSessionClosed,
		ErrDestroyed,
		ErrDecryptFailed,
		ErrSignatureInvalid,
		ErrInvalidFormat,
		ErrTokenExpired,
		ErrNoKey,
	}

	for i, err1 := range errs {
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		want bool
	}{
		{"template error", &markup.TemplateError{Message: "x"}, IsTemplateError, true},
		{"wrapped template error", fmt.Errorf("class: %w", &markup.TemplateError{Message: "x"}), IsTemplateError, true},
		{"binding is not template", &BindingError{Msg: "x"}, IsTemplateError, false},
		{"binding error", &BindingError{Msg: "x"}, IsBindingError, true},
		{"binding error with cause", &BindingError{Msg: "x", Err: ErrAlreadyBound}, IsBindingError, true},
		{"joined binding errors", errors.Join(errors.New("a"), &BindingError{Msg: "x"}), IsBindingError, true},
		{"link error", &LinkError{Msg: "x"}, IsLinkError, true},
		{"nil is not a link error", nil, IsLinkError, false},
		{"stale ref", &DispatchError{Err: ErrStaleRef}, IsStale, true},
		{"closed session", &DispatchError{Err: ErrSessionClosed}, IsStale, true},
		{"method failure is not stale", &DispatchError{Err: errors.New("boom")}, IsStale, false},
		{"decrypt failed", ErrDecryptFailed, IsDecryptionError, true},
		{"signature invalid", fmt.Errorf("wrapped: %w", ErrSignatureInvalid), IsDecryptionError, true},
		{"invalid format is not decryption", ErrInvalidFormat, IsDecryptionError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.is(tt.err); got != tt.want {
				t.Errorf("predicate(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBindingErrorUnwrap(t *testing.T) {
	err := &BindingError{Class: "slider", Ref: "slider-1", Root: "r1", Msg: "already bound", Err: ErrAlreadyBound}
	if !errors.Is(err, ErrBinding) || !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("BindingError should unwrap to ErrBinding and ErrAlreadyBound")
	}
	if got, want := err.Error(), "panel: bind slider-1 in root r1: already bound"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDispatchErrorMessage(t *testing.T) {
	err := &DispatchError{Root: "r1", Ref: "slider-1", Node: "b", Event: "click", Err: ErrStaleRef}
	if !errors.Is(err, ErrDispatch) {
		t.Error("DispatchError should unwrap to ErrDispatch")
	}
	for _, want := range []string{"click", "slider-1/b", "r1", "stale"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestWrapEncodingError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		expect error
	}{
		{"nil", nil, nil},
		{"invalid format", encoding.ErrInvalidFormat, ErrInvalidFormat},
		{"signature", encoding.ErrSignatureInvalid, ErrSignatureInvalid},
		{"decrypt", encoding.ErrDecryptFailed, ErrDecryptFailed},
		{"expired", encoding.ErrTokenExpired, ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapEncodingError(tt.input)
			if !errors.Is(got, tt.expect) {
				t.Errorf("wrapEncodingError(%v) = %v, want %v", tt.input, got, tt.expect)
			}
		})
	}
}

func TestRegistryToken(t *testing.T) {
	if _, err := NewRegistry(WithLogger(DiscardLogger())).Token("r1"); !errors.Is(err, ErrNoKey) {
		t.Errorf("Token() without key error = %v, want ErrNoKey", err)
	}

	reg := NewRegistry(WithLogger(DiscardLogger()), WithKey(make([]byte, 32)))
	tok, err := reg.Token("r1")
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	root, err := reg.ParseToken(tok, 0)
	if err != nil || root != "r1" {
		t.Errorf("ParseToken() = %q, %v, want r1", root, err)
	}
	if _, err := reg.ParseToken(tok+"x", 0); !IsDecryptionError(err) && !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("ParseToken(tampered) error = %v, want a signature error", err)
	}
}
