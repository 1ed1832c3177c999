package panel

import (
	"errors"
	"fmt"

	"github.com/vishalbelsare/panel/lib/markup"
)

// Sentinel errors for binding operations.
var (
	ErrTemplate         = markup.ErrTemplate
	ErrBinding          = errors.New("panel: binding failed")
	ErrNotDeclared      = errors.New("panel: property not declared")
	ErrAlreadyBound     = errors.New("panel: already bound")
	ErrInvalidValue     = errors.New("panel: invalid value")
	ErrLink             = errors.New("panel: invalid link")
	ErrDispatch         = errors.New("panel: dispatch failed")
	ErrStaleRef         = errors.New("panel: stale reference")
	ErrSessionClosed    = errors.New("panel: session closed")
	ErrDestroyed        = errors.New("panel: component destroyed")
	ErrDecryptFailed    = errors.New("panel: token decryption failed")
	ErrSignatureInvalid = errors.New("panel: signature verification failed")
	ErrInvalidFormat    = errors.New("panel: invalid wire format")
	ErrTokenExpired     = errors.New("panel: token expired")
	ErrNoKey            = errors.New("panel: registry has no key")
)

// TemplateError reports a template that cannot be compiled.
type TemplateError = markup.TemplateError

// BindingError reports a class that cannot be built, or a component that
// cannot be bound to a session.
type BindingError struct {
	Class string
	Ref   string
	Root  string
	Name  string
	Msg   string
	Err   error // one of the sentinels above, or nil
}

func (e *BindingError) Error() string {
	subject := e.Class
	if e.Ref != "" {
		subject = e.Ref
	}
	if e.Root != "" {
		subject += " in root " + e.Root
	}
	return fmt.Sprintf("panel: bind %s: %s", subject, e.Msg)
}

func (e *BindingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBinding}
	}
	return []error{ErrBinding, e.Err}
}

// DispatchError reports a view event that could not be delivered. Dispatch
// errors never reach the caller; they are passed to Registry.OnError.
type DispatchError struct {
	Root  string
	Ref   string
	Node  string
	Event string
	Err   error
}

func (e *DispatchError) Error() string {
	where := e.Ref
	if e.Node != "" {
		where += "/" + e.Node
	}
	return fmt.Sprintf("panel: dispatch %s to %s in root %s: %v", e.Event, where, e.Root, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatch, e.Err} }

// LinkError reports a link that cannot be created.
type LinkError struct {
	Source string
	Target string
	Name   string
	Msg    string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("panel: link %s -> %s: %s", e.Source, e.Target, e.Msg)
}

func (e *LinkError) Unwrap() error { return ErrLink }

// IsTemplateError checks if err is a template compilation error.
func IsTemplateError(err error) bool {
	return errors.Is(err, ErrTemplate)
}

// IsBindingError checks if err is a binding error.
func IsBindingError(err error) bool {
	return errors.Is(err, ErrBinding)
}

// IsLinkError checks if err is a link error.
func IsLinkError(err error) bool {
	return errors.Is(err, ErrLink)
}

// IsStale checks if err was caused by an event for a component or root
// that no longer exists.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleRef) || errors.Is(err, ErrSessionClosed)
}

// IsDecryptionError checks if err is a root token decryption or signature error.
func IsDecryptionError(err error) bool {
	return errors.Is(err, ErrDecryptFailed) || errors.Is(err, ErrSignatureInvalid)
}
