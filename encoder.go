package panel

import (
	"errors"
	"time"

	"github.com/vishalbelsare/panel/lib/encoding"
)

// Encoder is an alias for encoding.Encoder for convenience.
type Encoder = encoding.Encoder

// NewEncoder creates a new encoder with the given key. Keys shorter than
// 32 bytes are stretched with SHA-256.
func NewEncoder(key []byte) (*Encoder, error) {
	enc, err := encoding.NewEncoder(key)
	return enc, wrapEncodingError(err)
}

// Token returns a signed token naming root. Views present it when they
// connect to a transport.
func (r *Registry) Token(root string) (string, error) {
	if r.encoder == nil {
		return "", ErrNoKey
	}
	tok, err := r.encoder.RootToken(root, false)
	return tok, wrapEncodingError(err)
}

// ParseToken verifies a token made by Token and returns its root. Tokens
// older than maxAge are rejected; zero disables the check.
func (r *Registry) ParseToken(tok string, maxAge time.Duration) (string, error) {
	if r.encoder == nil {
		return "", ErrNoKey
	}
	root, err := r.encoder.ParseRootToken(tok, false, maxAge)
	return root, wrapEncodingError(err)
}

// wrapEncodingError wraps encoding package errors with panel sentinel errors.
func wrapEncodingError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, encoding.ErrInvalidFormat) {
		return ErrInvalidFormat
	}
	if errors.Is(err, encoding.ErrSignatureInvalid) {
		return ErrSignatureInvalid
	}
	if errors.Is(err, encoding.ErrDecryptFailed) {
		return ErrDecryptFailed
	}
	if errors.Is(err, encoding.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return err
}
