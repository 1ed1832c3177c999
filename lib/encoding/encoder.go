// Package encoding implements the wire formats used between a process and
// its remote views: msgpack or JSON message frames, and signed or encrypted
// root tokens that let a reconnecting view prove which session root it
// belongs to.
package encoding

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Errors returned by Decode and ParseRootToken.
var (
	ErrInvalidFormat    = errors.New("encoding: invalid format")
	ErrSignatureInvalid = errors.New("encoding: signature verification failed")
	ErrDecryptFailed    = errors.New("encoding: decryption failed")
	ErrTokenExpired     = errors.New("encoding: token expired")
)

// Encoder signs or encrypts small msgpack payloads.
// It supports two modes:
//   - Signed: Base64 + HMAC signature, visible but tamper-proof
//   - Encrypted: AES-256-GCM, fully opaque
type Encoder struct {
	key []byte
	gcm cipher.AEAD
	now func() time.Time
}

// NewEncoder creates a new encoder with the given key. Keys shorter than
// 32 bytes are stretched with SHA-256.
func NewEncoder(key []byte) (*Encoder, error) {
	if len(key) < 32 {
		h := sha256.Sum256(key)
		key = h[:]
	}
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encoder{key: key, gcm: gcm, now: time.Now}, nil
}

// Encode serializes data and returns an encoded string.
// If sensitive is true, the data is encrypted; otherwise it's signed.
func (e *Encoder) Encode(data map[string]any, sensitive bool) (string, error) {
	packed, err := msgpack.Marshal(data)
	if err != nil {
		return "", err
	}
	if sensitive {
		return e.encrypt(packed)
	}
	return e.sign(packed), nil
}

// Decode reverses Encode.
func (e *Encoder) Decode(encoded string, sensitive bool) (map[string]any, error) {
	var (
		packed []byte
		err    error
	)
	if sensitive {
		packed, err = e.decrypt(encoded)
	} else {
		packed, err = e.verify(encoded)
	}
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := msgpack.Unmarshal(packed, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return data, nil
}

// RootToken issues a token binding a remote view to a session root.
func (e *Encoder) RootToken(root string, sensitive bool) (string, error) {
	return e.Encode(map[string]any{"root": root, "iat": e.now().Unix()}, sensitive)
}

// ParseRootToken verifies tok and returns the root it names. A maxAge of
// zero accepts tokens of any age.
func (e *Encoder) ParseRootToken(tok string, sensitive bool, maxAge time.Duration) (string, error) {
	data, err := e.Decode(tok, sensitive)
	if err != nil {
		return "", err
	}
	root, ok := data["root"].(string)
	if !ok || root == "" {
		return "", ErrInvalidFormat
	}
	if maxAge > 0 {
		iat, ok := toInt64(data["iat"])
		if !ok {
			return "", ErrInvalidFormat
		}
		if e.now().Sub(time.Unix(iat, 0)) > maxAge {
			return "", ErrTokenExpired
		}
	}
	return root, nil
}

// sign creates a signed (but visible) encoding: base64.signature
func (e *Encoder) sign(data []byte) string {
	b64 := base64.RawURLEncoding.EncodeToString(data)
	mac := hmac.New(sha256.New, e.key)
	mac.Write(data)
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:16]) // 16 bytes = 128 bits
	return b64 + "." + sig
}

// verify verifies and decodes a signed string
func (e *Encoder) verify(encoded string) ([]byte, error) {
	b64, sigPart, ok := strings.Cut(encoded, ".")
	if !ok {
		return nil, ErrInvalidFormat
	}
	data, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, e.key)
	mac.Write(data)
	if !hmac.Equal(sig, mac.Sum(nil)[:16]) {
		return nil, ErrSignatureInvalid
	}
	return data, nil
}

// encrypt creates an encrypted encoding using AES-256-GCM
func (e *Encoder) encrypt(data []byte) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := e.gcm.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// decrypt decodes and decrypts an encrypted string
func (e *Encoder) decrypt(encoded string) ([]byte, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if len(ciphertext) < e.gcm.NonceSize() {
		return nil, ErrInvalidFormat
	}
	nonce := ciphertext[:e.gcm.NonceSize()]
	ciphertext = ciphertext[e.gcm.NonceSize():]
	plain, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
