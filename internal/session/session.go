// Package session seals user tokens into cookies so the SOCKS listing can
// reuse the token without the browser holding it in plain text.
package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// CookieName is the name of the session cookie.
const CookieName = "token"

// DefaultTTL is the cookie lifetime.
const DefaultTTL = 24 * time.Hour

// Session errors.
var (
	ErrInvalid = errors.New("session: invalid cookie")
	ErrExpired = errors.New("session: cookie expired")
)

// Sealer encrypts and authenticates session values.
type Sealer struct {
	aead   cipher.AEAD
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sealer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSecure marks issued cookies as Secure.
func WithSecure(secure bool) Option {
	return func(s *Sealer) {
		s.secure = secure
	}
}

// WithClock sets the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSealer creates a Sealer keyed from secret. An empty secret selects a
// random key, so sessions do not survive a restart.
func NewSealer(secret string, opts ...Option) (*Sealer, error) {
	var key [chacha20poly1305.KeySize]byte
	if secret == "" {
		if _, err := rand.Read(key[:]); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
	} else {
		key = blake2b.Sum256([]byte("nordcfg-session\x00" + secret))
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("create session cipher: %w", err)
	}

	s := &Sealer{aead: aead, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the session lifetime.
func (s *Sealer) TTL() time.Duration {
	return s.ttl
}

// Seal encrypts value together with its expiry.
func (s *Sealer) Seal(value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+8+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	plain := make([]byte, 8, 8+len(value))
	binary.BigEndian.PutUint64(plain, uint64(s.now().Add(s.ttl).Unix()))
	plain = append(plain, value...)

	sealed := s.aead.Seal(nonce, nonce, plain, []byte(CookieName))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < s.aead.NonceSize()+s.aead.Overhead()+8 {
		return "", ErrInvalid
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(CookieName))
	if err != nil {
		return "", ErrInvalid
	}

	expires := time.Unix(int64(binary.BigEndian.Uint64(plain[:8])), 0)
	if !s.now().Before(expires) {
		return "", ErrExpired
	}
	return string(plain[8:]), nil
}

// Cookie returns an httpOnly cookie carrying the sealed token.
func (s *Sealer) Cookie(token string) (*http.Cookie, error) {
	value, err := s.Seal(token)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// TokenFromRequest returns the token sealed in the request's session cookie.
func (s *Sealer) TokenFromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrInvalid
	}
	return s.Open(c.Value)
}

// Fingerprint returns a short stable identifier for a token, safe to log.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
