// Package doublesubmit implements CSRF protection using double-submit cookies
// for flows that have no session yet, such as login forms.
//
// A token is issued by setting it in a cookie and embedding the same value in
// the rendered form. The next request must echo it back in the form.
// The cookie is single-use: it's removed from the response as soon as a request
// reads it, before the comparison, regardless of the outcome.
//
// Prefer session-bound CSRF tokens wherever there is a session.
package doublesubmit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/modules/tokgen"
)

// CookieName is the name of the double-submit cookie.
const CookieName = "__Host-csrf-token"

const (
	// DefaultExpiry is the cookie expiry of PolicyStrict and PolicyLax.
	DefaultExpiry = 10 * time.Minute

	// NoneExpiry is the cookie expiry of PolicyNone_DO_NOT_USE_UNLESS_YOU_ARE_SURE.
	NoneExpiry = 20 * time.Second
)

// Policy defines the SameSite mode and expiry of the cookie.
type Policy struct {
	SameSite http.SameSite
	Expiry   time.Duration
}

var (
	// PolicyStrict is the default policy.
	PolicyStrict = Policy{SameSite: http.SameSiteStrictMode, Expiry: DefaultExpiry}

	PolicyLax = Policy{SameSite: http.SameSiteLaxMode, Expiry: DefaultExpiry}

	// PolicyNone_DO_NOT_USE_UNLESS_YOU_ARE_SURE sends the cookie on cross-site
	// requests. Avoid this as much as possible.
	//
	//nolint:revive,staticcheck // The name is meant to be hard to miss.
	PolicyNone_DO_NOT_USE_UNLESS_YOU_ARE_SURE = Policy{
		SameSite: http.SameSiteNoneMode, Expiry: NoneExpiry,
	}
)

var ErrMissingHashKey = errors.New("hash key required when no codec is set")

// Codec protects the integrity of the cookie value.
type Codec interface {
	Encode(name, value string) (string, error)
	Decode(name, encoded string) (string, error)
}

// TokenGenerator generates the random token values.
type TokenGenerator interface {
	Generate() (string, error)
}

// Config configures the Manager.
type Config struct {
	// HashKey authenticates the cookie value using HMAC. Required unless Codec is set.
	// It's recommended to use a key with 32 or 64 bytes.
	HashKey []byte

	// BlockKey optionally encrypts the cookie value using AES (16, 24 or 32 bytes).
	BlockKey []byte

	// Codec replaces the default securecookie codec.
	Codec Codec

	// Policy defaults to PolicyStrict.
	Policy Policy

	// Generator defaults to a tokgen.Generator producing tokgen.MinLength bytes.
	Generator TokenGenerator
}

// Manager issues and consumes double-submit cookies.
type Manager struct {
	codec  Codec
	policy Policy
	gen    TokenGenerator
}

// New creates a new Manager.
func New(conf Config) (*Manager, error) {
	policy := conf.Policy
	if policy == (Policy{}) {
		policy = PolicyStrict
	}
	gen := conf.Generator
	if gen == nil {
		gen = tokgen.Generator{Length: tokgen.MinLength}
	}
	codec := conf.Codec
	if codec == nil {
		if len(conf.HashKey) < 1 {
			return nil, ErrMissingHashKey
		}
		sc := securecookie.New(conf.HashKey, conf.BlockKey)
		sc.MaxAge(int(policy.Expiry / time.Second))
		codec = SecureCookieCodec{SecureCookie: sc}
	}
	return &Manager{codec: codec, policy: policy, gen: gen}, nil
}

// Issue generates a fresh token, sets it as a cookie on w and returns it
// so that it can be embedded in the form that's about to be rendered.
// Errors wrapping tokgen.ErrRandomSource indicate a broken system.
func (m *Manager) Issue(w http.ResponseWriter) (string, error) {
	token, err := m.gen.Generate()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	encoded, err := m.codec.Encode(CookieName, token)
	if err != nil {
		return "", fmt.Errorf("encoding cookie: %w", err)
	}
	http.SetCookie(w, m.cookie(encoded, int(m.policy.Expiry/time.Second)))
	return token, nil
}

// Extract reads the cookie and returns a verifier expecting its value.
// The cookie is removed from the response before anything else happens,
// at most once per request.
// Returns an error wrapping csrfguard.ErrForward if there's no usable cookie.
//
// Extract is a csrfguard.Extractor[csrfguard.Verifier].
func (m *Manager) Extract(
	w http.ResponseWriter, r *http.Request,
) (csrfguard.Verifier, error) {
	if !csrfguard.ConsumeOnce(r.Context(), CookieName) {
		return nil, fmt.Errorf("%w: cookie already consumed", csrfguard.ErrForward)
	}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: no double-submit cookie", csrfguard.ErrForward)
	}

	// Drop the cookie so it can't be reused.
	http.SetCookie(w, m.cookie("", -1))

	expected, err := m.codec.Decode(CookieName, c.Value)
	if err != nil {
		// A cookie that fails integrity checks is treated as absent.
		return nil, fmt.Errorf("%w: decoding double-submit cookie: %w",
			csrfguard.ErrForward, err)
	}
	return Verifier{expected: expected}, nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/", // Required by the __Host- prefix.
		MaxAge:   maxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: m.policy.SameSite,
	}
}

// Verifier compares the submitted token against the value
// read from the double-submit cookie.
type Verifier struct{ expected string }

var _ csrfguard.Verifier = Verifier{}

func (v Verifier) Verify(
	_ context.Context, token csrfguard.TokenSource,
) (csrfguard.Proof, error) {
	if !csrfguard.Equal(token.SubmittedCSRFToken(), v.expected) {
		return 0, csrfguard.ErrTokenMismatch
	}
	return csrfguard.PassedCSRFChecks, nil
}

// SecureCookieCodec is the default Codec.
type SecureCookieCodec struct {
	*securecookie.SecureCookie
}

func (c SecureCookieCodec) Encode(name, value string) (string, error) {
	return c.SecureCookie.Encode(name, value)
}

func (c SecureCookieCodec) Decode(name, encoded string) (value string, err error) {
	err = c.SecureCookie.Decode(name, encoded, &value)
	return value, err
}
