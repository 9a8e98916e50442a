// Package sessmanager defines the session collaborator of session-bound
// CSRF verification: a session store holding the expected CSRF token
// and the extractors resolving it from the session cookie.
package sessmanager

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/romshark/csrfguard"
)

// DefaultCookieName is the default name of the session cookie.
const DefaultCookieName = "__Host-session"

// ErrMissingProof is returned by CloseWithProof
// when no CSRF check passed in the current request.
var ErrMissingProof = errors.New("closing a session requires a csrf proof")

// TokenGenerator generates cryptographically random unique tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// SessionManager stores sessions identified by an opaque token
// which is put into an HTTP-only cookie.
//
// Implementations must be safe for concurrent use.
type SessionManager[S any] interface {
	// ReadSessionFromCookie resolves the session the cookie refers to.
	// Returns ok=false, err=nil if the cookie is malformed or the session
	// doesn't exist, in which case the cookie must be removed.
	// Returns (ok=false,err!=nil) on transient backend failures, in which case the
	// caller should keep the cookie and fail the request.
	ReadSessionFromCookie(ctx context.Context, c *http.Cookie) (
		session S, ok bool, err error,
	)

	// CreateSession creates a new session identified by a unique token.
	CreateSession(
		ctx context.Context, userID string, session S,
	) (token string, err error)

	// CloseSession closes a session identified by token.
	// No-op and no error if that session doesn't exist.
	CloseSession(ctx context.Context, token string) error
}

// Session is the default session record.
// It's bound to a user and holds the CSRF token all forms
// rendered within this session must submit.
type Session struct {
	UserID    string    `json:"userID"`
	CSRFToken string    `json:"csrfToken"`
	IssuedAt  time.Time `json:"issuedAt"`
}

var _ csrfguard.ExpectedTokenHolder = Session{}

func (s Session) ExpectedCSRFToken() string { return s.CSRFToken }

// NewSession creates a session for userID with a fresh CSRF token.
func NewSession(userID string, gen TokenGenerator, now time.Time) (Session, error) {
	token, err := gen.Generate()
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: userID, CSRFToken: token, IssuedAt: now.UTC()}, nil
}

// SetCookie sets the session cookie.
func SetCookie(w http.ResponseWriter, name, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// RemoveCookie instructs the client to delete the session cookie.
func RemoveCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
