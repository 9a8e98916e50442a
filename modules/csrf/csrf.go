// Package csrf defines stateless CSRF token managers deriving tokens
// from the session instead of storing them, and adapts them to
// csrfguard verifiers.
package csrf

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/romshark/csrfguard"
	"github.com/romshark/csrfguard/modules/sessmanager"
)

// ErrNegativeIssuedAt is returned for sessions issued before the unix epoch.
var ErrNegativeIssuedAt = errors.New("negative session issuance time")

// TokenManager generates and validates CSRF tokens.
//
// Implementations must be safe for concurrent use.
type TokenManager interface {
	// GenerateToken returns a CSRF token bound to the given userID
	// and session issuance time (unix seconds).
	GenerateToken(userID string, sessIssuedAtUnix int64) (string, error)

	// ValidateToken checks whether token is valid for the given
	// userID and session issuance time (unix seconds).
	ValidateToken(userID string, sessIssuedAtUnix int64, token string) bool
}

// Verifier returns a verifier accepting tokens tm generated
// for userID and the session issued at issuedAt.
func Verifier(tm TokenManager, userID string, issuedAt time.Time) csrfguard.Verifier {
	return csrfguard.VerifierFunc(func(
		_ context.Context, t csrfguard.TokenSource,
	) (csrfguard.Proof, error) {
		if !tm.ValidateToken(userID, issuedAt.Unix(), t.SubmittedCSRFToken()) {
			return 0, csrfguard.ErrTokenMismatch
		}
		return csrfguard.PassedCSRFChecks, nil
	})
}

// Extractor returns a verifier extractor binding tokens to the session
// resolved from the session cookie.
func Extractor(
	tm TokenManager, m sessmanager.SessionManager[sessmanager.Session], cookieName string,
) csrfguard.Extractor[csrfguard.Verifier] {
	return func(w http.ResponseWriter, r *http.Request) (csrfguard.Verifier, error) {
		res, err := sessmanager.Resolve(w, r, m, cookieName)
		if err != nil {
			return nil, err
		}
		return Verifier(tm, res.Session.UserID, res.Session.IssuedAt), nil
	}
}
