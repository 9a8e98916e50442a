package sessmanager

import (
	"context"
	"fmt"
	"net/http"

	"github.com/romshark/csrfguard"
)

// Resolved is a session resolved from the session cookie.
type Resolved[S any] struct {
	Session S

	// Token is the raw session cookie value.
	Token string
}

// memoKey is generic so that different session types
// resolved from the same cookie never collide.
type memoKey[S any] struct{ cookie string }

// Resolve resolves the session from the cookie with the given name.
// The result is memoized for the rest of the request, the store is
// queried at most once no matter how many extractors need the session.
//
// Returns an error wrapping csrfguard.ErrForward if there's no cookie or
// the session doesn't exist (the cookie is removed in the latter case),
// and a 500 *csrfguard.StatusError on backend failures.
func Resolve[S any](
	w http.ResponseWriter, r *http.Request, m SessionManager[S], cookieName string,
) (Resolved[S], error) {
	return csrfguard.Memoize(r.Context(), memoKey[S]{cookie: cookieName},
		func() (Resolved[S], error) {
			c, err := r.Cookie(cookieName)
			if err != nil {
				return Resolved[S]{}, fmt.Errorf("%w: no session cookie", csrfguard.ErrForward)
			}
			s, ok, err := m.ReadSessionFromCookie(r.Context(), c)
			switch {
			case err != nil:
				return Resolved[S]{}, csrfguard.Fail(http.StatusInternalServerError,
					fmt.Errorf("reading session: %w", err))
			case !ok:
				RemoveCookie(w, cookieName)
				return Resolved[S]{}, fmt.Errorf("%w: unknown session", csrfguard.ErrForward)
			}
			return Resolved[S]{Session: s, Token: c.Value}, nil
		})
}

// Extractor returns a verifier extractor checking submitted tokens against
// the CSRF token stored in the session.
func Extractor[S csrfguard.ExpectedTokenHolder](
	m SessionManager[S], cookieName string,
) csrfguard.Extractor[csrfguard.Verifier] {
	return func(w http.ResponseWriter, r *http.Request) (csrfguard.Verifier, error) {
		res, err := Resolve(w, r, m, cookieName)
		if err != nil {
			return nil, err
		}
		return csrfguard.KnownExpected(res.Session), nil
	}
}

// Guard returns an extractor yielding the resolved session.
// Used as the guard of csrfguard.ProtectWithGuard it shares the
// memoized lookup with Extractor.
func Guard[S any](m SessionManager[S], cookieName string) csrfguard.Extractor[Resolved[S]] {
	return func(w http.ResponseWriter, r *http.Request) (Resolved[S], error) {
		return Resolve(w, r, m, cookieName)
	}
}

// Closer closes sessions.
type Closer interface {
	CloseSession(ctx context.Context, token string) error
}

// CloseWithProof closes the session identified by token.
// Closing a session is a sensitive operation and requires proof that
// a CSRF check passed earlier in the same request.
func CloseWithProof(ctx context.Context, c Closer, proof csrfguard.Proof, token string) error {
	if !proof.Valid() {
		return ErrMissingProof
	}
	return c.CloseSession(ctx, token)
}
