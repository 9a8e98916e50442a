package csrfguard

import (
	"errors"
	"fmt"
	"net/http"
)

// CheckHeader verifies the token carried by the X-CSRF-Token header
// and publishes the proof into the request state. No payload is read.
//
// Fails with ErrNoVerifierFound, ErrNoHeaderPresent or ErrTokenVerification.
func CheckHeader(
	w http.ResponseWriter, r *http.Request, verifier Extractor[Verifier],
) (Proof, error) {
	p, err := checkHeader(w, r, verifier)
	if err != nil {
		reject(r, ChannelHeader, err)
		return 0, err
	}
	succeed(r, ChannelHeader, p)
	return p, nil
}

func checkHeader(
	w http.ResponseWriter, r *http.Request, extract Extractor[Verifier],
) (Proof, error) {
	v, err := extractVerifier(w, r, extract)
	if errors.Is(err, ErrForward) {
		// There's no route to forward API calls to,
		// a missing verifier means the call is unauthorized.
		return 0, Fail(http.StatusForbidden, err)
	} else if err != nil {
		return 0, err
	}
	token, ok := headerToken(r)
	if !ok {
		return 0, ErrNoHeaderPresent
	}
	p, err := v.Verify(r.Context(), token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}
	if !p.Valid() {
		return 0, fmt.Errorf("%w: verifier minted no proof", ErrTokenVerification)
	}
	return p, nil
}

// HeaderCheck returns a middleware answering requests that fail
// CheckHeader with the corresponding status.
func HeaderCheck(verifier Extractor[Verifier]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := CheckHeader(w, r, verifier); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
