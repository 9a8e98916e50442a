package csrfguard

import (
	"errors"
	"fmt"
	"net/http"
)

// Extractor obtains a value from an incoming request.
// It returns an error wrapping ErrForward if it doesn't apply to the request
// and any other error (optionally a *StatusError) if it failed.
// w is provided for extractors that need to modify the response (e.g. cookies).
type Extractor[T any] func(w http.ResponseWriter, r *http.Request) (T, error)

// Parser parses the request payload into a form carrying a CSRF token.
// Errors should be *StatusError to pick a status other than 422.
type Parser[F TokenSource] func(r *http.Request) (F, error)

// Protected is a form that passed CSRF verification.
// The form can't be obtained from anything other than a successful Protect.
type Protected[F TokenSource] struct {
	form  F
	proof Proof
}

// Inner discards the proof and returns the form.
func (p Protected[F]) Inner() F { return p.form }

// Parts returns the proof and the form.
func (p Protected[F]) Parts() (Proof, F) { return p.proof, p.form }

// Protect runs the CSRF check sequence for a form submission:
//
//  1. extract the verifier (fails with ErrNoVerifierFound),
//  2. parse the form (fails with *FormParsingError, before verification),
//  3. verify the token (fails with ErrTokenVerification, the form is discarded),
//  4. publish the proof into the request state.
//
// The verifier is extracted before the payload is parsed.
// Verifiers like the double-submit cookie consume their state on extraction.
func Protect[F TokenSource](
	w http.ResponseWriter, r *http.Request,
	verifier Extractor[Verifier], parse Parser[F],
) (Protected[F], error) {
	form, proof, err := protect(w, r, verifier, parse)
	if err != nil {
		reject(r, ChannelForm, err)
		return Protected[F]{}, err
	}
	succeed(r, ChannelForm, proof)
	return Protected[F]{form: form, proof: proof}, nil
}

func protect[F TokenSource](
	w http.ResponseWriter, r *http.Request,
	extract Extractor[Verifier], parse Parser[F],
) (form F, proof Proof, err error) {
	v, err := extractVerifier(w, r, extract)
	if err != nil {
		return form, 0, err
	}

	form, err = parse(r)
	if err != nil {
		var zero F
		return zero, 0, &FormParsingError{
			Status: statusOf(err, http.StatusUnprocessableEntity),
			Err:    err,
		}
	}

	proof, err = v.Verify(r.Context(), form)
	if err != nil {
		var zero F
		return zero, 0, fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}
	if !proof.Valid() {
		var zero F
		return zero, 0, fmt.Errorf("%w: verifier minted no proof", ErrTokenVerification)
	}
	return form, proof, nil
}

func extractVerifier(
	w http.ResponseWriter, r *http.Request, extract Extractor[Verifier],
) (Verifier, error) {
	v, err := extract(w, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoVerifierFound, err)
	}
	if v == nil {
		return nil, ErrNoVerifierFound
	}
	return v, nil
}

// ProtectedWithGuard is a form that passed CSRF verification and
// for which the guard G was extracted successfully afterwards.
type ProtectedWithGuard[F TokenSource, G any] struct {
	form  F
	proof Proof
	guard G
}

// Parts returns the guard and the form.
func (p ProtectedWithGuard[F, G]) Parts() (G, F) { return p.guard, p.form }

// PartsWithProof returns the proof, the guard and the form.
func (p ProtectedWithGuard[F, G]) PartsWithProof() (Proof, G, F) {
	return p.proof, p.guard, p.form
}

// ProtectWithGuard is Protect followed by the extraction of guard,
// which therefore already sees the proof in the request state.
// The form is only returned if both succeed.
//
// A guard failure yields a *GuardError with the guard's status (default 500).
// A guard forwarding yields ErrGuardForwarded: the CSRF checks have already
// passed at that point, so there's nothing left to forward to.
func ProtectWithGuard[F TokenSource, G any](
	w http.ResponseWriter, r *http.Request,
	verifier Extractor[Verifier], parse Parser[F], guard Extractor[G],
) (ProtectedWithGuard[F, G], error) {
	p, err := Protect(w, r, verifier, parse)
	if err != nil {
		return ProtectedWithGuard[F, G]{}, err
	}

	g, err := guard(w, r)
	switch {
	case errors.Is(err, ErrForward):
		return ProtectedWithGuard[F, G]{}, fmt.Errorf("%w: %w", ErrGuardForwarded, err)
	case err != nil:
		return ProtectedWithGuard[F, G]{}, &GuardError{
			Status: statusOf(err, http.StatusInternalServerError),
			Err:    err,
		}
	}
	return ProtectedWithGuard[F, G]{form: p.form, proof: p.proof, guard: g}, nil
}
