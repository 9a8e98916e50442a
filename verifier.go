package csrfguard

import (
	"context"
	"crypto/subtle"
)

// Verifier decides whether the token provided by the user is valid
// and mints a Proof if it is.
//
// Verify may consult external state but should be fast. Prefer to load
// whatever it needs before constructing the verifier (see Memoize).
type Verifier interface {
	Verify(ctx context.Context, token TokenSource) (Proof, error)
}

// VerifierFunc adapts a function to a Verifier.
type VerifierFunc func(ctx context.Context, token TokenSource) (Proof, error)

func (f VerifierFunc) Verify(ctx context.Context, token TokenSource) (Proof, error) {
	return f(ctx, token)
}

// ExpectedTokenHolder is anything that knows which token to expect,
// such as an authenticated session.
type ExpectedTokenHolder interface {
	ExpectedCSRFToken() string
}

// ProofKinder can optionally be implemented by an ExpectedTokenHolder
// to mint a proof kind other than PassedCSRFChecks.
type ProofKinder interface {
	CSRFProofKind() Proof
}

// KnownExpected turns h into a Verifier comparing the submitted token
// against h.ExpectedCSRFToken in constant time.
func KnownExpected(h ExpectedTokenHolder) Verifier { return knownExpected{h: h} }

type knownExpected struct{ h ExpectedTokenHolder }

func (v knownExpected) Verify(_ context.Context, token TokenSource) (Proof, error) {
	if !Equal(token.SubmittedCSRFToken(), v.h.ExpectedCSRFToken()) {
		return 0, ErrTokenMismatch
	}
	if k, ok := v.h.(ProofKinder); ok {
		return k.CSRFProofKind(), nil
	}
	return PassedCSRFChecks, nil
}

// Equal compares a submitted token against the expected one in constant time.
// An empty expected token never matches.
func Equal(submitted, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}
