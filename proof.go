package csrfguard

import (
	"context"
	"strconv"
	"sync"
)

// Proof certifies that CSRF checks passed for the current request.
// It carries no token material. The zero value is not a proof,
// any other value is. Verifiers may define additional kinds
// (e.g. for step-up checks), consumers that only need "some check passed"
// should use Valid.
type Proof uint8

const (
	_ Proof = iota

	// PassedCSRFChecks is the canonical proof minted by the built-in verifiers.
	PassedCSRFChecks
)

// Valid reports whether p is a proof of any kind.
func (p Proof) Valid() bool { return p != 0 }

func (p Proof) String() string {
	switch p {
	case PassedCSRFChecks:
		return "PassedCSRFChecks"
	case 0:
		return "None"
	}
	return "Proof(" + strconv.Itoa(int(p)) + ")"
}

type ctxKeyRequestState struct{}

// requestState lives for exactly one request.
// The mutex is only there because handlers may spawn goroutines.
type requestState struct {
	lock     sync.Mutex
	proof    Proof
	memo     map[any]any
	consumed map[string]struct{}
	conf     *config
}

// WithRequestState returns ctx with a fresh, empty request state.
// Middleware calls it for every request, use it directly only in tests
// or when not using Middleware.
func WithRequestState(ctx context.Context) context.Context {
	return withRequestState(ctx, &defaultConfig)
}

func withRequestState(ctx context.Context, conf *config) context.Context {
	return context.WithValue(ctx, ctxKeyRequestState{}, &requestState{conf: conf})
}

func stateFrom(ctx context.Context) *requestState {
	s, _ := ctx.Value(ctxKeyRequestState{}).(*requestState)
	return s
}

// publishProof records p in the request state, replacing any earlier proof.
// No-op and ok=false if ctx has no request state.
func publishProof(ctx context.Context, p Proof) (ok bool) {
	s := stateFrom(ctx)
	if s == nil {
		return false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.proof = p
	return true
}

// ProofFromContext returns the proof recorded for the current request, if any.
func ProofFromContext(ctx context.Context) (Proof, bool) {
	s := stateFrom(ctx)
	if s == nil {
		return 0, false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.proof, s.proof.Valid()
}

// RequireProof returns the proof recorded earlier in the current request.
// Returns an error wrapping ErrForward if no check has passed yet,
// the absence of a proof is never treated as a pass.
func RequireProof(ctx context.Context) (Proof, error) {
	p, ok := ProofFromContext(ctx)
	if !ok {
		return 0, ErrForward
	}
	return p, nil
}

// typedKey separates values of different types cached under the same key.
type typedKey[T any] struct{ key any }

// Memoize returns the value cached under key for the current request,
// calling fn to produce it on first use. Errors are cached as well.
// Without request state fn is called every time.
//
// Keys follow the same rules as context keys, use unexported types.
// Values of different types T don't share a cache entry.
func Memoize[T any](ctx context.Context, key any, fn func() (T, error)) (T, error) {
	s := stateFrom(ctx)
	if s == nil {
		return fn()
	}

	type result struct {
		v   T
		err error
	}
	k := typedKey[T]{key: key}

	s.lock.Lock()
	if v, ok := s.memo[k]; ok {
		s.lock.Unlock()
		r := v.(result)
		return r.v, r.err
	}
	s.lock.Unlock()

	// fn may itself call Memoize, don't hold the lock.
	v, err := fn()

	s.lock.Lock()
	defer s.lock.Unlock()
	if r, ok := s.memo[k]; ok {
		// Another goroutine of the same request got there first.
		rr := r.(result)
		return rr.v, rr.err
	}
	if s.memo == nil {
		s.memo = make(map[any]any)
	}
	s.memo[k] = result{v: v, err: err}
	return v, err
}

// ConsumeOnce reports whether this is the first call for key
// in the current request. Always true without request state.
func ConsumeOnce(ctx context.Context, key string) bool {
	s := stateFrom(ctx)
	if s == nil {
		return true
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.consumed[key]; ok {
		return false
	}
	if s.consumed == nil {
		s.consumed = make(map[string]struct{})
	}
	s.consumed[key] = struct{}{}
	return true
}
