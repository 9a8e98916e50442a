// Package csrfguard provides CSRF verification as a reusable protocol
// for net/http request pipelines.
//
// Where a user-supplied token comes from (a form field, the X-CSRF-Token header,
// or anything else implementing TokenSource) is decoupled from how it's validated
// (a Verifier: double-submit cookie, session-bound expected token or custom).
// A successful verification yields a Proof which is published into the
// request state so that sensitive operations further down the request
// (e.g. logout) can require it as a capability.
//
// Form handlers use Protect or ProtectWithGuard, API handlers use CheckHeader.
// Both require the request state installed by Middleware.
package csrfguard

import "net/http"

const (
	// HeaderName is the name of the header CheckHeader reads the token from.
	HeaderName = "X-CSRF-Token"

	// DefaultFieldName is the default name of the form field carrying the token.
	DefaultFieldName = "csrf_token"
)

// TokenSource is anything that carries a CSRF token provided by the user.
// SubmittedCSRFToken performs no validation, it only extracts the raw value.
type TokenSource interface {
	SubmittedCSRFToken() string
}

// HeaderToken is a token sourced from the X-CSRF-Token request header.
type HeaderToken string

var _ TokenSource = HeaderToken("")

func (t HeaderToken) SubmittedCSRFToken() string { return string(t) }

// headerToken returns the token from the X-CSRF-Token header.
// ok=false if the header is absent.
func headerToken(r *http.Request) (t HeaderToken, ok bool) {
	v := r.Header.Values(HeaderName)
	if len(v) < 1 {
		return "", false
	}
	return HeaderToken(v[0]), true
}

// ManualToken_DO_NOT_USE_UNLESS_YOU_ARE_SURE is a token the caller sourced
// by hand from somewhere other than a form or the header.
//
// Use this only when there's no other option, the origin of the string
// is entirely up to the caller and it is easy to pick one an attacker controls.
//
//nolint:revive,staticcheck // The name is meant to be hard to miss.
type ManualToken_DO_NOT_USE_UNLESS_YOU_ARE_SURE string

func (t ManualToken_DO_NOT_USE_UNLESS_YOU_ARE_SURE) SubmittedCSRFToken() string {
	return string(t)
}
