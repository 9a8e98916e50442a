package csrfguard

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrForward is returned by extractors that don't apply to a request.
	// Handlers should treat it as "no such route" and never as a pass.
	ErrForward = errors.New("forwarded")

	ErrNoVerifierFound   = errors.New("no csrf verifier found")
	ErrNoHeaderPresent   = errors.New("no csrf header present")
	ErrTokenVerification = errors.New("csrf token verification failed")

	// ErrGuardForwarded is returned by ProtectWithGuard when the guard forwarded
	// after the CSRF checks had already passed.
	ErrGuardForwarded = errors.New("guard forwarded after passing csrf checks")

	// ErrTokenMismatch is returned by verifiers when the submitted token
	// doesn't match the expected one.
	// The message intentionally includes neither value.
	ErrTokenMismatch = errors.New("csrf token did not match")

	// ErrUnknown wraps failures of custom verifiers.
	ErrUnknown = errors.New("unknown csrf verification error")
)

// Unknown wraps err as an ErrUnknown verification error.
func Unknown(err error) error {
	return fmt.Errorf("%w: %w", ErrUnknown, err)
}

// StatusError is an error carrying the HTTP status code it should be answered with.
type StatusError struct {
	Status int
	Err    error
}

// Fail returns a *StatusError.
func Fail(status int, err error) error {
	return &StatusError{Status: status, Err: err}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %v", e.Status, http.StatusText(e.Status), e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// FormParsingError is returned by Protect when the payload couldn't be parsed.
// Err is the error returned by the Parser as is.
type FormParsingError struct {
	Status int
	Err    error
}

func (e *FormParsingError) Error() string {
	return "parsing form: " + e.Err.Error()
}

func (e *FormParsingError) Unwrap() error { return e.Err }

// GuardError is returned by ProtectWithGuard when the guard failed.
type GuardError struct {
	Status int
	Err    error
}

func (e *GuardError) Error() string {
	return "guard failed: " + e.Err.Error()
}

func (e *GuardError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code err should be answered with.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if e, ok := err.(*StatusError); ok {
		return e.Status
	}
	var (
		errParsing *FormParsingError
		errGuard   *GuardError
		errStatus  *StatusError
	)
	switch {
	case errors.As(err, &errParsing):
		return errParsing.Status
	case errors.As(err, &errGuard):
		return errGuard.Status
	case errors.Is(err, ErrGuardForwarded):
		return http.StatusInternalServerError
	case errors.Is(err, ErrTokenVerification),
		errors.Is(err, ErrNoHeaderPresent):
		return http.StatusForbidden
	case errors.Is(err, ErrForward):
		// Nothing else is going to handle a forwarded request.
		return http.StatusNotFound
	case errors.As(err, &errStatus):
		return errStatus.Status
	}
	return http.StatusInternalServerError
}

// Outcomes of a CSRF check, see ResultOf.
const (
	ResultVerified   = "verified"
	ResultNoVerifier = "no_verifier"
	ResultNoHeader   = "no_header"
	ResultParsing    = "parsing"
	ResultMismatch   = "mismatch"
	ResultGuard      = "guard"
	ResultError      = "error"
)

// ResultOf classifies the outcome of a check that failed with err,
// ResultVerified if err is nil.
func ResultOf(err error) string {
	var (
		errParsing *FormParsingError
		errGuard   *GuardError
	)
	switch {
	case err == nil:
		return ResultVerified
	case errors.As(err, &errParsing):
		return ResultParsing
	case errors.As(err, &errGuard), errors.Is(err, ErrGuardForwarded):
		return ResultGuard
	case errors.Is(err, ErrNoVerifierFound):
		return ResultNoVerifier
	case errors.Is(err, ErrNoHeaderPresent):
		return ResultNoHeader
	case errors.Is(err, ErrTokenVerification):
		return ResultMismatch
	}
	return ResultError
}

// statusOf returns the status carried by err or fallback.
func statusOf(err error, fallback int) int {
	if e := (*StatusError)(nil); errors.As(err, &e) {
		return e.Status
	}
	return fallback
}

// WriteError writes the status text of StatusCode(err) to w.
// The error message itself is never written since it may originate
// from a custom verifier.
func WriteError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	http.Error(w, http.StatusText(code), code)
}
