package csrfguard_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/romshark/csrfguard"
)

type form struct {
	Name  string
	Token string
}

func (f form) SubmittedCSRFToken() string { return f.Token }

// recorder records the order of steps taken by Protect.
type recorder struct{ steps []string }

func (rec *recorder) verifier(expected string) csrfguard.Extractor[csrfguard.Verifier] {
	return func(http.ResponseWriter, *http.Request) (csrfguard.Verifier, error) {
		rec.steps = append(rec.steps, "extract")
		return csrfguard.VerifierFunc(func(
			ctx context.Context, token csrfguard.TokenSource,
		) (csrfguard.Proof, error) {
			rec.steps = append(rec.steps, "verify")
			return csrfguard.KnownExpected(session{csrfToken: expected}).Verify(ctx, token)
		}), nil
	}
}

func (rec *recorder) parser(f form, err error) csrfguard.Parser[form] {
	return func(*http.Request) (form, error) {
		rec.steps = append(rec.steps, "parse")
		return f, err
	}
}

func (rec *recorder) guard(v string, err error) csrfguard.Extractor[string] {
	return func(_ http.ResponseWriter, r *http.Request) (string, error) {
		rec.steps = append(rec.steps, "guard")
		if _, errProof := csrfguard.RequireProof(r.Context()); errProof != nil {
			return "", errors.New("guard ran before proof was published")
		}
		return v, err
	}
}

func failingExtractor(err error) csrfguard.Extractor[csrfguard.Verifier] {
	return func(http.ResponseWriter, *http.Request) (csrfguard.Verifier, error) {
		return nil, err
	}
}

func newRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	return r.WithContext(csrfguard.WithRequestState(r.Context()))
}

func TestProtect(t *testing.T) {
	rec := new(recorder)
	r := newRequest()
	in := form{Name: "Alice", Token: "abc123"}

	p, err := csrfguard.Protect(httptest.NewRecorder(), r,
		rec.verifier("abc123"), rec.parser(in, nil))
	require.NoError(t, err)
	require.Equal(t, []string{"extract", "parse", "verify"}, rec.steps)

	require.Equal(t, in, p.Inner())
	proof, f := p.Parts()
	require.Equal(t, csrfguard.PassedCSRFChecks, proof)
	require.Equal(t, in, f)

	published, err := csrfguard.RequireProof(r.Context())
	require.NoError(t, err)
	require.Equal(t, csrfguard.PassedCSRFChecks, published)
}

func TestProtectErrNoVerifierFound(t *testing.T) {
	errDB := errors.New("database unavailable")

	tests := map[string]struct {
		extractErr error
		wantStatus int
	}{
		"forward": {
			extractErr: fmt.Errorf("%w: no session", csrfguard.ErrForward),
			wantStatus: http.StatusNotFound,
		},
		"failure": {
			extractErr: errDB,
			wantStatus: http.StatusInternalServerError,
		},
		"failure with status": {
			extractErr: csrfguard.Fail(http.StatusUnauthorized, errDB),
			wantStatus: http.StatusUnauthorized,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := new(recorder)
			r := newRequest()
			p, err := csrfguard.Protect(httptest.NewRecorder(), r,
				failingExtractor(tt.extractErr), rec.parser(form{Token: "x"}, nil))
			require.ErrorIs(t, err, csrfguard.ErrNoVerifierFound)
			require.ErrorIs(t, err, tt.extractErr)
			require.Equal(t, tt.wantStatus, csrfguard.StatusCode(err))
			require.Empty(t, rec.steps, "must not parse without a verifier")
			require.Zero(t, p)

			_, err = csrfguard.RequireProof(r.Context())
			require.ErrorIs(t, err, csrfguard.ErrForward)
		})
	}
}

func TestProtectNilVerifier(t *testing.T) {
	_, err := csrfguard.Protect(httptest.NewRecorder(), newRequest(),
		failingExtractor(nil), new(recorder).parser(form{}, nil))
	require.ErrorIs(t, err, csrfguard.ErrNoVerifierFound)
	require.Equal(t, http.StatusInternalServerError, csrfguard.StatusCode(err))
}

type errParse struct{ field string }

func (e *errParse) Error() string { return "bad field " + e.field }

func TestProtectFormParsingError(t *testing.T) {
	tests := map[string]struct {
		parseErr   error
		wantStatus int
	}{
		"default status": {&errParse{field: "name"}, http.StatusUnprocessableEntity},
		"custom status": {
			csrfguard.Fail(http.StatusBadRequest, &errParse{field: "name"}),
			http.StatusBadRequest,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := new(recorder)
			r := newRequest()
			_, err := csrfguard.Protect(httptest.NewRecorder(), r,
				rec.verifier("abc"), rec.parser(form{}, tt.parseErr))

			var errParsing *csrfguard.FormParsingError
			require.ErrorAs(t, err, &errParsing)
			require.Equal(t, tt.parseErr, errParsing.Err, "inner error must be unchanged")

			var inner *errParse
			require.ErrorAs(t, err, &inner)
			require.Equal(t, "name", inner.field)

			require.Equal(t, tt.wantStatus, csrfguard.StatusCode(err))
			require.Equal(t, []string{"extract", "parse"}, rec.steps,
				"must not verify after failed parsing")

			_, err = csrfguard.RequireProof(r.Context())
			require.ErrorIs(t, err, csrfguard.ErrForward)
		})
	}
}

func TestProtectErrTokenVerification(t *testing.T) {
	rec := new(recorder)
	r := newRequest()
	p, err := csrfguard.Protect(httptest.NewRecorder(), r,
		rec.verifier("expected"), rec.parser(form{Name: "Mallory", Token: "forged"}, nil))
	require.ErrorIs(t, err, csrfguard.ErrTokenVerification)
	require.ErrorIs(t, err, csrfguard.ErrTokenMismatch)
	require.Equal(t, http.StatusForbidden, csrfguard.StatusCode(err))
	require.NotContains(t, err.Error(), "expected")
	require.NotContains(t, err.Error(), "forged")

	// The form that failed the check is never handed out.
	require.Zero(t, p.Inner())
	_, err = csrfguard.RequireProof(r.Context())
	require.ErrorIs(t, err, csrfguard.ErrForward)
}

func TestProtectZeroProof(t *testing.T) {
	broken := func(http.ResponseWriter, *http.Request) (csrfguard.Verifier, error) {
		return csrfguard.VerifierFunc(func(
			context.Context, csrfguard.TokenSource,
		) (csrfguard.Proof, error) {
			return 0, nil
		}), nil
	}
	_, err := csrfguard.Protect(httptest.NewRecorder(), newRequest(),
		broken, new(recorder).parser(form{Token: "x"}, nil))
	require.ErrorIs(t, err, csrfguard.ErrTokenVerification)
}

func TestProtectWithoutRequestState(t *testing.T) {
	rec := new(recorder)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	p, err := csrfguard.Protect(httptest.NewRecorder(), r,
		rec.verifier("abc"), rec.parser(form{Token: "abc"}, nil))
	require.NoError(t, err)
	proof, _ := p.Parts()
	require.Equal(t, csrfguard.PassedCSRFChecks, proof)

	// Nowhere to publish the proof to, consumers fail closed.
	_, err = csrfguard.RequireProof(r.Context())
	require.ErrorIs(t, err, csrfguard.ErrForward)
}

func TestProtectLastProofWins(t *testing.T) {
	r := newRequest()

	_, err := csrfguard.Protect(httptest.NewRecorder(), r,
		new(recorder).verifier("a"), new(recorder).parser(form{Token: "a"}, nil))
	require.NoError(t, err)

	stepUpVerifier := func(http.ResponseWriter, *http.Request) (csrfguard.Verifier, error) {
		return csrfguard.KnownExpected(stepUpSession{session{csrfToken: "b"}}), nil
	}
	_, err = csrfguard.Protect(httptest.NewRecorder(), r,
		stepUpVerifier, new(recorder).parser(form{Token: "b"}, nil))
	require.NoError(t, err)

	p, err := csrfguard.RequireProof(r.Context())
	require.NoError(t, err)
	require.Equal(t, stepUp, p)

	// A failed check doesn't revoke an earlier proof.
	_, err = csrfguard.Protect(httptest.NewRecorder(), r,
		new(recorder).verifier("c"), new(recorder).parser(form{Token: "x"}, nil))
	require.Error(t, err)
	p, err = csrfguard.RequireProof(r.Context())
	require.NoError(t, err)
	require.Equal(t, stepUp, p)
}

func TestProtectWithGuard(t *testing.T) {
	rec := new(recorder)
	r := newRequest()
	in := form{Name: "Alice", Token: "abc"}

	p, err := csrfguard.ProtectWithGuard(httptest.NewRecorder(), r,
		rec.verifier("abc"), rec.parser(in, nil), rec.guard("admin", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"extract", "parse", "verify", "guard"}, rec.steps)

	g, f := p.Parts()
	require.Equal(t, "admin", g)
	require.Equal(t, in, f)

	proof, g, f := p.PartsWithProof()
	require.Equal(t, csrfguard.PassedCSRFChecks, proof)
	require.Equal(t, "admin", g)
	require.Equal(t, in, f)
}

func TestProtectWithGuardErr(t *testing.T) {
	errNotAdmin := errors.New("not an admin")

	tests := map[string]struct {
		guardErr   error
		wantErr    error
		wantStatus int
	}{
		"guard failed": {
			guardErr:   errNotAdmin,
			wantErr:    errNotAdmin,
			wantStatus: http.StatusInternalServerError,
		},
		"guard failed with status": {
			guardErr:   csrfguard.Fail(http.StatusUnauthorized, errNotAdmin),
			wantErr:    errNotAdmin,
			wantStatus: http.StatusUnauthorized,
		},
		"guard forwarded": {
			guardErr:   csrfguard.ErrForward,
			wantErr:    csrfguard.ErrGuardForwarded,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := new(recorder)
			p, err := csrfguard.ProtectWithGuard(httptest.NewRecorder(), newRequest(),
				rec.verifier("abc"), rec.parser(form{Token: "abc"}, nil),
				rec.guard("ignored", tt.guardErr))
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantStatus, csrfguard.StatusCode(err))
			_, g, f := p.PartsWithProof()
			require.Zero(t, g)
			require.Zero(t, f)
		})
	}

	t.Run("guard error type", func(t *testing.T) {
		_, err := csrfguard.ProtectWithGuard(httptest.NewRecorder(), newRequest(),
			new(recorder).verifier("abc"), new(recorder).parser(form{Token: "abc"}, nil),
			new(recorder).guard("", errNotAdmin))
		var errGuard *csrfguard.GuardError
		require.ErrorAs(t, err, &errGuard)
		require.Equal(t, errNotAdmin, errGuard.Err)
	})
}

func TestProtectWithGuardCSRFFailure(t *testing.T) {
	rec := new(recorder)
	_, err := csrfguard.ProtectWithGuard(httptest.NewRecorder(), newRequest(),
		rec.verifier("abc"), rec.parser(form{Token: "nope"}, nil),
		rec.guard("admin", nil))
	require.ErrorIs(t, err, csrfguard.ErrTokenVerification)
	require.Equal(t, http.StatusForbidden, csrfguard.StatusCode(err))
	require.NotContains(t, rec.steps, "guard")
}
