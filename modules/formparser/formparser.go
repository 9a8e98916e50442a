// Package formparser provides a csrfguard.Parser for
// application/x-www-form-urlencoded request bodies.
//
// Forms are decoded using the `form` struct tags and validated using
// the `validate` struct tags (github.com/go-playground/validator).
package formparser

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"

	"github.com/romshark/csrfguard"
)

var (
	ErrMissingTokenField = errors.New("missing csrf token field")
	ErrDecoding          = errors.New("decoding form")
	ErrValidation        = errors.New("validating form")
)

var (
	decoder  = form.NewDecoder()
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Config configures the parser.
type Config struct {
	// TokenField is the name of the form field carrying the CSRF token.
	// Defaults to csrfguard.DefaultFieldName.
	TokenField string
}

// New returns a parser decoding the request body into F.
//
// Malformed bodies fail with status 400, a missing token field,
// undecodable values and validation errors fail with status 422.
func New[F csrfguard.TokenSource](conf Config) csrfguard.Parser[F] {
	field := conf.TokenField
	if field == "" {
		field = csrfguard.DefaultFieldName
	}
	return func(r *http.Request) (f F, err error) {
		if err := r.ParseForm(); err != nil {
			return f, csrfguard.Fail(http.StatusBadRequest,
				fmt.Errorf("parsing body: %w", err))
		}
		// Only the body counts, a token in the URL query is ignored.
		if !r.PostForm.Has(field) {
			return f, csrfguard.Fail(http.StatusUnprocessableEntity,
				fmt.Errorf("%w: %q", ErrMissingTokenField, field))
		}
		if err := decoder.Decode(&f, r.PostForm); err != nil {
			return f, csrfguard.Fail(http.StatusUnprocessableEntity,
				fmt.Errorf("%w: %w", ErrDecoding, err))
		}
		if err := validate.Struct(f); err != nil {
			var errInvalid *validator.InvalidValidationError
			if errors.As(err, &errInvalid) {
				// F isn't a struct, nothing to validate.
				return f, nil
			}
			return f, csrfguard.Fail(http.StatusUnprocessableEntity,
				fmt.Errorf("%w: %w", ErrValidation, err))
		}
		return f, nil
	}
}
