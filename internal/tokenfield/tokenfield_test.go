package tokenfield_test

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/go-playground/form/v4"
	"github.com/stretchr/testify/require"

	"github.com/romshark/csrfguard/internal/tokenfield"
)

func parse(t *testing.T, fixtureName string) (*tokenfield.Package, tokenfield.Errors) {
	t.Helper()
	return tokenfield.Parse(filepath.Join("testdata", fixtureName))
}

func requireParseErrors(t *testing.T, got tokenfield.Errors, want ...error) {
	t.Helper()

	wantLines := make([]string, 0, len(want))
	for i, w := range want {
		wantLines = append(wantLines, fmt.Sprintf("%2d) %s", i, errLabel(w)))
	}
	gotLines := make([]string, got.Len())
	for i := range got.Len() {
		pos, err := got.Entry(i)
		gotLines[i] = fmt.Sprintf("%2d) %s:%d:%d %s", i,
			pos.Filename, pos.Line, pos.Column, errLabel(err))
	}

	if got.Len() != len(want) {
		require.Failf(t, "unexpected number of errors",
			"want=%d got=%d\n\nEXPECTED:\n%s\n\nACTUAL:\n%s\n",
			len(want), got.Len(),
			strings.Join(wantLines, "\n"),
			strings.Join(gotLines, "\n"),
		)
		return
	}

	var mismatches []string
	for i, w := range want {
		_, a := got.Entry(i)
		if !errors.Is(a, w) {
			mismatches = append(mismatches, fmt.Sprintf("%2d) want Is(%s) got %s",
				i, errLabel(w), errLabel(a)))
		}
	}
	if len(mismatches) > 0 {
		require.Failf(t, "error mismatch",
			"\nMISMATCHES:\n%s\n\nEXPECTED:\n%s\n\nACTUAL:\n%s\n",
			strings.Join(mismatches, "\n"),
			strings.Join(wantLines, "\n"),
			strings.Join(gotLines, "\n"),
		)
	}
}

func errLabel(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T: %q", err, err.Error())
}

func findTarget(pkg *tokenfield.Package, name string) *tokenfield.Target {
	for _, t := range pkg.Targets {
		if t.TypeName == name {
			return t
		}
	}
	return nil
}

func TestParseBasic(t *testing.T) {
	pkg, errs := parse(t, "basic")
	requireParseErrors(t, errs /*none*/)
	require.NotNil(t, pkg)
	require.Equal(t, "basic", pkg.Name)

	names := make([]string, len(pkg.Targets))
	for i, tg := range pkg.Targets {
		names[i] = tg.TypeName
	}
	require.Equal(t, []string{
		"CustomKeyForm", "ExistingField", "ExistingName",
		"Generic", "Grouped", "LoginForm", "TaggedName",
	}, names)
	require.Equal(t, []string{
		"CustomKeyForm", "ExistingField", "ExistingName", "Generic",
		"Grouped", "LoginForm", "NotMarked", "Other", "TaggedName", "Unmarked",
	}, pkg.StructTypes)

	tests := map[string]struct {
		formKey, fieldName      string
		fieldExists, tagMissing bool
		receiver                string
	}{
		"LoginForm":     {"csrf_token", "CSRFToken", false, false, "LoginForm"},
		"CustomKeyForm": {"my_csrf_token", "MyCSRFToken", false, false, "CustomKeyForm"},
		"ExistingField": {"csrf_token", "Token", true, false, "ExistingField"},
		"ExistingName":  {"csrf_token", "CSRFToken", true, true, "ExistingName"},
		"Generic":       {"csrf_token", "CSRFToken", false, false, "Generic[T, U]"},
		"Grouped":       {"csrf_token", "CSRFToken", false, false, "Grouped"},
		"TaggedName":    {"csrf_token", "CSRFToken", true, true, "TaggedName"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tg := findTarget(pkg, name)
			require.NotNil(t, tg)
			require.Equal(t, tt.formKey, tg.FormKey)
			require.Equal(t, tt.fieldName, tg.FieldName)
			require.Equal(t, tt.fieldExists, tg.FieldExists)
			require.Equal(t, tt.tagMissing, tg.TagMissing)
			require.Equal(t, tt.receiver, tg.Receiver())
			require.Equal(t, "forms.go", tg.Pos.Filename)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, errs := parse(t, "invalid")
	requireParseErrors(t, errs,
		tokenfield.ErrDirectiveArgs,
		tokenfield.ErrFormKeyInvalid,
		tokenfield.ErrNotStruct,
		tokenfield.ErrFieldType,
		tokenfield.ErrFieldAmbiguous,
		tokenfield.ErrFieldTag,
		tokenfield.ErrMethodExists,
	)
	pos, _ := errs.Entry(0)
	require.Equal(t, "forms.go", pos.Filename)
	require.Equal(t, 4, pos.Line)
}

func TestParseNotFound(t *testing.T) {
	_, errs := parse(t, "does_not_exist")
	require.NotZero(t, errs.Len())
}

func TestGenerate(t *testing.T) {
	pkg, errs := parse(t, "basic")
	requireParseErrors(t, errs /*none*/)

	var buf bytes.Buffer
	require.NoError(t, tokenfield.Generate(&buf, pkg.Name, pkg.Targets))
	require.Equal(t, `// Code generated by csrfgen. DO NOT EDIT.

package basic

// SubmittedCSRFToken returns the token submitted in form field "my_csrf_token".
func (v CustomKeyForm) SubmittedCSRFToken() string { return v.MyCSRFToken }

// SubmittedCSRFToken returns the token submitted in form field "csrf_token".
func (v ExistingField) SubmittedCSRFToken() string { return v.Token }

// SubmittedCSRFToken returns the token submitted in form field "csrf_token".
func (v ExistingName) SubmittedCSRFToken() string { return v.CSRFToken }

// SubmittedCSRFToken returns the token submitted in form field "csrf_token".
func (v Generic[T, U]) SubmittedCSRFToken() string { return v.CSRFToken }

// SubmittedCSRFToken returns the token submitted in form field "csrf_token".
func (v Grouped) SubmittedCSRFToken() string { return v.CSRFToken }

// SubmittedCSRFToken returns the token submitted in form field "csrf_token".
func (v LoginForm) SubmittedCSRFToken() string { return v.CSRFToken }

// SubmittedCSRFToken returns the token submitted in form field "csrf_token".
func (v TaggedName) SubmittedCSRFToken() string { return v.CSRFToken }
`, buf.String())
}

func TestInsertFields(t *testing.T) {
	pkg, errs := parse(t, "basic")
	requireParseErrors(t, errs /*none*/)

	files, err := tokenfield.InsertFields(pkg.Targets)
	require.NoError(t, err)
	require.Len(t, files, 1)

	var src string
	for filename, b := range files {
		require.Equal(t, "forms.go", filepath.Base(filename))
		src = string(b)
	}
	require.Equal(t, 4, strings.Count(src, "CSRFToken string `form:\"csrf_token\"`"))
	require.Contains(t, src, "MyCSRFToken string `form:\"my_csrf_token\"`")
	// Fields matched by name get the form tag.
	require.NotContains(t, src, "\tCSRFToken string\n}")
	require.Contains(t, src, "CSRFToken string `json:\"token\" form:\"csrf_token\"`")
	// Fields matched by tag are left alone.
	require.Contains(t, src, "Token string `form:\"csrf_token,omitempty\"`")
}

// TestInsertFieldsDecodable checks that form decoding fills
// the token fields reused by name once they're tagged.
func TestInsertFieldsDecodable(t *testing.T) {
	pkg, errs := parse(t, "basic")
	requireParseErrors(t, errs /*none*/)

	files, err := tokenfield.InsertFields(pkg.Targets)
	require.NoError(t, err)
	require.Len(t, files, 1)

	original, err := os.ReadFile(filepath.Join("testdata", "basic", "forms.go"))
	require.NoError(t, err)
	var inserted []byte
	for _, b := range files {
		inserted = b
	}

	values := url.Values{"csrf_token": {"abc123"}}
	for _, typeName := range []string{"ExistingName", "TaggedName"} {
		t.Run(typeName, func(t *testing.T) {
			require.Empty(t, decodeToken(t, original, typeName, values),
				"untagged field decoded by form key")
			require.Equal(t, "abc123", decodeToken(t, inserted, typeName, values))
		})
	}
}

// decodeToken decodes values into a struct carrying the CSRFToken field
// of typeName as declared in src and returns the decoded token.
func decodeToken(t *testing.T, src []byte, typeName string, values url.Values) string {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "forms.go", src, 0)
	require.NoError(t, err)

	var tag string
	ast.Inspect(f, func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok || ts.Name.Name != typeName {
			return true
		}
		for _, field := range ts.Type.(*ast.StructType).Fields.List {
			if len(field.Names) == 1 && field.Names[0].Name == "CSRFToken" && field.Tag != nil {
				tag, err = strconv.Unquote(field.Tag.Value)
				require.NoError(t, err)
			}
		}
		return false
	})

	typ := reflect.StructOf([]reflect.StructField{{
		Name: "CSRFToken",
		Type: reflect.TypeFor[string](),
		Tag:  reflect.StructTag(tag),
	}})
	v := reflect.New(typ)
	require.NoError(t, form.NewDecoder().Decode(v.Interface(), values))
	return v.Elem().Field(0).String()
}

// TestRoundTrip writes inserted fields and generated code into a copy
// of the fixture and checks that the result parses cleanly.
func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join("testdata", "basic", "forms.go"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forms.go"), src, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"),
		[]byte("module example.com/roundtrip\n\ngo 1.24\n"), 0o644))

	for range 2 {
		pkg, errs := tokenfield.Parse(dir)
		requireParseErrors(t, errs /*none*/)

		files, err := tokenfield.InsertFields(pkg.Targets)
		require.NoError(t, err)
		for filename, b := range files {
			require.NoError(t, os.WriteFile(filename, b, 0o644))
		}

		var buf bytes.Buffer
		require.NoError(t, tokenfield.Generate(&buf, pkg.Name, pkg.Targets))
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, tokenfield.GeneratedFileName), buf.Bytes(), 0o644))
	}

	pkg, errs := tokenfield.Parse(dir)
	requireParseErrors(t, errs /*none*/)
	for _, tg := range pkg.Targets {
		require.True(t, tg.FieldExists, tg.TypeName)
	}
}
