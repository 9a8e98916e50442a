package tokenfield

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

var initialisms = map[string]string{
	"api":  "API",
	"csrf": "CSRF",
	"html": "HTML",
	"http": "HTTP",
	"id":   "ID",
	"json": "JSON",
	"url":  "URL",
	"xsrf": "XSRF",
}

// ValidateFormKey checks that key can be used as a top-level form key
// and in a form struct tag.
func ValidateFormKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrFormKeyInvalid)
	}
	for i, r := range key {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
		case i > 0 && (r == '_' || r == '-' || (r >= '0' && r <= '9')):
		default:
			return fmt.Errorf("%w: %q", ErrFormKeyInvalid, key)
		}
	}
	return nil
}

// FieldName returns the Go field name for a form key:
// csrf_token becomes CSRFToken and my-csrf-token becomes MyCSRFToken.
func FieldName(formKey string) string {
	var b strings.Builder
	for w := range strings.FieldsFuncSeq(formKey, func(r rune) bool {
		return r == '_' || r == '-'
	}) {
		if i, ok := initialisms[strings.ToLower(w)]; ok {
			b.WriteString(i)
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(w[1:])
	}
	return b.String()
}

// FormTagValue extracts the value from a `form:"value"` struct tag,
// stripping options like ",omitempty". tag may be a Go string literal
// as found in the syntax tree.
func FormTagValue(tag string) string {
	if unquoted, err := strconv.Unquote(tag); err == nil {
		tag = unquoted
	}
	v, _, _ := strings.Cut(reflect.StructTag(tag).Get("form"), ",")
	return v
}

// Suggest returns the candidates closest to name, best match first.
func Suggest(name string, candidates []string) []string {
	ranks := fuzzy.RankFindNormalizedFold(name, candidates)
	if len(ranks) < 1 {
		// Not a subsequence of any candidate, fall back to edit distance
		// to catch typos like LoginFrom.
		maxDist := max(2, len(name)/3)
		for i, c := range candidates {
			d := fuzzy.LevenshteinDistance(strings.ToLower(name), strings.ToLower(c))
			if d <= maxDist {
				ranks = append(ranks, fuzzy.Rank{
					Source: name, Target: c, Distance: d, OriginalIndex: i,
				})
			}
		}
	}
	slices.SortStableFunc(ranks, func(a, b fuzzy.Rank) int {
		if a.Distance != b.Distance {
			return a.Distance - b.Distance
		}
		return strings.Compare(a.Target, b.Target)
	})
	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Target)
	}
	return out
}

// Select returns the targets with the given type names.
// Unknown names are reported with suggestions.
func Select(pkg *Package, typeNames []string) ([]*Target, error) {
	if len(typeNames) < 1 {
		return pkg.Targets, nil
	}
	marked := make([]string, len(pkg.Targets))
	for i, t := range pkg.Targets {
		marked[i] = t.TypeName
	}
	var selected []*Target
	for _, name := range typeNames {
		i := slices.Index(marked, name)
		if i < 0 {
			err := fmt.Errorf("%w %q", ErrUnknownType, name)
			if s := Suggest(name, marked); len(s) > 0 {
				err = fmt.Errorf("%w, did you mean %q?", err, s[0])
			} else if slices.Contains(pkg.StructTypes, name) {
				err = fmt.Errorf("%w, %s isn't marked with %s", err, name, Directive)
			}
			return nil, err
		}
		if !slices.Contains(selected, pkg.Targets[i]) {
			selected = append(selected, pkg.Targets[i])
		}
	}
	return selected, nil
}
