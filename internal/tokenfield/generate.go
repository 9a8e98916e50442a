package tokenfield

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"os"
	"slices"
	"text/template"
)

var genTmpl = template.Must(template.New(GeneratedFileName).Parse(
	`// Code generated by csrfgen. DO NOT EDIT.

package {{.Package}}
{{range .Targets}}
// SubmittedCSRFToken returns the token submitted in form field "{{.FormKey}}".
func (v {{.Receiver}}) SubmittedCSRFToken() string { return v.{{.FieldName}} }
{{end}}`))

// Generate writes the TokenSource implementations of targets,
// the contents of GeneratedFileName.
func Generate(w io.Writer, pkgName string, targets []*Target) error {
	var buf bytes.Buffer
	err := genTmpl.Execute(&buf, struct {
		Package string
		Targets []*Target
	}{Package: pkgName, Targets: targets})
	if err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("formatting generated code: %w", err)
	}
	_, err = w.Write(src)
	return err
}

// InsertFields adds the token field to all targets that don't declare it yet,
// tags fields reused by name with the form key and returns the new contents
// of every modified file.
func InsertFields(targets []*Target) (map[string][]byte, error) {
	byFile := map[string][]edit{}
	for _, t := range targets {
		switch {
		case !t.FieldExists:
			byFile[t.Filename] = append(byFile[t.Filename], edit{
				target: t,
				start:  t.closingOffset,
				end:    t.closingOffset,
				expect: '}',
				text:   fmt.Sprintf("\n%s string `form:%q`\n", t.FieldName, t.FormKey),
			})
		case t.TagMissing:
			text := t.taggedLiteral()
			if t.tagStart == t.tagEnd {
				text = " " + text
			}
			byFile[t.Filename] = append(byFile[t.Filename], edit{
				target: t,
				start:  t.tagStart,
				end:    t.tagEnd,
				expect: t.tagQuote,
				text:   text,
			})
		}
	}

	out := make(map[string][]byte, len(byFile))
	for filename, edits := range byFile {
		src, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		// Apply back to front so earlier offsets stay valid.
		slices.SortFunc(edits, func(a, b edit) int { return b.start - a.start })
		for _, e := range edits {
			if !e.fits(src) {
				return nil, fmt.Errorf("%s: %s: file changed since parsing",
					filename, e.target.TypeName)
			}
			src = slices.Replace(src, e.start, e.end, []byte(e.text)...)
		}
		if src, err = format.Source(src); err != nil {
			return nil, fmt.Errorf("formatting %s: %w", filename, err)
		}
		out[filename] = src
	}
	return out, nil
}

// edit replaces src[start:end] with text.
type edit struct {
	target     *Target
	start, end int
	expect     byte // expected at start, if set
	text       string
}

func (e edit) fits(src []byte) bool {
	if e.start < 0 || e.end < e.start || e.end > len(src) {
		return false
	}
	if e.expect != 0 {
		return e.start < len(src) && src[e.start] == e.expect
	}
	return true
}
