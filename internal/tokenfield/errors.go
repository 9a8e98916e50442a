package tokenfield

import (
	"errors"
	"fmt"
	"go/token"
	"iter"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

var (
	ErrDirectiveArgs   = errors.New("directive accepts at most one form key")
	ErrFormKeyInvalid  = errors.New("invalid form key")
	ErrNotStruct       = errors.New("directive target must be a struct type")
	ErrFieldType       = errors.New("token field must be of type string")
	ErrFieldAmbiguous  = errors.New("token field name and form tag match different fields")
	ErrFieldTag        = errors.New("token field is tagged with another form key")
	ErrMethodExists    = errors.New("type already declares SubmittedCSRFToken")
	ErrNoTargets       = errors.New("no types marked with " + Directive)
	ErrUnknownType     = errors.New("unknown type")
	ErrMissingTypeInfo = errors.New("missing source package type information")
)

func normPos(pos token.Position) token.Position {
	if pos.Filename != "" {
		pos.Filename = filepath.Base(pos.Filename)
	}
	return pos
}

// Best-effort parse for packages.Error.Pos which is typically "file:line:col".
func posFromPackagesError(pe packages.Error) token.Position {
	// Split from the right so Windows drive letters don't break it.
	s := pe.Pos
	if s == "" {
		return token.Position{}
	}
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return normPos(token.Position{Filename: s})
	}
	colStr := s[i+1:]
	s = s[:i]
	j := strings.LastIndexByte(s, ':')
	if j < 0 {
		return normPos(token.Position{Filename: s})
	}
	line, _ := strconv.Atoi(s[j+1:])
	col, _ := strconv.Atoi(colStr)
	return normPos(token.Position{Filename: s[:j], Line: line, Column: col})
}

type errorEntry struct {
	pos token.Position
	seq uint64
	err error
}

func (e errorEntry) Error() string {
	return fmt.Sprintf("at %s:%d:%d: %v",
		e.pos.Filename, e.pos.Line, e.pos.Column, e.err)
}

func (e errorEntry) Unwrap() error { return e.err }

// Errors collects positioned errors found in the source package.
type Errors struct {
	errs []errorEntry
	seq  uint64
}

func (e *Errors) Error() string {
	if l := len(e.errs); l > 0 {
		return fmt.Sprintf("%d error(s) in source package", l)
	}
	return ""
}

func (e *Errors) Err(err error) { e.ErrAt(token.Position{}, err) }

func (e *Errors) ErrAt(pos token.Position, err error) {
	if err == nil {
		return
	}
	e.seq++
	e.errs = append(e.errs, errorEntry{pos: normPos(pos), seq: e.seq, err: err})
}

func (e *Errors) Entry(i int) (token.Position, error) {
	if i >= len(e.errs) {
		return token.Position{}, nil
	}
	en := e.errs[i]
	return en.pos, en.err
}

func (e *Errors) All() iter.Seq2[token.Position, error] {
	return func(yield func(token.Position, error) bool) {
		for _, en := range e.errs {
			if !yield(en.pos, en.err) {
				break
			}
		}
	}
}

func (e *Errors) Len() int { return len(e.errs) }

// sort orders errors by position, errors without position last.
func (e *Errors) sort() {
	slices.SortFunc(e.errs, func(a, b errorEntry) int {
		az, bz := a.pos.Filename == "", b.pos.Filename == ""
		switch {
		case az != bz:
			if az {
				return 1
			}
			return -1
		case a.pos.Filename != b.pos.Filename:
			return strings.Compare(a.pos.Filename, b.pos.Filename)
		case a.pos.Line != b.pos.Line:
			return a.pos.Line - b.pos.Line
		case a.pos.Column != b.pos.Column:
			return a.pos.Column - b.pos.Column
		}
		// Deterministic tie-break.
		return int(a.seq) - int(b.seq)
	})
}
