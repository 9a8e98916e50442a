// Package tokenfield finds struct types marked with the csrfguard:token
// directive and generates their csrfguard.TokenSource implementation.
//
// A marked struct gets a string field carrying the submitted token:
//
//	//csrfguard:token
//	type LoginForm struct {
//		Name string `form:"name"`
//	}
//
// A field named after the form key (CSRFToken for csrf_token) or tagged
// form:"<key>" is reused, otherwise one is inserted into the source.
// A field reused by name gets the form tag added since form decoders
// would otherwise match it by its Go name.
package tokenfield

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Directive marks a struct type, optionally followed by the form key.
const Directive = "//csrfguard:token"

// DefaultFormKey is the form key used when the directive names none.
const DefaultFormKey = "csrf_token"

// GeneratedFileName is the name of the file Generate output is written to.
const GeneratedFileName = "csrftoken_gen.go"

// MethodName is the name of the generated method.
const MethodName = "SubmittedCSRFToken"

// Package is a parsed source package.
type Package struct {
	Name string
	Path string
	Dir  string

	// StructTypes are the names of all struct types in the package.
	StructTypes []string

	Targets []*Target
}

// Target is a struct type marked with the directive.
type Target struct {
	TypeName string

	// TypeParams are the names of the type parameters, if any.
	TypeParams []string

	FormKey   string
	FieldName string

	// FieldExists is true if the struct already declares the token field.
	FieldExists bool

	// TagMissing is true if the existing field was matched by name
	// but isn't tagged with the form key. InsertFields adds the tag.
	TagMissing bool

	Pos token.Position

	// Filename is the absolute path of the file declaring the type
	// and closingOffset the byte offset of the closing brace of the struct.
	Filename      string
	closingOffset int

	// tagStart and tagEnd span the tag literal of the existing field,
	// both are the end of its type if it has none.
	tagStart, tagEnd int
	tagQuote         byte
	tag              string
}

// Receiver returns the receiver type expression, e.g. Form[T, U].
func (t *Target) Receiver() string {
	if len(t.TypeParams) < 1 {
		return t.TypeName
	}
	return t.TypeName + "[" + strings.Join(t.TypeParams, ", ") + "]"
}

// Parse loads the package at pkgPath (a directory or an import path)
// and collects all marked struct types.
func Parse(pkgPath string) (pkg *Package, errs Errors) {
	defer errs.sort()

	p, err := loadPackage(pkgPath)
	if err != nil {
		errs.Err(err)
		return nil, errs
	}
	// Type errors are tolerated as long as there's type information,
	// code using the forms as token sources won't compile before generation.
	if len(p.GoFiles) < 1 || p.Types == nil || p.TypesInfo == nil {
		for _, pe := range p.Errors {
			errs.ErrAt(posFromPackagesError(pe), pe)
		}
		errs.Err(ErrMissingTypeInfo)
		return nil, errs
	}

	pkg = &Package{Name: p.Name, Path: p.PkgPath}
	if len(p.GoFiles) > 0 {
		pkg.Dir = filepath.Dir(p.GoFiles[0])
	}

	for _, f := range p.Syntax {
		filename := p.Fset.Position(f.Package).Filename
		generated := filepath.Base(filename) == GeneratedFileName
		for _, decl := range f.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				continue
			}
			for _, spec := range gd.Specs {
				ts := spec.(*ast.TypeSpec)
				if _, ok := ts.Type.(*ast.StructType); ok {
					pkg.StructTypes = append(pkg.StructTypes, ts.Name.Name)
				}
				doc := ts.Doc
				if doc == nil && len(gd.Specs) == 1 {
					doc = gd.Doc
				}
				formKey, found, err := parseDirective(doc)
				if !found {
					continue
				}
				pos := p.Fset.Position(ts.Pos())
				if err != nil {
					errs.ErrAt(pos, fmt.Errorf("%s: %w", ts.Name.Name, err))
					continue
				}
				if generated {
					continue
				}
				t, err := newTarget(p, ts, formKey)
				if err != nil {
					errs.ErrAt(pos, fmt.Errorf("%s: %w", ts.Name.Name, err))
					continue
				}
				t.Pos, t.Filename = pos, filename
				pkg.Targets = append(pkg.Targets, t)
			}
		}
	}
	checkMethods(p, pkg, &errs)

	slices.Sort(pkg.StructTypes)
	slices.SortFunc(pkg.Targets, func(a, b *Target) int {
		return strings.Compare(a.TypeName, b.TypeName)
	})
	return pkg, errs
}

// parseDirective returns the form key if doc contains the directive.
func parseDirective(doc *ast.CommentGroup) (formKey string, found bool, err error) {
	if doc == nil {
		return "", false, nil
	}
	for _, c := range doc.List {
		rest, ok := strings.CutPrefix(c.Text, Directive)
		if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		args := strings.Fields(rest)
		switch len(args) {
		case 0:
			return DefaultFormKey, true, nil
		case 1:
			if err := ValidateFormKey(args[0]); err != nil {
				return "", true, err
			}
			return args[0], true, nil
		}
		return "", true, ErrDirectiveArgs
	}
	return "", false, nil
}

func newTarget(p *packages.Package, ts *ast.TypeSpec, formKey string) (*Target, error) {
	st, ok := ts.Type.(*ast.StructType)
	if !ok {
		return nil, ErrNotStruct
	}
	t := &Target{
		TypeName:      ts.Name.Name,
		FormKey:       formKey,
		FieldName:     FieldName(formKey),
		closingOffset: p.Fset.Position(st.Fields.Closing).Offset,
	}
	if ts.TypeParams != nil {
		for _, f := range ts.TypeParams.List {
			for _, n := range f.Names {
				t.TypeParams = append(t.TypeParams, n.Name)
			}
		}
	}

	var byName, byTag *ast.Field
	for _, f := range st.Fields.List {
		if f.Tag != nil && FormTagValue(f.Tag.Value) == formKey {
			byTag = f
		}
		for _, n := range f.Names {
			if n.Name == t.FieldName {
				byName = f
			}
		}
	}
	field := byTag
	switch {
	case byTag != nil && byName != nil && byTag != byName:
		return nil, ErrFieldAmbiguous
	case byTag == nil && byName != nil:
		field = byName
		t.TagMissing = true
	}
	if field == nil {
		return t, nil
	}
	if len(field.Names) != 1 {
		// Embedded or grouped (A, B string) fields can't be referenced unambiguously.
		return nil, fmt.Errorf("%w: field must be declared on its own", ErrFieldType)
	}
	if !isString(p.TypesInfo.TypeOf(field.Type)) {
		return nil, ErrFieldType
	}
	t.FieldName = field.Names[0].Name
	t.FieldExists = true
	if t.TagMissing {
		if err := t.setTagSpan(p.Fset, field); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// setTagSpan records where the form tag of field is to be added.
func (t *Target) setTagSpan(fset *token.FileSet, field *ast.Field) error {
	if field.Tag == nil {
		t.tagStart = fset.Position(field.Type.End()).Offset
		t.tagEnd = t.tagStart
		return nil
	}
	tag, err := strconv.Unquote(field.Tag.Value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFieldTag, err)
	}
	if _, ok := reflect.StructTag(tag).Lookup("form"); ok {
		// Tagged with another key, adding ours would change the form.
		return fmt.Errorf("%w: %s", ErrFieldTag, field.Tag.Value)
	}
	t.tag = tag
	t.tagQuote = field.Tag.Value[0]
	t.tagStart = fset.Position(field.Tag.Pos()).Offset
	t.tagEnd = fset.Position(field.Tag.End()).Offset
	return nil
}

// taggedLiteral returns the field tag literal with the form key added.
func (t *Target) taggedLiteral() string {
	tag := strings.TrimSpace(t.tag + " form:" + strconv.Quote(t.FormKey))
	if strings.Contains(tag, "`") {
		return strconv.Quote(tag)
	}
	return "`" + tag + "`"
}

func isString(t types.Type) bool {
	b, ok := t.(*types.Basic)
	return ok && b.Kind() == types.String
}

// checkMethods reports targets that already declare the method
// outside of the generated file.
func checkMethods(p *packages.Package, pkg *Package, errs *Errors) {
	for _, t := range pkg.Targets {
		obj := p.Types.Scope().Lookup(t.TypeName)
		if obj == nil {
			continue
		}
		named, ok := obj.Type().(*types.Named)
		if !ok {
			continue
		}
		for m := range named.Methods() {
			if m.Name() != MethodName {
				continue
			}
			pos := p.Fset.Position(m.Pos())
			if filepath.Base(pos.Filename) != GeneratedFileName {
				errs.ErrAt(pos, fmt.Errorf("%s: %w", t.TypeName, ErrMethodExists))
			}
		}
	}
}

func loadPackage(pkgPath string) (*packages.Package, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedImports |
			packages.NeedTypes |
			packages.NeedTypesInfo |
			packages.NeedSyntax |
			packages.NeedModule,
	}

	// Accept either an import path or a directory.
	pattern := pkgPath
	if st, err := os.Stat(pkgPath); err == nil && st.IsDir() {
		cfg.Dir, pattern = pkgPath, "."
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	if len(pkgs) != 1 {
		return nil, fmt.Errorf("expected 1 package, got %d", len(pkgs))
	}
	return pkgs[0], nil
}
