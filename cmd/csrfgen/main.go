// Command csrfgen generates csrfguard.TokenSource implementations
// for struct types marked with the //csrfguard:token directive.
//
//	csrfgen ./internal/forms
//	csrfgen --type LoginForm --type LogoutForm ./internal/forms
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/romshark/csrfguard/internal/tokenfield"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

type options struct {
	typeNames []string
	pick      bool
	dryRun    bool
	noColor   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "csrfgen [package]",
		Short: "Generate CSRF token sources for marked form types",
		Long: `Generate csrfguard.TokenSource implementations for struct types
marked with ` + tokenfield.Directive + `.

The token field is inserted into marked structs that don't declare it yet
and the SubmittedCSRFToken methods are written to ` + tokenfield.GeneratedFileName + `.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgPath := "."
			if len(args) > 0 {
				pkgPath = args[0]
			}
			err := run(cmd.OutOrStdout(), pkgPath, opts)
			if err != nil {
				errorColor.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&opts.typeNames, "type", "t", nil,
		"Generate only for the given marked types (repeatable)")
	cmd.Flags().BoolVar(&opts.pick, "pick", false,
		"Pick the types interactively")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false,
		"Print the generated code instead of writing files")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false,
		"Disable colored output")
	return cmd
}

func run(out io.Writer, pkgPath string, opts options) error {
	pkg, errs := tokenfield.Parse(pkgPath)
	if errs.Len() > 0 {
		for pos, err := range errs.All() {
			if pos.Filename != "" {
				errorColor.Fprintf(out, "%s:%d:%d: ", pos.Filename, pos.Line, pos.Column)
			}
			fmt.Fprintln(out, err)
		}
		return &errs
	}
	if len(pkg.Targets) < 1 {
		return tokenfield.ErrNoTargets
	}

	typeNames := opts.typeNames
	if opts.pick && len(typeNames) < 1 {
		var err error
		if typeNames, err = pickTypes(pkg); err != nil {
			return err
		}
	}
	targets, err := tokenfield.Select(pkg, typeNames)
	if err != nil {
		return err
	}

	if _, ok, err := tokenfield.CheckModule(pkg.Dir); err == nil && !ok {
		warningColor.Fprintf(out, "warning: module doesn't require %s\n", tokenfield.ModulePath)
	}
	for _, t := range targets {
		if t.TagMissing {
			infoColor.Fprintf(out, "tagging %s.%s form:%q\n",
				t.TypeName, t.FieldName, t.FormKey)
		}
	}

	files, err := tokenfield.InsertFields(targets)
	if err != nil {
		return err
	}
	var gen bytes.Buffer
	if err := tokenfield.Generate(&gen, pkg.Name, generated(pkg, targets)); err != nil {
		return err
	}
	genPath := filepath.Join(pkg.Dir, tokenfield.GeneratedFileName)

	if opts.dryRun {
		for _, filename := range slices.Sorted(maps.Keys(files)) {
			infoColor.Fprintf(out, "// %s\n", filename)
			_, _ = out.Write(files[filename])
		}
		infoColor.Fprintf(out, "// %s\n", genPath)
		_, _ = out.Write(gen.Bytes())
		return nil
	}

	for filename, src := range files {
		if err := writeFile(filename, src); err != nil {
			return err
		}
		infoColor.Fprintf(out, "updated %s\n", filename)
	}
	if err := writeFile(genPath, gen.Bytes()); err != nil {
		return err
	}
	successColor.Fprintf(out, "generated %s (%d types)\n", genPath, len(targets))
	return nil
}

// generated returns the selected targets plus all unselected ones
// that already declare the token field, so a partial run doesn't drop
// methods generated earlier.
func generated(pkg *tokenfield.Package, selected []*tokenfield.Target) []*tokenfield.Target {
	var out []*tokenfield.Target
	for _, t := range pkg.Targets {
		if t.FieldExists || slices.Contains(selected, t) {
			out = append(out, t)
		}
	}
	return out
}

func pickTypes(pkg *tokenfield.Package) ([]string, error) {
	names := make([]string, len(pkg.Targets))
	for i, t := range pkg.Targets {
		names[i] = t.TypeName
	}
	var picked []string
	err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Types to generate for").
			Options(huh.NewOptions(names...)...).
			Value(&picked),
	)).Run()
	if err != nil {
		return nil, err
	}
	if len(picked) < 1 {
		return nil, errors.New("no types picked")
	}
	return picked, nil
}

func writeFile(filename string, src []byte) error {
	fi, err := os.Stat(filename)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = fi.Mode().Perm()
	}
	return os.WriteFile(filename, src, mode)
}
