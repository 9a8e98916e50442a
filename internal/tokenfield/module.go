package tokenfield

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// ModulePath is the import path of the module generated code depends on.
const ModulePath = "github.com/romshark/csrfguard"

var ErrNoGoMod = errors.New("go.mod not found")

// CheckModule finds the go.mod governing dir and reports whether
// it requires ModulePath (or is that module).
func CheckModule(dir string) (goModPath string, ok bool, err error) {
	goModPath, err = findGoMod(dir)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return goModPath, false, err
	}
	f, err := modfile.ParseLax(goModPath, data, nil)
	if err != nil {
		return goModPath, false, fmt.Errorf("parsing go.mod: %w", err)
	}
	if f.Module != nil && f.Module.Mod.Path == ModulePath {
		return goModPath, true, nil
	}
	for _, r := range f.Require {
		if r.Mod.Path == ModulePath {
			return goModPath, true, nil
		}
	}
	return goModPath, false, nil
}

func findGoMod(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		p := filepath.Join(dir, "go.mod")
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoGoMod
		}
		dir = parent
	}
}
