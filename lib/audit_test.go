// Package lib holds cross-package audit tests over the lib/ source tree.
package lib

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// walkSources parses every non-test Go file below root.
func walkSources(t *testing.T, root string, mode parser.Mode, visit func(path string, fset *token.FileSet, file *ast.File)) {
	t.Helper()
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, mode)
		if err != nil {
			t.Errorf("parse %s: %v", path, err)
			return nil
		}
		visit(filepath.ToSlash(path), fset, file)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to walk lib directory: %v", err)
	}
}

// TestAllRandomnessFromCryptoRand verifies that no package uses math/rand.
// Key generation and proxy-mode IDs need a CSPRNG.
func TestAllRandomnessFromCryptoRand(t *testing.T) {
	walkSources(t, ".", parser.ImportsOnly, func(path string, _ *token.FileSet, file *ast.File) {
		for _, imp := range file.Imports {
			p := strings.Trim(imp.Path.Value, `"`)
			if p == "math/rand" || p == "math/rand/v2" {
				t.Errorf("File %s imports %s - use crypto/rand instead", path, p)
			}
		}
	})
}

// TestNoPanicsFromBundleInput verifies that the packages handling untrusted
// bundle bytes only panic in initialization helpers.
func TestNoPanicsFromBundleInput(t *testing.T) {
	untrusted := []string{
		"bundle/parser",
		"bundle/integrity",
		"bundle/identity",
		"bundle/validator",
		"bundle/verifier",
	}
	acceptable := map[string]bool{
		"bundle/parser/format.go":     true, // encoder setup in init
		"bundle/identity/identity.go": true, // MustParse
	}
	for _, dir := range untrusted {
		walkSources(t, dir, 0, func(path string, fset *token.FileSet, file *ast.File) {
			ast.Inspect(file, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}
				if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "panic" && !acceptable[path] {
					t.Errorf("panic call reachable from bundle input at %s", fset.Position(call.Pos()))
				}
				return true
			})
		})
	}
}

// TestPackagesUseSharedLogger verifies that no package logs through the
// standard library logger.
func TestPackagesUseSharedLogger(t *testing.T) {
	walkSources(t, ".", parser.ImportsOnly, func(path string, _ *token.FileSet, file *ast.File) {
		for _, imp := range file.Imports {
			if strings.Trim(imp.Path.Value, `"`) == "log" {
				t.Errorf("File %s imports the standard log package - use github.com/go-i2p/logger", path)
			}
		}
	})
}
