// Package testutil holds test helpers that keep the domain model free of
// storage drivers and transport code.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// stdlibDriverPrefixes are standard library packages owned by the adapters.
var stdlibDriverPrefixes = []string{
	"database/sql",
	"net/http",
}

// externalDriverPrefixes are third-party modules owned by the adapters.
var externalDriverPrefixes = []string{
	"github.com/jackc/pgx",
	"modernc.org/sqlite",
	"go.mongodb.org/mongo-driver",
	"github.com/aws/aws-sdk-go-v2",
	"github.com/prometheus/client_golang",
}

// AssertNoTransitiveDependency runs `go list -deps` on pattern and fails the
// test when any dependency satisfies forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, out, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, string(out))
	}
	failIf(t, "forbidden transitive dependency", reason, viols)
}

// AssertNoDirectImports scans the non-test .go files in dir and fails when an
// import satisfies forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIf(t, "forbidden direct imports", reason, viols)
}

// DriverImportForbidden matches database drivers, cloud SDKs and HTTP transport.
func DriverImportForbidden(path string) bool {
	return hasPrefix(path, stdlibDriverPrefixes) || hasPrefix(path, externalDriverPrefixes)
}

// ExternalDriverForbidden matches third-party drivers only. Use it for
// transitive checks, where libraries such as decimal legitimately pull in
// database/sql/driver.
func ExternalDriverForbidden(path string) bool {
	return hasPrefix(path, externalDriverPrefixes)
}

func hasPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// Any combines predicates.
func Any(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

var goListDeps = func(pattern string) ([]byte, error) {
	cmd := exec.Command("go", "list", "-deps", pattern)
	return cmd.CombinedOutput()
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, []byte, error) {
	out, err := goListDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols, out, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIf(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
