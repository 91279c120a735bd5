// Package validation enforces the import boundaries between the domain model,
// the application core and the storage or transport adapters.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Error represents an architecture violation found in code.
type Error struct {
	File    string
	Line    int
	Message string
	Code    string
}

func (e Error) String() string {
	return fmt.Sprintf("%s:%d: %s (%s)", e.File, e.Line, e.Message, e.Code)
}

// ImportRule forbids a package, or a subset of its files, from importing any
// path under the listed prefixes.
type ImportRule struct {
	Name      string
	Package   string
	Files     []string
	Forbidden []string
}

// driverImports are the adapter-side packages the pure layers must never see.
var driverImports = []string{
	"database/sql",
	"net/http",
	"github.com/jackc/pgx",
	"modernc.org/sqlite",
	"go.mongodb.org/mongo-driver",
	"github.com/aws/aws-sdk-go-v2",
	"github.com/prometheus/client_golang",
}

// DefaultImportRules returns the boundary rules for the given module path.
// The domain package stays free of internal packages and drivers. The
// orchestration files of the core talk to storage through ports only.
func DefaultImportRules(module string) []ImportRule {
	domainForbidden := append([]string{module + "/internal"}, driverImports...)
	coreForbidden := append([]string{module + "/internal/infra"}, driverImports...)
	return []ImportRule{
		{
			Name:      "domain-isolation",
			Package:   module + "/pkg/domain",
			Forbidden: domainForbidden,
		},
		{
			Name:    "core-ports-only",
			Package: module + "/internal/core",
			Files: []string{
				"resolver.go",
				"unit_of_work.go",
				"recipes.go",
				"lines.go",
				"days.go",
				"ingredients.go",
			},
			Forbidden: coreForbidden,
		},
	}
}

// CheckImports loads the packages named by the rules from dir and reports every
// forbidden import. Test files are never inspected.
func CheckImports(dir string, rules []ImportRule) ([]Error, error) {
	if len(rules) == 0 {
		return nil, errors.New("no import rules provided")
	}
	patterns := make([]string, 0, len(rules))
	byPackage := make(map[string][]ImportRule, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule.Package) == "" {
			return nil, fmt.Errorf("import rule %q has no package", rule.Name)
		}
		if _, seen := byPackage[rule.Package]; !seen {
			patterns = append(patterns, rule.Package)
		}
		byPackage[rule.Package] = append(byPackage[rule.Package], rule)
	}

	cfg := &packages.Config{
		Dir:  dir,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var violations []Error
	found := make(map[string]bool, len(pkgs))
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, fmt.Errorf("load %s: %v", pkg.PkgPath, pkg.Errors[0])
		}
		found[pkg.PkgPath] = true
		for _, rule := range byPackage[pkg.PkgPath] {
			violations = append(violations, checkPackage(pkg, rule)...)
		}
	}
	for _, pattern := range patterns {
		if !found[pattern] {
			return nil, fmt.Errorf("package %s not found under %s", pattern, dir)
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func checkPackage(pkg *packages.Package, rule ImportRule) []Error {
	var errs []Error
	for _, file := range pkg.Syntax {
		pos := pkg.Fset.Position(file.Pos())
		base := filepath.Base(pos.Filename)
		if strings.HasSuffix(base, "_test.go") || !ruleCovers(rule, base) {
			continue
		}
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				continue
			}
			prefix, bad := forbiddenPrefix(path, rule.Forbidden)
			if !bad {
				continue
			}
			impPos := pkg.Fset.Position(imp.Pos())
			errs = append(errs, Error{
				File:    impPos.Filename,
				Line:    impPos.Line,
				Message: fmt.Sprintf("[%s] %s must not import %s", rule.Name, pkg.PkgPath, prefix),
				Code:    path,
			})
		}
	}
	return errs
}

func ruleCovers(rule ImportRule, base string) bool {
	if len(rule.Files) == 0 {
		return true
	}
	for _, name := range rule.Files {
		if name == base {
			return true
		}
	}
	return false
}

func forbiddenPrefix(path string, forbidden []string) (string, bool) {
	for _, prefix := range forbidden {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return prefix, true
		}
	}
	return "", false
}
