package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDriverImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"database/sql", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"go.mongodb.org/mongo-driver/mongo", true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"net/httptest", false},
		{"github.com/shopspring/decimal", false},
		{"math", false},
	}
	for _, c := range cases {
		if got := DriverImportForbidden(c.in); got != c.want {
			t.Fatalf("DriverImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInternalImportForbidden(t *testing.T) {
	if !InternalImportForbidden("mealcore/internal/core") {
		t.Fatalf("expected internal path to match")
	}
	if InternalImportForbidden("mealcore/pkg/domain") {
		t.Fatalf("pkg path must not match")
	}
	if ExternalDriverForbidden("database/sql/driver") || !ExternalDriverForbidden("modernc.org/sqlite") {
		t.Fatalf("external predicate must ignore the standard library")
	}
	if !Any(InternalImportForbidden, DriverImportForbidden)("modernc.org/sqlite") {
		t.Fatalf("combined predicate should match a driver")
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	test := []byte("package tmp\nimport \"database/sql\"\nvar _ = sql.ErrNoRows")
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), test, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, DriverImportForbidden, "test files are skipped")
}

func TestDirectImportViolationsReportsFile(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"database/sql\"\nvar _ = sql.ErrNoRows")
	if err := os.WriteFile(filepath.Join(dir, "repo.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "database/sql (in repo.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	rec := &recordingFatal{}
	failIf(rec, "forbidden direct imports", "domain", viols)
	if !strings.Contains(rec.msg, "database/sql (in repo.go)") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}

func TestTransitiveDependencyViolationsUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })
	goListDeps = func(string) ([]byte, error) {
		return []byte("math\nmodernc.org/sqlite\n\nmealcore/pkg/domain\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", DriverImportForbidden)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite" {
		t.Fatalf("unexpected violations %v", viols)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations(".", DriverImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure to surface, got %v %q", err, out)
	}
}

func TestFailIfQuietWithoutViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIf(rec, "x", "y", nil)
	if rec.msg != "" {
		t.Fatalf("expected no failure, got %q", rec.msg)
	}
}
