package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestPredicates(t *testing.T) {
	cases := []struct {
		path            string
		internal, infra bool
	}{
		{"labcore/internal/core", true, false},
		{"labcore/internal/infra/persistence/sqlite", true, true},
		{"labcore/internal/infra/blob/s3", true, true},
		{"labcore/pkg/domain", false, false},
		{"example.com/other/internal/infra/x", false, false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.path); got != c.internal {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.path, got, c.internal)
		}
		if got := InfraImportForbidden(c.path); got != c.infra {
			t.Fatalf("InfraImportForbidden(%q)=%v want %v", c.path, got, c.infra)
		}
	}
}

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestDirectImportViolations(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"a.go":      "package tmp\nimport _ \"labcore/internal/infra/blob/fs\"\n",
		"b.go":      "package tmp\nimport \"fmt\"\nvar _ = fmt.Sprint\n",
		"a_test.go": "package tmp\nimport _ \"labcore/internal/infra/blob/s3\"\n",
	})
	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "labcore/internal/infra/blob/fs (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := writePackage(t, map[string]string{"bad.go": "package"})
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestTransitiveViolationsUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nlabcore/pkg/domain\nlabcore/internal/core\n\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", InternalImportForbidden)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(viols) != 1 || viols[0] != "labcore/internal/core" {
		t.Fatalf("unexpected violations %v", viols)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), fmt.Errorf("exit status 1") }
	if _, out, err := transitiveDependencyViolations("./...", InternalImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure, got %v %q", err, out)
	}
}

func TestFailIfViolations(t *testing.T) {
	var rec recordingFatal
	failIfViolations(&rec, "direct imports", "layering", nil)
	if rec.msg != "" {
		t.Fatalf("unexpected failure %q", rec.msg)
	}
	failIfViolations(&rec, "direct imports", "layering", []string{"x"})
	if rec.msg != "forbidden direct imports detected (layering):\nx" {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}
