package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func relPaths(t *testing.T, root string, opts Options) []string {
	t.Helper()
	files, err := Scan(root, opts)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	var out []string
	for _, f := range files {
		out = append(out, filepath.ToSlash(f.RelPath))
	}
	return out
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.PNG"), "b")
	writeFile(t, filepath.Join(root, "a.jpg"), "a")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")
	writeFile(t, filepath.Join(root, "C.webp"), "c")
	writeFile(t, filepath.Join(root, "sub", "d.tif"), "d")
	writeFile(t, filepath.Join(root, ".hidden", "e.png"), "e")

	if diff := cmp.Diff([]string{"a.jpg", "b.PNG", "C.webp"}, relPaths(t, root, Options{})); diff != "" {
		t.Errorf("flat scan mismatch (-want +got):\n%s", diff)
	}

	want := []string{"a.jpg", "b.PNG", "C.webp", "sub/d.tif"}
	if diff := cmp.Diff(want, relPaths(t, root, Options{Recursive: true})); diff != "" {
		t.Errorf("recursive scan mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"a.jpg", "b.PNG"}, relPaths(t, root, Options{Limit: 2})); diff != "" {
		t.Errorf("limited scan mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"notes.txt"}, relPaths(t, root, Options{Extensions: []string{"TXT"}})); diff != "" {
		t.Errorf("extension filter mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_MissingDir(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope"), Options{}); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.png")
	writeFile(t, path, "hello")

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing.png")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
