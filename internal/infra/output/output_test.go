package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/googleapi"
)

func TestSafeStem(t *testing.T) {
	tests := map[string]string{
		"scan 01.png":                 "scan_01",
		"dir/\u1ea3nh s\u1ed1 2.jpeg": "nh_s_2",
		"...png":                      "file",
		"--weird--.tif":               "weird",
		"report.v2.final.png":         "report.v2.final",
	}
	for in, want := range tests {
		if got := SafeStem(in); got != want {
			t.Errorf("SafeStem(%q) = %q, want %q", in, got, want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SafeStem(string(long) + ".png"); len(got) != maxStemLen {
		t.Errorf("expected stem truncated to %d, got %d", maxStemLen, len(got))
	}
}

type recordingMirror struct {
	names []string
	fail  bool
}

func (m *recordingMirror) Put(ctx context.Context, name string, content []byte) error {
	m.names = append(m.names, name)
	if m.fail {
		return errors.New("bucket unavailable")
	}
	return nil
}

func TestLocalWriter_Write(t *testing.T) {
	root := t.TempDir()
	mirror := &recordingMirror{fail: true}
	w, err := NewLocalWriter(root, mirror)
	if err != nil {
		t.Fatalf("NewLocalWriter failed: %v", err)
	}

	dir, err := w.Write(context.Background(), Artifact{
		RelPath: filepath.Join("batch", "page 1.png"),
		Text:    "hello",
		Data:    map[string]any{"lines": 1},
		Meta:    Meta{Pipeline: "p", RunID: 9, AttemptNo: 2},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if want := filepath.Join(root, "batch", "page_1"); dir != want {
		t.Errorf("expected dir %s, got %s", want, dir)
	}

	text, _ := os.ReadFile(filepath.Join(dir, TextFile))
	if string(text) != "hello" {
		t.Errorf("unexpected text %q", text)
	}

	var meta Meta
	raw, _ := os.ReadFile(filepath.Join(dir, MetaFile))
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("meta.json invalid: %v", err)
	}
	if meta.RunID != 9 || meta.AttemptNo != 2 {
		t.Errorf("unexpected meta %+v", meta)
	}

	sort.Strings(mirror.names)
	want := []string{"batch/page_1/meta.json", "batch/page_1/result.json", "batch/page_1/result.txt"}
	if diff := cmp.Diff(want, mirror.names); diff != "" {
		t.Errorf("mirror names mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalWriter_NoData(t *testing.T) {
	w, _ := NewLocalWriter(t.TempDir())
	dir, err := w.Write(context.Background(), Artifact{RelPath: "a.png", Text: "x"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DataFile)); !os.IsNotExist(err) {
		t.Errorf("result.json should not exist without data, stat err %v", err)
	}
}

func TestAlreadyExists(t *testing.T) {
	if !alreadyExists(fmt.Errorf("close: %w", &googleapi.Error{Code: 412})) {
		t.Error("412 should be treated as already existing")
	}
	if alreadyExists(&googleapi.Error{Code: 500}) {
		t.Error("500 is not a precondition failure")
	}
	if alreadyExists(errors.New("other")) {
		t.Error("plain errors are not precondition failures")
	}
}
