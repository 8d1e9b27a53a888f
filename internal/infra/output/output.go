// Package output writes transcription artifacts.
//
// Layout, relative to the output root:
//
//	<rel_dir>/<safe_stem>/result.txt
//	<rel_dir>/<safe_stem>/result.json
//	<rel_dir>/<safe_stem>/meta.json
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	TextFile = "result.txt"
	DataFile = "result.json"
	MetaFile = "meta.json"

	maxStemLen = 180
)

var unsafeStem = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeStem returns a filesystem-safe stem of name without its extension.
func SafeStem(name string) string {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Trim(unsafeStem.ReplaceAllString(stem, "_"), "._-")
	if stem == "" {
		stem = "file"
	}
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	return stem
}

// Meta is written to meta.json for every successful run.
type Meta struct {
	SourcePath   string    `json:"source_path"`
	RelPath      string    `json:"rel_path"`
	SHA256       string    `json:"sha256,omitempty"`
	Pipeline     string    `json:"pipeline"`
	RunTag       string    `json:"run_tag,omitempty"`
	Prompt       string    `json:"prompt"`
	Engine       string    `json:"engine"`
	DocID        int64     `json:"doc_id"`
	RunID        int64     `json:"run_id"`
	AttemptNo    int       `json:"attempt_no"`
	InvocationID string    `json:"invocation_id"`
	DurationMS   int64     `json:"duration_ms"`
	WrittenAt    time.Time `json:"written_at"`
}

// Artifact is everything written for one document.
type Artifact struct {
	RelPath string
	Text    string
	Data    map[string]any // nil skips result.json
	Meta    Meta
}

// Writer persists artifacts and returns the directory they were written to.
type Writer interface {
	Write(ctx context.Context, a Artifact) (string, error)
}

// Mirror receives a copy of every written file.
type Mirror interface {
	Put(ctx context.Context, name string, content []byte) error
}

// LocalWriter writes artifacts under Root and copies them to any mirrors.
// Mirror failures are logged, never returned.
type LocalWriter struct {
	root    string
	mirrors []Mirror
	log     *slog.Logger
}

// NewLocalWriter creates a writer rooted at root.
func NewLocalWriter(root string, mirrors ...Mirror) (*LocalWriter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}
	return &LocalWriter{root: abs, mirrors: mirrors, log: slog.Default()}, nil
}

// Dir returns the artifact directory for a relative input path.
func (w *LocalWriter) Dir(relPath string) string {
	return filepath.Join(w.root, filepath.Dir(relPath), SafeStem(relPath))
}

type file struct {
	name string
	body []byte
}

// Write writes result.txt, result.json when data is present, and meta.json.
func (w *LocalWriter) Write(ctx context.Context, a Artifact) (string, error) {
	dir := w.Dir(a.RelPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	files := []file{{TextFile, []byte(a.Text)}}

	if a.Data != nil {
		body, err := json.MarshalIndent(a.Data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode result data: %w", err)
		}
		files = append(files, file{DataFile, body})
	}

	meta, err := json.MarshalIndent(a.Meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode meta: %w", err)
	}
	files = append(files, file{MetaFile, meta})

	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.body, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	rel, err := filepath.Rel(w.root, dir)
	if err != nil {
		rel = filepath.Base(dir)
	}
	for _, m := range w.mirrors {
		for _, f := range files {
			name := filepath.ToSlash(filepath.Join(rel, f.name))
			if err := m.Put(ctx, name, f.body); err != nil {
				w.log.Warn("Failed to mirror output", "object", name, "error", err)
			}
		}
	}

	return dir, nil
}
