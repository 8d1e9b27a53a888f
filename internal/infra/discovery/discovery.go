// Package discovery finds input images and hashes their content.
package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vietddude/scribe/internal/core/domain"
)

// DefaultExtensions are the image types accepted when none are configured.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"}

// Options controls a scan.
type Options struct {
	Recursive  bool
	Limit      int      // 0 means no limit
	Extensions []string // lowercase, with leading dot
}

// Scan lists matching files under root in a deterministic order.
// Ordering is by relative path, case-insensitive, and the limit applies after sorting.
// Hidden directories are not entered during a recursive scan.
func Scan(root string, opts Options) ([]domain.SourceFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", root)
	}

	exts := make(map[string]bool)
	list := opts.Extensions
	if len(list) == 0 {
		list = DefaultExtensions
	}
	for _, e := range list {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	var files []domain.SourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, domain.SourceFile{Path: path, RelPath: rel, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := strings.ToLower(files[i].RelPath), strings.ToLower(files[j].RelPath)
		if a == b {
			return files[i].RelPath < files[j].RelPath
		}
		return a < b
	})

	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}
	return files, nil
}

const hashChunk = 1 << 20

// HashFile returns the hex sha256 of the file, reading it in 1 MiB chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashChunk)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
