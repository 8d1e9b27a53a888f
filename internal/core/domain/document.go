package domain

import "time"

// Document is a unique source file tracked across invocations.
type Document struct {
	ID           int64     `json:"doc_id"        db:"doc_id"`
	SourcePath   string    `json:"source_path"   db:"source_path"`
	SourceSHA256 string    `json:"source_sha256" db:"source_sha256"`
	Pipeline     string    `json:"pipeline"      db:"pipeline"`
	RunTag       string    `json:"run_tag"       db:"run_tag"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"    db:"updated_at"`
}

// SourceFile is a discovered input image.
type SourceFile struct {
	Path    string // absolute path
	RelPath string // path relative to the input root
	Size    int64
}
