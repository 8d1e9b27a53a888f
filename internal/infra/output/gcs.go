package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSConfig holds the optional object storage mirror settings.
type GCSConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Overwrite bool   `yaml:"overwrite"`
}

// GCSMirror copies artifacts into a Cloud Storage bucket.
type GCSMirror struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	prefix    string
	overwrite bool
}

// NewGCSMirror connects using application default credentials.
func NewGCSMirror(ctx context.Context, cfg GCSConfig) (*GCSMirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSMirror{
		client:    client,
		bucket:    client.Bucket(cfg.Bucket),
		prefix:    cfg.Prefix,
		overwrite: cfg.Overwrite,
	}, nil
}

// Put uploads content under the configured prefix. Without overwrite an
// existing object is left untouched.
func (m *GCSMirror) Put(ctx context.Context, name string, content []byte) error {
	objectName := path.Join(m.prefix, name)
	obj := m.bucket.Object(objectName)
	if !m.overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	writer := obj.NewWriter(ctx)
	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if alreadyExists(err) {
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if alreadyExists(err) {
			slog.Debug("Skipping existing object", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (m *GCSMirror) Close() error {
	return m.client.Close()
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
