package object

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the artifact store: byte blobs addressed by key.
type ObjectStore interface {
	// Save stores r under "<ownerId>/<fileName>" and returns the key.
	Save(ctx context.Context, ownerID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
	// DeletePrefix removes every object whose key starts with prefix. A raw
	// artifact and its derived copies share the raw key as prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ReadAll opens key and reads it fully.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}
