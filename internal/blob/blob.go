// Package blob abstracts artifact storage behind a small key-value file
// store. Keys are slash-separated paths like
// "projects/{id}/results/inference_{uid}.tif"; backends map them onto a
// local directory tree or an S3 bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the interface all storage backends implement. Put and Get move
// whole files because the inference tooling reads and writes rasters on
// disk.
type Store interface {
	// Put uploads the file at localPath under the given key, replacing
	// any existing object.
	Put(ctx context.Context, localPath, key string) error

	// Get downloads the object at key to localPath, creating parent
	// directories as needed. Returns ErrNotFound if the object does not
	// exist.
	Get(ctx context.Context, key, localPath string) error

	// URL returns a URL under which the object can be fetched. Backends
	// decide the form: a file:// URL for local storage, a presigned HTTP
	// URL for S3. Returns ErrNotFound if the object does not exist.
	URL(ctx context.Context, key string) (string, error)

	// Delete removes the object at key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all objects under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)
}

// validateKey rejects keys that would escape the storage root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("storage key cannot be empty")
	}
	clean := path.Clean("/" + key)
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") || clean == "/" {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// contentTypeFor maps a key's extension to the content type stored with
// the object.
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".json", ".geojson":
		return "application/geo+json"
	case ".ndjson":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
