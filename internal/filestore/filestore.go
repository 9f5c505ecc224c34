package filestore

import (
	"io"
)

// FileStore stores and retrieves image blobs by content hash.
type FileStore interface {
	// Save stores the content under the given hash. It is idempotent: a
	// hash that already exists is left untouched.
	Save(r io.Reader, hash string) error

	// Get retrieves the content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
