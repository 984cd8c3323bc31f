package filestore

import (
	"io"
)

// FileStore is a content-addressed blob store: files are stored and
// retrieved by the hex SHA-256 of their content.
type FileStore interface {
	// Save stores the content under its hash. Idempotent: saving a hash
	// that already exists is a no-op. The written bytes are verified
	// against the hash; a mismatch fails the save.
	Save(r io.Reader, hash string) error

	// Get opens the content stored under the hash.
	Get(hash string) (io.ReadCloser, error)
}
