// Package blob implements the content store used for job photos and
// payment-proof images. Content is keyed by path and saved to local disk;
// the returned reference is the URL path under which the server serves it.
package blob

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/convhub/convhub/errors"
)

// Store persists uploaded content under a base directory.
// Saves are idempotent-safe: re-uploading the same key after a failure
// simply overwrites the previous content.
type Store struct {
	baseDir string
}

// NewStore creates a blob store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create blob directory %s", baseDir)
	}
	return &Store{baseDir: baseDir}, nil
}

// Save writes content under key and returns its serving reference.
// Keys use forward slashes, e.g. "payment_proof/<jobID>.jpg". The write
// goes through a temp file and rename so a failed upload never leaves a
// partially written blob behind.
func (s *Store) Save(key string, r io.Reader) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", errors.Wrapf(err, "failed to create temp file for %s", key)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.Wrapf(err, "failed to write blob %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrapf(err, "failed to close blob %s", key)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrapf(err, "failed to finalize blob %s", key)
	}

	return "/files/" + key, nil
}

// Open returns a reader for the content stored under key.
// Returns ErrNotFound if no blob exists for the key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("blob %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open blob %s", key)
	}
	return f, nil
}

// Delete removes the content stored under key. Deleting a missing blob is
// a no-op so cleanup paths can run unconditionally.
func (s *Store) Delete(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete blob %s", key)
	}
	return nil
}

// resolve maps a key onto the base directory, rejecting traversal outside it.
func (s *Store) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("blob key cannot be empty")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.Newf("invalid blob key: %s", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}
