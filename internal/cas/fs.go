package cas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/checksum"
)

// locatorRe matches the content-address form embedded providers emit.
var locatorRe = regexp.MustCompile(`^[a-f0-9]{64}$`)

// FS is an embedded development provider: blobs live as
// content-addressed files under a root directory, fanned out by the
// first two hex characters of the locator. Everything stored is
// ciphertext, so plain files on disk leak nothing.
type FS struct {
	root string
}

// NewFS creates the provider, making the root directory if needed.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cas: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("cas: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

func (f *FS) Name() string { return "fs" }

func (f *FS) IsConfigured() bool { return true }

func (f *FS) LocatorURL(locator string) string {
	return "file://" + filepath.Join(f.root, locator[:2], locator)
}

// blobPath validates the locator shape and maps it to its path. The
// hex-only check doubles as traversal protection.
func (f *FS) blobPath(locator string) (string, error) {
	if !locatorRe.MatchString(locator) {
		return "", fmt.Errorf("cas: malformed locator %q: %w", locator, apperr.ErrInvalid)
	}
	return filepath.Join(f.root, locator[:2], locator), nil
}

// Upload writes the blob under its own digest: tmp file → fsync →
// rename. Re-uploading identical content lands on the same locator.
func (f *FS) Upload(_ context.Context, data []byte, _ string, _ map[string]string) (string, error) {
	locator := checksum.Sum(data)
	path, err := f.blobPath(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("cas: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-tmp-*")
	if err != nil {
		return "", fmt.Errorf("cas: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("cas: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("cas: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("cas: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("cas: rename: %w", err)
	}
	success = true
	return locator, nil
}

func (f *FS) Download(_ context.Context, locator string) ([]byte, error) {
	path, err := f.blobPath(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("cas: %s: %w", locator, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("cas: read %s: %w", locator, err)
	}
	return data, nil
}
