package cas

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/checksum"
)

const blobPrefix = "blob:"

// LevelDB is an embedded development provider storing content-addressed
// blobs in a single LevelDB database, for deployments that prefer one
// file tree over a blob directory.
type LevelDB struct {
	db   *leveldb.DB
	path string
}

func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cas: open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db, path: path}, nil
}

func (l *LevelDB) Name() string { return "leveldb" }

func (l *LevelDB) IsConfigured() bool { return l.db != nil }

func (l *LevelDB) LocatorURL(locator string) string {
	return "leveldb://" + locator
}

func (l *LevelDB) Upload(_ context.Context, data []byte, _ string, _ map[string]string) (string, error) {
	locator := checksum.Sum(data)
	if err := l.db.Put([]byte(blobPrefix+locator), data, nil); err != nil {
		return "", fmt.Errorf("cas: put blob: %w", err)
	}
	return locator, nil
}

func (l *LevelDB) Download(_ context.Context, locator string) ([]byte, error) {
	if !locatorRe.MatchString(locator) {
		return nil, fmt.Errorf("cas: malformed locator %q: %w", locator, apperr.ErrInvalid)
	}
	data, err := l.db.Get([]byte(blobPrefix+locator), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("cas: %s: %w", locator, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("cas: get blob: %w", err)
	}
	return data, nil
}

// Close releases the database; the run loop calls it on shutdown.
func (l *LevelDB) Close() error {
	return l.db.Close()
}
