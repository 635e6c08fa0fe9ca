// Package testutil provides shared test helpers for setting up
// integrity services and cross-reference stores.
package testutil

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/tessera-health/ledgerseal/internal/cas"
	"github.com/tessera-health/ledgerseal/internal/crossref"
	"github.com/tessera-health/ledgerseal/internal/crypto"
	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/ledger"
)

// Logger returns a JSON logger that only surfaces errors, keeping test
// output quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Cipher returns a cipher with a fixed key so encrypted fixtures are
// reproducible across test runs.
func Cipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.New(bytes.Repeat([]byte{0x2a}, crypto.KeySize))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// Service builds an integrity service over a memory ledger and a
// temporary filesystem store, both cleaned up with the test.
func Service(t *testing.T, opts ...integrity.Option) *integrity.Service {
	t.Helper()
	store, err := cas.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]integrity.Option{integrity.WithLogger(Logger())}, opts...)
	return integrity.NewService(ledger.NewMemory(), store, Cipher(t), opts...)
}

// CrossRef creates a temporary SQLite cross-reference store that is
// automatically cleaned up.
func CrossRef(t *testing.T) *crossref.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ledgerseal-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	x, err := crossref.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { x.Close() })
	return x
}
