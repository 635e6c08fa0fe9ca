package ledger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchCredentials watches the directories holding the chaincode
// backend's MSP credential files and reports availability transitions
// until ctx is cancelled. Operators see the backend gain or lose its
// certificate material without polling; cb (if non-nil) runs after each
// transition with the new state.
//
// Events are debounced because credential rotation tends to arrive as a
// burst of writes and renames.
func WatchCredentials(ctx context.Context, c *Chaincode, logger *slog.Logger, cb func(configured bool)) error {
	dirs := credentialDirs(c.opts.CertFile, c.opts.KeyFile)
	if len(dirs) == 0 {
		logger.Info("credential watcher: no credential paths configured, not starting")
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := 0
	for _, dir := range dirs {
		if addErr := w.Add(dir); addErr != nil {
			logger.Warn("credential watcher: watch failed",
				slog.String("dir", dir), slog.String("error", addErr.Error()))
			continue
		}
		watched++
	}
	if watched == 0 {
		logger.Warn("credential watcher: no watchable credential directories")
		return nil
	}

	last := c.IsConfigured()
	logger.Info("credential watcher: started",
		slog.Int("dirs", watched), slog.Bool("configured", last))

	var probeTimer *time.Timer
	var probeCh <-chan time.Time

	scheduleProbe := func() {
		if probeTimer == nil {
			probeTimer = time.NewTimer(200 * time.Millisecond)
			probeCh = probeTimer.C
		} else {
			probeTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if probeTimer != nil {
				probeTimer.Stop()
			}
			logger.Info("credential watcher: stopped")
			return nil

		case <-probeCh:
			cur := c.IsConfigured()
			if cur == last {
				continue
			}
			last = cur
			if cur {
				logger.Info("ledger credentials became available")
			} else {
				logger.Warn("ledger credentials became unavailable")
			}
			if cb != nil {
				cb(cur)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isCredentialPath(ev.Name, c.opts.CertFile, c.opts.KeyFile) {
				scheduleProbe()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("credential watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// credentialDirs returns the unique existing parent directories of the
// configured credential files.
func credentialDirs(paths ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if seen[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		seen[dir] = true
		out = append(out, dir)
	}
	return out
}

func isCredentialPath(name string, files ...string) bool {
	for _, f := range files {
		if f != "" && filepath.Clean(name) == filepath.Clean(f) {
			return true
		}
	}
	return false
}
