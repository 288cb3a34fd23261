package store

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iconidentify/reelgrabba/internal/config"
)

// Reclaimer deletes artifact directories whose expiry has elapsed.
// Directories without a readable marker are left alone: readiness and
// reclaimability are both carried by the marker file, and absence means
// "not mine to delete".
type Reclaimer struct {
	root     string
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// NewReclaimer creates a reclaimer over the artifact root.
func NewReclaimer(cfg config.StorageConfig, logger *slog.Logger) *Reclaimer {
	return &Reclaimer{
		root:     cfg.Root,
		interval: cfg.SweepInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is
// cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	r.SweepOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reclaimer stopping")
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans the artifact root and removes every directory whose
// marker timestamp is strictly in the past. Failures on one directory
// never abort the rest of the sweep.
func (r *Reclaimer) SweepOnce(ctx context.Context) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Error("sweep: read artifact root", "error", err)
		}
		return
	}

	now := r.now()
	swept := 0

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(r.root, entry.Name())
		expiry, ok := r.readMarker(dir)
		if !ok {
			continue
		}

		if !now.After(expiry) {
			continue
		}

		// A Put for the same shortcode may recreate the directory between
		// the marker read above and this delete; anything it writes
		// carries its own marker and is reclaimed on a later pass.
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Error("sweep: delete artifact", "dir", entry.Name(), "error", err)
			continue
		}
		r.logger.Info("reclaimed expired artifact", "shortcode", entry.Name(), "expired_at", expiry)
		swept++
	}

	if swept > 0 {
		r.logger.Info("sweep complete", "reclaimed", swept)
	}
}

// readMarker loads and parses a directory's expiry marker. A directory
// deleted out from under the sweep reads as "nothing to do".
func (r *Reclaimer) readMarker(dir string) (time.Time, bool) {
	data, err := os.ReadFile(filepath.Join(dir, markerFilename))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("sweep: read marker", "dir", dir, "error", err)
		}
		return time.Time{}, false
	}

	expiry, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		r.logger.Warn("sweep: unparsable marker, skipping", "dir", dir, "error", err)
		return time.Time{}, false
	}

	return expiry, true
}
