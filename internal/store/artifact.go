package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iconidentify/reelgrabba/internal/config"
	"github.com/iconidentify/reelgrabba/internal/domain"
)

const (
	// markerFilename holds the artifact's expiry as RFC3339. Its presence
	// is the readiness signal: the reclaimer trusts nothing else, and a
	// directory without one is never swept on its own.
	markerFilename  = "expiry_timestamp.txt"
	captionFilename = "caption.txt"
)

// Transcoder normalizes a video file in place.
type Transcoder interface {
	Normalize(ctx context.Context, inputPath string) error
}

// ArtifactStore materializes fetched videos under one directory per
// shortcode and stamps each with an expiry marker.
type ArtifactStore struct {
	cfg        config.StorageConfig
	baseURL    string
	transcoder Transcoder
	logger     *slog.Logger

	now func() time.Time
}

// NewArtifactStore creates a store rooted at cfg.Root.
func NewArtifactStore(cfg config.StorageConfig, baseURL string, transcoder Transcoder, logger *slog.Logger) *ArtifactStore {
	return &ArtifactStore{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		transcoder: transcoder,
		logger:     logger,
		now:        time.Now,
	}
}

// Put persists a fetched post: raw video, in-place normalization,
// caption, then the expiry marker last. Writing the marker after the
// transcode succeeds is what keeps half-written artifacts invisible.
// A prior artifact for the same shortcode is overwritten.
func (s *ArtifactStore) Put(ctx context.Context, shortcode domain.Shortcode, video []byte, caption string) error {
	dir := s.dir(shortcode)

	if err := os.RemoveAll(dir); err != nil {
		return domain.NewRetrievalError(shortcode, "store", domain.KindUnexpected, err)
	}

	videoName := s.VideoFilename(shortcode)
	if err := s.writeFile(dir, videoName, video); err != nil {
		return domain.NewRetrievalError(shortcode, "store", domain.KindUnexpected, err)
	}

	if err := s.transcoder.Normalize(ctx, filepath.Join(dir, videoName)); err != nil {
		// Stamp a short TTL so the reclaimer sweeps the raw leftovers.
		// No success marker is ever written on this path.
		if merr := s.writeMarker(dir, s.now().Add(s.cfg.FailedTTL)); merr != nil {
			s.logger.Warn("could not stamp failed artifact", "shortcode", shortcode, "error", merr)
		}
		return domain.NewRetrievalError(shortcode, "transcode", domain.KindTranscodeFailed,
			fmt.Errorf("%w: %w", domain.ErrTranscodeFailed, err))
	}

	if caption != "" {
		if err := s.writeFile(dir, captionFilename, []byte(caption)); err != nil {
			return domain.NewRetrievalError(shortcode, "store", domain.KindUnexpected, err)
		}
	}

	if err := s.writeMarker(dir, s.now().Add(s.cfg.ArtifactTTL)); err != nil {
		return domain.NewRetrievalError(shortcode, "store", domain.KindUnexpected, err)
	}

	return nil
}

// PlaybackURL constructs the public URL for a stored artifact. Pure
// construction; existence is not checked.
func (s *ArtifactStore) PlaybackURL(shortcode domain.Shortcode) string {
	return fmt.Sprintf("%s/downloads/%s/%s", s.baseURL, shortcode, s.VideoFilename(shortcode))
}

// VideoFilename returns the on-disk name of the post's video file.
func (s *ArtifactStore) VideoFilename(shortcode domain.Shortcode) string {
	return shortcode.String() + ".mp4"
}

func (s *ArtifactStore) dir(shortcode domain.Shortcode) string {
	return filepath.Join(s.cfg.Root, shortcode.String())
}

// writeFile writes one artifact file, recreating the directory and
// retrying once if a concurrent sweep deleted it mid-write.
func (s *ArtifactStore) writeFile(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	for attempt := 0; ; attempt++ {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
		err := os.WriteFile(path, data, 0644)
		if err == nil {
			return nil
		}
		if attempt == 0 && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("write %s: %w", name, err)
	}
}

func (s *ArtifactStore) writeMarker(dir string, expiry time.Time) error {
	return s.writeFile(dir, markerFilename, []byte(expiry.Format(time.RFC3339)))
}
