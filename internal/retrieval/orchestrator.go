package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/reelgrabba/internal/config"
	"github.com/iconidentify/reelgrabba/internal/domain"
	"github.com/iconidentify/reelgrabba/internal/fetch"
	"github.com/iconidentify/reelgrabba/internal/proxypool"
	"github.com/iconidentify/reelgrabba/internal/repository"
)

// Result is the playback descriptor for a completed retrieval.
type Result struct {
	Shortcode      domain.Shortcode
	PlayURL        string
	Title          string
	AuthorUsername string
}

// ProxyPool supplies egress identities for fetch attempts.
type ProxyPool interface {
	Select() *proxypool.Proxy
	UserAgent() string
}

// Artifacts persists fetched posts and constructs playback URLs.
type Artifacts interface {
	Put(ctx context.Context, shortcode domain.Shortcode, video []byte, caption string) error
	PlaybackURL(shortcode domain.Shortcode) string
}

// History records finished retrievals. May be nil.
type History interface {
	Record(ctx context.Context, rec repository.Retrieval) error
}

// Orchestrator drives one logical "fetch this post" request through up
// to MaxAttempts fetch attempts, rotating egress identities between
// them. Each attempt is fail-fast; the only retry loop is here, which
// is what makes proxy rotation effective against throttling.
type Orchestrator struct {
	pool    ProxyPool
	fetcher fetch.Fetcher
	store   Artifacts
	history History
	cfg     config.FetchConfig
	logger  *slog.Logger

	// sleep and backoff are replaceable in tests.
	sleep   func(ctx context.Context, d time.Duration) error
	backoff func() time.Duration
}

// NewOrchestrator wires the retrieval loop.
func NewOrchestrator(
	pool ProxyPool,
	fetcher fetch.Fetcher,
	store Artifacts,
	history History,
	cfg config.FetchConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		pool:    pool,
		fetcher: fetcher,
		store:   store,
		history: history,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
		// Randomized short backoff between retryable attempts.
		backoff: func() time.Duration {
			return time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
		},
	}
}

// Retrieve fetches the post behind postURL, stores its video, and
// returns the playback descriptor.
func (o *Orchestrator) Retrieve(ctx context.Context, postURL string) (*Result, error) {
	start := time.Now()

	shortcode, err := domain.ExtractShortcode(postURL)
	if err != nil {
		return nil, domain.NewRetrievalError("", "parse", domain.KindInvalidInput,
			fmt.Errorf("%w: %s", err, postURL))
	}

	logger := o.logger.With("retrieval_id", uuid.NewString()[:8], "shortcode", shortcode)
	logger.Info("retrieval started", "url", postURL)

	fetched, attempts, err := o.fetchWithRotation(ctx, shortcode, logger)
	if err != nil {
		o.record(ctx, shortcode, domain.KindOf(err), attempts, start, logger)
		return nil, err
	}

	if err := o.store.Put(ctx, shortcode, fetched.Video, fetched.Caption); err != nil {
		o.record(ctx, shortcode, domain.KindOf(err), attempts, start, logger)
		return nil, err
	}

	o.record(ctx, shortcode, "", attempts, start, logger)
	logger.Info("retrieval complete", "attempts", attempts, "duration", time.Since(start))

	return &Result{
		Shortcode:      shortcode,
		PlayURL:        o.store.PlaybackURL(shortcode),
		Title:          fetched.Caption,
		AuthorUsername: fetched.AuthorUsername,
	}, nil
}

// fetchWithRotation runs the attempt loop. It returns the number of
// attempts actually made alongside the outcome.
func (o *Orchestrator) fetchWithRotation(ctx context.Context, shortcode domain.Shortcode, logger *slog.Logger) (*fetch.Result, int, error) {
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		proxy := o.pool.Select()
		userAgent := o.pool.UserAgent()

		proxyAddr := "direct"
		if proxy != nil {
			proxyAddr = proxy.Addr()
		}
		logger.Info("fetch attempt", "attempt", attempt, "max", o.cfg.MaxAttempts, "proxy", proxyAddr)

		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		result, err := o.fetcher.Fetch(attemptCtx, shortcode, proxy, userAgent)
		cancel()

		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if kind, fatal := classify(err); fatal {
			logger.Warn("fetch failed, not retryable", "attempt", attempt, "error", err)
			return nil, attempt, domain.NewRetrievalError(shortcode, "fetch", kind, err)
		}

		logger.Warn("fetch attempt failed", "attempt", attempt, "error", err)

		if attempt == o.cfg.MaxAttempts {
			break
		}
		if err := o.sleep(ctx, o.backoff()); err != nil {
			return nil, attempt, domain.NewRetrievalError(shortcode, "fetch", domain.KindUnexpected, err)
		}
	}

	kind, sentinel := exhaustion(lastErr)
	return nil, o.cfg.MaxAttempts, domain.NewRetrievalError(shortcode, "fetch", kind,
		fmt.Errorf("%w after %d attempts: %w", sentinel, o.cfg.MaxAttempts, lastErr))
}

// classify is the retry policy: connection-class failures (network
// errors, attempt timeouts, 401/403/429) are recovered by rotating the
// egress identity; everything else surfaces immediately.
func classify(err error) (kind domain.Kind, fatal bool) {
	var fe *fetch.Error
	if !errors.As(err, &fe) {
		return domain.KindUnexpected, true
	}

	switch fe.Kind {
	case fetch.KindConnection, fetch.KindForbidden:
		return "", false
	case fetch.KindNotFound:
		return domain.KindUpstreamRejected, true
	default:
		return domain.KindUnexpected, true
	}
}

// exhaustion picks the caller-visible failure after the attempt budget
// is spent on connection-class errors only: a throttling signal on the
// last failure reads as rate-limiting, anything else as the upstream
// being unreachable.
func exhaustion(lastErr error) (domain.Kind, error) {
	var fe *fetch.Error
	if errors.As(lastErr, &fe) && fe.Throttled() {
		return domain.KindRateLimited, domain.ErrRateLimited
	}
	return domain.KindUpstreamUnavailable, domain.ErrUpstreamUnavailable
}

// record persists the retrieval outcome. Best effort: history failures
// are logged, never surfaced.
func (o *Orchestrator) record(ctx context.Context, shortcode domain.Shortcode, kind domain.Kind, attempts int, start time.Time, logger *slog.Logger) {
	if o.history == nil {
		return
	}

	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}

	rec := repository.Retrieval{
		Shortcode:  shortcode.String(),
		Outcome:    outcome,
		Attempts:   attempts,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := o.history.Record(ctx, rec); err != nil {
		logger.Warn("could not record retrieval", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
