package fetch

import (
	"context"

	"github.com/iconidentify/reelgrabba/internal/domain"
	"github.com/iconidentify/reelgrabba/internal/proxypool"
)

// Result is one successfully fetched post: the raw video bytes plus the
// metadata served alongside them.
type Result struct {
	Video          []byte
	Caption        string
	AuthorUsername string
}

// Kind classifies a fetch failure for the orchestrator's retry decision.
type Kind string

const (
	// KindConnection covers network-level failures and attempt timeouts.
	KindConnection Kind = "connection"
	// KindForbidden covers 401/403/429 throttling signals. Retryable via
	// proxy rotation, and remembered as the rate-limit marker.
	KindForbidden Kind = "forbidden"
	// KindNotFound covers missing, private, or video-less posts.
	KindNotFound Kind = "not_found"
	// KindOther covers everything else the provider reports.
	KindOther Kind = "other"
)

// Error is a classified fetch failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return "fetch: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Throttled reports whether the failure carried a rate-limit signal.
func (e *Error) Throttled() bool {
	switch e.StatusCode {
	case 401, 403, 429:
		return true
	}
	return false
}

// Fetcher retrieves a post's video through a given egress identity.
// Implementations must make exactly one connection attempt per call:
// retry and proxy rotation belong to the orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, shortcode domain.Shortcode, proxy *proxypool.Proxy, userAgent string) (*Result, error)
}
