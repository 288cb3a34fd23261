package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidPostURL is returned when a post URL does not contain a
	// recognizable shortcode.
	ErrInvalidPostURL = errors.New("invalid instagram post URL")

	// ErrUpstreamRejected is returned when the post is missing, private,
	// or has no video. Not retryable.
	ErrUpstreamRejected = errors.New("post rejected by upstream")

	// ErrRateLimited is returned after the retry budget is exhausted with
	// a throttling signal (401/403/429) on the last attempt.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrUpstreamUnavailable is returned after the retry budget is
	// exhausted on plain connection failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTranscodeFailed is returned when video normalization fails.
	ErrTranscodeFailed = errors.New("transcode failed")

	// ErrNoVideoFile is returned when a downloaded artifact contains no
	// video payload.
	ErrNoVideoFile = errors.New("no video file in download")
)

// Kind classifies a retrieval failure for status-code mapping.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamRejected    Kind = "upstream_rejected"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTranscodeFailed     Kind = "transcode_failed"
	KindUnexpected          Kind = "unexpected"
)

// RetrievalError wraps a failure with its shortcode and classification.
type RetrievalError struct {
	Shortcode Shortcode
	Op        string
	Kind      Kind
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Shortcode != "" {
		return e.Op + " [" + e.Shortcode.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// NewRetrievalError creates a new RetrievalError.
func NewRetrievalError(shortcode Shortcode, op string, kind Kind, err error) *RetrievalError {
	return &RetrievalError{
		Shortcode: shortcode,
		Op:        op,
		Kind:      kind,
		Err:       err,
	}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors map to KindUnexpected.
func KindOf(err error) Kind {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidPostURL):
		return KindInvalidInput
	case errors.Is(err, ErrUpstreamRejected):
		return KindUpstreamRejected
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrTranscodeFailed):
		return KindTranscodeFailed
	}
	return KindUnexpected
}
