package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/iconidentify/reelgrabba/internal/config"
	"github.com/iconidentify/reelgrabba/internal/domain"
	"github.com/iconidentify/reelgrabba/internal/fetch"
	"github.com/iconidentify/reelgrabba/internal/proxypool"
	"github.com/iconidentify/reelgrabba/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakePool hands out a fixed proxy (or nil) and counts selections.
type fakePool struct {
	proxy   *proxypool.Proxy
	selects int
}

func (f *fakePool) Select() *proxypool.Proxy {
	f.selects++
	return f.proxy
}

func (f *fakePool) UserAgent() string { return "test-ua" }

// scriptedFetcher fails with errs[i] on attempt i+1 and succeeds once
// the script is exhausted.
type scriptedFetcher struct {
	errs    []error
	result  *fetch.Result
	calls   int
	proxies []*proxypool.Proxy
}

func (f *scriptedFetcher) Fetch(ctx context.Context, shortcode domain.Shortcode, proxy *proxypool.Proxy, userAgent string) (*fetch.Result, error) {
	f.proxies = append(f.proxies, proxy)
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return f.result, nil
}

type fakeArtifacts struct {
	putErr    error
	putCalled bool
	caption   string
}

func (f *fakeArtifacts) Put(ctx context.Context, shortcode domain.Shortcode, video []byte, caption string) error {
	f.putCalled = true
	f.caption = caption
	return f.putErr
}

func (f *fakeArtifacts) PlaybackURL(shortcode domain.Shortcode) string {
	return "http://localhost:8000/downloads/" + shortcode.String() + "/" + shortcode.String() + ".mp4"
}

type fakeHistory struct {
	records []repository.Retrieval
}

func (f *fakeHistory) Record(ctx context.Context, rec repository.Retrieval) error {
	f.records = append(f.records, rec)
	return nil
}

func newTestOrchestrator(pool ProxyPool, fetcher fetch.Fetcher, store Artifacts, history History) *Orchestrator {
	o := NewOrchestrator(pool, fetcher, store, history, config.FetchConfig{
		AttemptTimeout: time.Second,
		MaxAttempts:    20,
	}, testLogger())
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	o.backoff = func() time.Duration { return 0 }
	return o
}

func connErr() error {
	return &fetch.Error{Kind: fetch.KindConnection, Err: errors.New("connection refused")}
}

func throttleErr(status int) error {
	return &fetch.Error{Kind: fetch.KindForbidden, StatusCode: status, Err: errors.New("throttled")}
}

func TestRetrieve_InvalidURL(t *testing.T) {
	fetcher := &scriptedFetcher{}
	o := newTestOrchestrator(&fakePool{}, fetcher, &fakeArtifacts{}, nil)

	_, err := o.Retrieve(context.Background(), "https://example.com/watch?v=123")
	if err == nil {
		t.Fatal("expected error for non-instagram URL")
	}
	if got := domain.KindOf(err); got != domain.KindInvalidInput {
		t.Errorf("KindOf = %q, want %q", got, domain.KindInvalidInput)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times for invalid URL", fetcher.calls)
	}
}

func TestRetrieve_DirectConnectSuccess(t *testing.T) {
	// Empty pool: every attempt runs with proxy = nil.
	pool := &fakePool{proxy: nil}
	fetcher := &scriptedFetcher{result: &fetch.Result{
		Video:          []byte("video"),
		Caption:        "a title",
		AuthorUsername: "someuser",
	}}
	store := &fakeArtifacts{}
	history := &fakeHistory{}
	o := newTestOrchestrator(pool, fetcher, store, history)

	result, err := o.Retrieve(context.Background(), "https://instagram.com/reel/ABC123/?x=1")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if result.Shortcode != "ABC123" {
		t.Errorf("Shortcode = %q", result.Shortcode)
	}
	if want := "http://localhost:8000/downloads/ABC123/ABC123.mp4"; result.PlayURL != want {
		t.Errorf("PlayURL = %q, want %q", result.PlayURL, want)
	}
	if result.Title != "a title" || result.AuthorUsername != "someuser" {
		t.Errorf("result = %+v", result)
	}
	if len(fetcher.proxies) != 1 || fetcher.proxies[0] != nil {
		t.Errorf("expected one direct-connect attempt, got %v", fetcher.proxies)
	}
	if !store.putCalled {
		t.Error("artifact store not invoked")
	}
	if len(history.records) != 1 || history.records[0].Outcome != "success" {
		t.Errorf("history = %+v", history.records)
	}
}

func TestRetrieve_RotatesAfterForbidden(t *testing.T) {
	pool := &fakePool{proxy: &proxypool.Proxy{Host: "10.0.0.1", Port: "8080"}}
	fetcher := &scriptedFetcher{
		errs:   []error{throttleErr(403)},
		result: &fetch.Result{Video: []byte("video")},
	}
	o := newTestOrchestrator(pool, fetcher, &fakeArtifacts{}, nil)

	_, err := o.Retrieve(context.Background(), "https://instagram.com/p/ABC123/")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	// A throttle on attempt 1 triggers an immediate rotated retry, not
	// 20 forbidden attempts before giving up.
	if fetcher.calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", fetcher.calls)
	}
	if pool.selects != 2 {
		t.Errorf("pool selections = %d, want one per attempt", pool.selects)
	}
}

func TestRetrieve_NotFoundAbortsImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{
		errs: []error{&fetch.Error{Kind: fetch.KindNotFound, StatusCode: 404, Err: errors.New("gone")}},
	}
	store := &fakeArtifacts{}
	o := newTestOrchestrator(&fakePool{}, fetcher, store, nil)

	_, err := o.Retrieve(context.Background(), "https://instagram.com/p/ABC123/")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := domain.KindOf(err); got != domain.KindUpstreamRejected {
		t.Errorf("KindOf = %q, want %q", got, domain.KindUpstreamRejected)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1 (no retry on rejection)", fetcher.calls)
	}
	if store.putCalled {
		t.Error("artifact store should not be invoked on failure")
	}
}

func TestRetrieve_UnclassifiedAborts(t *testing.T) {
	fetcher := &scriptedFetcher{
		errs: []error{&fetch.Error{Kind: fetch.KindOther, StatusCode: 500, Err: errors.New("weird")}},
	}
	o := newTestOrchestrator(&fakePool{}, fetcher, &fakeArtifacts{}, nil)

	_, err := o.Retrieve(context.Background(), "https://instagram.com/p/ABC123/")
	if got := domain.KindOf(err); got != domain.KindUnexpected {
		t.Errorf("KindOf = %q, want %q", got, domain.KindUnexpected)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", fetcher.calls)
	}
}

func TestRetrieve_ExhaustionRateLimited(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = connErr()
	}
	errs[19] = throttleErr(429) // last failure carries the throttle marker

	fetcher := &scriptedFetcher{errs: errs}
	history := &fakeHistory{}
	o := newTestOrchestrator(&fakePool{}, fetcher, &fakeArtifacts{}, history)

	_, err := o.Retrieve(context.Background(), "https://instagram.com/p/ABC123/")
	if got := domain.KindOf(err); got != domain.KindRateLimited {
		t.Errorf("KindOf = %q, want %q", got, domain.KindRateLimited)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Error("error should wrap ErrRateLimited")
	}
	if fetcher.calls != 20 {
		t.Errorf("fetcher calls = %d, want 20", fetcher.calls)
	}
	if len(history.records) != 1 || history.records[0].Attempts != 20 {
		t.Errorf("history = %+v", history.records)
	}
}

func TestRetrieve_ExhaustionUnavailable(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = connErr()
	}

	fetcher := &scriptedFetcher{errs: errs}
	o := newTestOrchestrator(&fakePool{}, fetcher, &fakeArtifacts{}, nil)

	_, err := o.Retrieve(context.Background(), "https://instagram.com/p/ABC123/")
	if got := domain.KindOf(err); got != domain.KindUpstreamUnavailable {
		t.Errorf("KindOf = %q, want %q", got, domain.KindUpstreamUnavailable)
	}
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Error("error should wrap ErrUpstreamUnavailable")
	}
}

func TestRetrieve_StoreFailurePropagates(t *testing.T) {
	fetcher := &scriptedFetcher{result: &fetch.Result{Video: []byte("v")}}
	store := &fakeArtifacts{
		putErr: domain.NewRetrievalError("ABC123", "transcode", domain.KindTranscodeFailed, domain.ErrTranscodeFailed),
	}
	history := &fakeHistory{}
	o := newTestOrchestrator(&fakePool{}, fetcher, store, history)

	_, err := o.Retrieve(context.Background(), "https://instagram.com/p/ABC123/")
	if got := domain.KindOf(err); got != domain.KindTranscodeFailed {
		t.Errorf("KindOf = %q, want %q", got, domain.KindTranscodeFailed)
	}
	if len(history.records) != 1 || history.records[0].Outcome != string(domain.KindTranscodeFailed) {
		t.Errorf("history = %+v", history.records)
	}
}

func TestRetrieve_CancelledDuringBackoff(t *testing.T) {
	fetcher := &scriptedFetcher{errs: []error{connErr(), connErr(), connErr()}}
	o := newTestOrchestrator(&fakePool{}, fetcher, &fakeArtifacts{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := o.Retrieve(ctx, "https://instagram.com/p/ABC123/")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1 (loop abandoned on cancel)", fetcher.calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantFatal bool
		wantKind  domain.Kind
	}{
		{"connection", connErr(), false, ""},
		{"forbidden 403", throttleErr(403), false, ""},
		{"forbidden 429", throttleErr(429), false, ""},
		{"not found", &fetch.Error{Kind: fetch.KindNotFound, Err: errors.New("x")}, true, domain.KindUpstreamRejected},
		{"other", &fetch.Error{Kind: fetch.KindOther, Err: errors.New("x")}, true, domain.KindUnexpected},
		{"non-fetch error", errors.New("boom"), true, domain.KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, fatal := classify(tt.err)
			if fatal != tt.wantFatal {
				t.Errorf("fatal = %v, want %v", fatal, tt.wantFatal)
			}
			if fatal && kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}
