package proxypool

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iconidentify/reelgrabba/internal/config"
)

// Proxy is one egress identity. Immutable once loaded; the pool replaces
// the whole set on refresh rather than mutating entries in place.
type Proxy struct {
	Host     string
	Port     string
	Username string
	Password string
}

// URL renders the proxy in the form the fetch provider consumes.
func (p *Proxy) URL() *url.URL {
	return &url.URL{
		Scheme: "http",
		User:   url.UserPassword(p.Username, p.Password),
		Host:   p.Host + ":" + p.Port,
	}
}

// Addr returns host:port, the key for the usage ledger.
func (p *Proxy) Addr() string {
	return p.Host + ":" + p.Port
}

// userAgents is the fixed pool of browser identity strings. Selection is
// independent of proxy selection.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.101 Safari/537.36",
}

// usageRecord tracks one proxy's selections inside the current rate
// window. Created lazily on first selection, discarded on refresh.
type usageRecord struct {
	lastUsedAt  time.Time
	windowCount int
}

// Pool owns the egress proxy set and its per-proxy usage ledger.
type Pool struct {
	cfg    config.ProxyConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	proxies []Proxy
	usage   map[string]*usageRecord

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates an empty pool. Call Refresh to populate it.
func New(cfg config.ProxyConfig, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
		usage:  make(map[string]*usageRecord),
		now:    time.Now,
	}
}

// Refresh fetches the proxy list from the configured source and replaces
// the pool's set atomically. On fetch failure the existing set is left
// untouched. A pool without a source URL stays empty, which callers read
// as "connect directly".
func (p *Pool) Refresh(ctx context.Context) error {
	if p.cfg.SourceURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch proxy list: unexpected status %d", resp.StatusCode)
	}

	var proxies []Proxy
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 4 {
			p.logger.Warn("skipping malformed proxy record", "line", line)
			continue
		}
		proxies = append(proxies, Proxy{
			Host:     parts[0],
			Port:     parts[1],
			Username: parts[2],
			Password: parts[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy list: %w", err)
	}

	p.mu.Lock()
	p.proxies = proxies
	p.usage = make(map[string]*usageRecord)
	p.mu.Unlock()

	p.logger.Info("proxy pool refreshed", "count", len(proxies))
	return nil
}

// Run re-refreshes the pool on a fixed interval until ctx is cancelled.
// Refresh failures are logged and the previous set stays in service.
func (p *Pool) Run(ctx context.Context) {
	if p.cfg.SourceURL == "" || p.cfg.RefreshInterval <= 0 {
		return
	}

	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Error("proxy refresh failed", "error", err)
			}
		}
	}
}

// Select returns the proxy to use for the next attempt, or nil when the
// pool is empty. Candidates are scanned in a fresh random order; the
// first one under the window ceiling wins. When every candidate is at
// the ceiling a uniformly random one is returned anyway: availability
// beats strict compliance, so callers must treat the ceiling as
// advisory.
func (p *Pool) Select() *Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}

	now := p.now()
	order := rand.Perm(len(p.proxies))

	idx, _ := pickIndex(order, func(i int) bool {
		rec, ok := p.usage[p.proxies[i].Addr()]
		if !ok {
			return false
		}
		if now.Sub(rec.lastUsedAt) > p.cfg.Window {
			// Window elapsed; the stale count no longer binds.
			return false
		}
		return rec.windowCount >= p.cfg.WindowLimit
	})

	proxy := p.proxies[idx]
	rec, ok := p.usage[proxy.Addr()]
	if !ok {
		rec = &usageRecord{}
		p.usage[proxy.Addr()] = rec
	}
	if now.Sub(rec.lastUsedAt) > p.cfg.Window {
		rec.windowCount = 0
	}
	rec.windowCount++
	rec.lastUsedAt = now

	return &proxy
}

// pickIndex scans order for the first candidate not at its ceiling.
// When all are at ceiling it degrades to a uniform random pick and
// reports false.
func pickIndex(order []int, atCeiling func(i int) bool) (int, bool) {
	for _, i := range order {
		if !atCeiling(i) {
			return i, true
		}
	}
	return order[rand.Intn(len(order))], false
}

// UserAgent returns a uniformly random browser identity string.
func (p *Pool) UserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Size reports the current number of proxies.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}
