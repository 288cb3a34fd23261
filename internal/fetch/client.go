package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/iconidentify/reelgrabba/internal/config"
	"github.com/iconidentify/reelgrabba/internal/domain"
	"github.com/iconidentify/reelgrabba/internal/proxypool"
)

// Client implements Fetcher against the scraping provider's REST API.
// Each call resolves the post's metadata and then streams the video file,
// both through the supplied egress proxy. A single call never retries.
type Client struct {
	cfg    config.FetchConfig
	logger *slog.Logger
}

// NewClient creates a new provider client.
func NewClient(cfg config.FetchConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// postEnvelope is the provider's metadata response.
type postEnvelope struct {
	VideoURL       string `json:"video_url"`
	Caption        string `json:"caption"`
	AuthorUsername string `json:"author_username"`
}

// Fetch retrieves one post. A nil proxy means direct connect.
func (c *Client) Fetch(ctx context.Context, shortcode domain.Shortcode, proxy *proxypool.Proxy, userAgent string) (*Result, error) {
	client := c.clientFor(proxy)
	defer client.CloseIdleConnections()

	meta, err := c.fetchMetadata(ctx, client, shortcode, userAgent)
	if err != nil {
		return nil, err
	}

	if meta.VideoURL == "" {
		return nil, &Error{Kind: KindNotFound, Err: domain.ErrNoVideoFile}
	}

	video, err := c.fetchVideo(ctx, client, meta.VideoURL, userAgent)
	if err != nil {
		return nil, err
	}

	return &Result{
		Video:          video,
		Caption:        meta.Caption,
		AuthorUsername: meta.AuthorUsername,
	}, nil
}

// clientFor builds a single-use client routed through the proxy. Keep-
// alives are disabled so one attempt holds no sockets once it returns.
func (c *Client) clientFor(proxy *proxypool.Proxy) *http.Client {
	transport := &http.Transport{
		DisableKeepAlives: true,
	}
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy.URL())
	}
	return &http.Client{Transport: transport}
}

func (c *Client) fetchMetadata(ctx context.Context, client *http.Client, shortcode domain.Shortcode, userAgent string) (*postEnvelope, error) {
	endpoint := fmt.Sprintf("%s/instagram/post/%s", c.cfg.BaseURL, url.PathEscape(shortcode.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, connectionError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var meta postEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, &Error{Kind: KindOther, Err: fmt.Errorf("decode metadata: %w", err)}
	}
	return &meta, nil
}

func (c *Client) fetchVideo(ctx context.Context, client *http.Client, videoURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "video/mp4,video/*;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, connectionError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	video, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionError(err)
	}
	if len(video) == 0 {
		return nil, &Error{Kind: KindNotFound, Err: domain.ErrNoVideoFile}
	}
	return video, nil
}

// classifyStatus maps an HTTP status to a classified fetch failure.
// 401/403/429 are throttling signals the orchestrator rotates past;
// 404 is a provider-reported rejection; everything else non-2xx is
// unclassified and fatal.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindForbidden,
			StatusCode: status,
			Err:        fmt.Errorf("upstream status %d", status),
		}
	case status == http.StatusNotFound:
		return &Error{
			Kind:       KindNotFound,
			StatusCode: status,
			Err:        fmt.Errorf("upstream status %d", status),
		}
	default:
		return &Error{
			Kind:       KindOther,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status %d", status),
		}
	}
}

// connectionError wraps a transport-level failure, including per-attempt
// timeouts, as a retryable connection-class error.
func connectionError(err error) error {
	return &Error{Kind: KindConnection, Err: err}
}
