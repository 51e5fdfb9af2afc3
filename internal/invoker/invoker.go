// Package invoker performs one backend call per scan phase and normalizes the
// response into an Outcome or a RemotePhaseError.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

const (
	defaultScanPath = "/functions/v1/scan"
	// Error bodies are only read for a message, cap them.
	maxErrorBody = 64 << 10
	userAgent    = "scanrelay"
)

// Outcome is the decoded result of one successful phase call.
type Outcome struct {
	Categories []types.ScanCategory
	// Discovery is set only when the backend returned crawl data.
	Discovery *types.DiscoveryData
	// Malformed is set when the response lacked a categories list.
	Malformed *MalformedResponseError
}

type scanRequest struct {
	URL       string               `json:"url"`
	Group     string               `json:"group"`
	CrawlData *types.DiscoveryData `json:"crawl_data,omitempty"`
}

type scanResponse struct {
	Categories *[]types.ScanCategory `json:"categories"`
	CrawlData  *types.DiscoveryData  `json:"crawl_data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Client struct {
	endpoint   string
	host       string
	apiKey     string
	compress   bool
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     *logger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New builds a Client from the backend section of the configuration.
func New(cfg config.BackendConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base URL scheme %q", base.Scheme)
	}

	path := cfg.ScanPath
	if path == "" {
		path = defaultScanPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultConfig().Timeout
	}

	c := &Client{
		endpoint: base.String() + path,
		host:     base.Host,
		apiKey:   cfg.APIKey,
		compress: cfg.CompressRequests,
		limiter:  ratelimit.NewLimiter(ratelimit.Unlimited()),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		hc := httpclient.DefaultConfig()
		hc.Timeout = timeout
		c.httpClient = httpclient.NewClient(hc)
	}
	c.logger = c.logger.WithComponent("invoker")

	return c, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Invoke sends target and phaseID to the backend, with discovery attached when
// non-nil. Context errors are returned as is; every other failure is a
// *RemotePhaseError.
func (c *Client) Invoke(ctx context.Context, target, phaseID string, discovery *types.DiscoveryData) (*Outcome, error) {
	start := time.Now()

	if err := c.limiter.WaitForHost(ctx, c.host); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &RemotePhaseError{Phase: phaseID, Message: fmt.Sprintf("rate limiter: %v", err), Err: err}
	}

	body, err := c.encodeRequest(scanRequest{URL: target, Group: phaseID, CrawlData: discovery})
	if err != nil {
		return nil, &RemotePhaseError{Phase: phaseID, Message: fmt.Sprintf("failed to encode request: %v", err), Err: err}
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RemotePhaseError{Phase: phaseID, Message: fmt.Sprintf("failed to build request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := httpclient.DoWithContext(ctx, c.httpClient, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.LogError(ctx, err, "invoker.invoke", "phase", phaseID)
		return nil, &RemotePhaseError{Phase: phaseID, Message: err.Error(), Err: err}
	}
	defer httpclient.CloseBody(resp)

	c.logger.LogHTTPRequest(ctx, http.MethodPost, c.endpoint, resp.StatusCode, time.Since(start), "phase", phaseID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, phaseID)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &RemotePhaseError{Phase: phaseID, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), Err: err}
	}

	var decoded scanResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &RemotePhaseError{
			Phase:      phaseID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed response: %v", err),
			Err:        err,
		}
	}

	outcome := &Outcome{Discovery: decoded.CrawlData}
	if decoded.Categories == nil {
		outcome.Categories = []types.ScanCategory{}
		outcome.Malformed = &MalformedResponseError{Phase: phaseID, Body: truncate(string(raw), 256)}
		c.logger.Warnw("Backend response has no categories",
			"phase", phaseID,
			"status_code", resp.StatusCode,
		)
		return outcome, nil
	}
	outcome.Categories = *decoded.Categories

	return outcome, nil
}

func (c *Client) encodeRequest(payload scanRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if !c.compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) statusError(resp *http.Response, phaseID string) *RemotePhaseError {
	message := fmt.Sprintf("Server responded with %d", resp.StatusCode)

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		message = payload.Error
	}

	c.logger.Warnw("Backend phase call failed",
		"phase", phaseID,
		"status_code", resp.StatusCode,
		"message", message,
	)

	return &RemotePhaseError{Phase: phaseID, StatusCode: resp.StatusCode, Message: message}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
