package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/logctx"
)

var ErrNotConfigured = errors.New("renderer webhook url is not configured")

// Job is the payload accepted by the external rendering webhook. The renderer
// reports the outcome asynchronously to CallbackURL.
type Job struct {
	VideoID         string            `json:"video_id"`
	UserID          string            `json:"user_id"`
	Prompt          string            `json:"prompt"`
	ImageURL        string            `json:"image_url,omitempty"`
	DurationSeconds int               `json:"duration_seconds"`
	Options         map[string]string `json:"options,omitempty"`
	CallbackURL     string            `json:"callback_url"`
	Timestamp       time.Time         `json:"timestamp"`
}

type Client struct {
	webhookURL  string
	callbackURL string
	secret      string
	http        *http.Client
	log         *zap.SugaredLogger
}

func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	return NewClientWithHTTP(cfg, &http.Client{Transport: transport, Timeout: cfg.Renderer.Timeout}, log)
}

func NewClientWithHTTP(cfg *config.Config, hc *http.Client, log *zap.SugaredLogger) *Client {
	return &Client{
		webhookURL:  cfg.Renderer.WebhookURL,
		callbackURL: cfg.Renderer.CallbackURL,
		secret:      cfg.Renderer.CallbackSecret,
		http:        hc,
		log:         log,
	}
}

// Submit hands a job to the renderer. Any non-2xx answer is a failed submission.
func (c *Client) Submit(ctx context.Context, job Job) error {
	if c.webhookURL == "" {
		return ErrNotConfigured
	}
	if job.CallbackURL == "" {
		job.CallbackURL = c.callbackURL
	}
	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal render job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Render-Secret", c.secret)
	}
	if tid := logctx.TraceID(ctx); tid != "" {
		req.Header.Set("X-Trace-ID", tid)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call renderer: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	logctx.FromCtx(ctx, c.log).Infow("render_job_submitted",
		"video_id", job.VideoID, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("renderer returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
