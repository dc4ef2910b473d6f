// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"github.com/absmach/mllproxy/pkg/forwarder"
	"github.com/absmach/mllproxy/pkg/handler"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "mllproxy"

// Config holds the outbound HTTP client configuration.
type Config struct {
	// URL receives every message as a POST body.
	URL string

	// ContentType is sent with every request when set.
	ContentType string

	// Timeout bounds a whole request/response exchange. Zero means unlimited.
	Timeout time.Duration

	// TLSConfig is used for https URLs.
	TLSConfig *tls.Config

	// Username and Password enable HTTP Basic auth.
	Username string
	Password string

	// Authorization is sent verbatim when no username is set.
	Authorization string

	// APIKey is sent as X-API-KEY when set.
	APIKey string

	UserAgent string
	Logger    *slog.Logger
}

// Client forwards MLLP messages as HTTP POST requests.
type Client struct {
	config Config
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ forwarder.Forwarder = (*Client)(nil)

// New creates a Client posting to cfg.URL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: peer URL: %w", gwerrors.ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: peer URL %q must be an absolute http(s) URL", gwerrors.ErrInvalidConfig, cfg.URL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = cfg.TLSConfig

	return &Client{
		config: cfg,
		url:    u.String(),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: cfg.Logger,
	}, nil
}

// Forward posts msg and returns the response body.
//
// A failed request wraps errors.ErrConnect. A non-2xx response returns an
// *errors.UpstreamError.
func (c *Client) Forward(ctx context.Context, hctx *handler.Context, msg []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", gwerrors.ErrConnect, err)
	}
	c.setHeaders(req, hctx)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: post %s: %w", gwerrors.ErrConnect, c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &gwerrors.UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", gwerrors.ErrTransport, err)
	}

	c.logger.Debug("Forwarded message",
		slog.String("url", c.url),
		slog.Int("status", resp.StatusCode),
		slog.Int("request_bytes", len(msg)),
		slog.Int("response_bytes", len(body)),
	)

	return body, nil
}

// CloseIdleConnections closes keep-alive connections to the peer.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *Client) setHeaders(req *http.Request, hctx *handler.Context) {
	h := req.Header
	if hctx != nil && hctx.RemoteAddr != "" {
		h.Set("Forwarded", fmt.Sprintf("by=%s;for=%s;proto=mllp", hctx.LocalAddr, hctx.RemoteAddr))
		h.Set("X-Forwarded-For", hctx.RemoteAddr)
	}
	h.Set("X-Forwarded-Proto", "mllp")
	h.Set("User-Agent", c.config.UserAgent)

	switch {
	case c.config.Username != "":
		req.SetBasicAuth(c.config.Username, c.config.Password)
	case c.config.Authorization != "":
		h.Set("Authorization", c.config.Authorization)
	}
	if c.config.APIKey != "" {
		h.Set("X-API-KEY", c.config.APIKey)
	}
	if c.config.ContentType != "" {
		h.Set("Content-Type", c.config.ContentType)
	}
}
