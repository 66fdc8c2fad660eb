// Package client provides an HTTP client for the resurrection API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/logging"
	"github.com/xiaot623/lazarus/internal/metrics"
	"github.com/xiaot623/lazarus/internal/stream"
)

const commitTimeout = 60 * time.Second

var errTerminal = errors.New("terminal record received")

// Client is an HTTP client for the resurrection API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics counts skipped stream records on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a new client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Runs stream for minutes; requests are bounded by their context.
		httpClient: &http.Client{},
		logger:     logging.Component("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrorResponse represents an error response from the server.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Resurrect starts a run and calls fn for every event in arrival order.
// It returns after the terminal event. A stream that ends without one
// yields ErrStreamTransport.
func (c *Client) Resurrect(ctx context.Context, req domain.RunRequest, fn func(domain.Event)) error {
	c.logger.Debug().Str("server", c.baseURL).Str("repo", req.RepositoryURL).Msg("starting run")
	resp, err := c.post(ctx, "/api/resurrect", req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStreamTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp, domain.ErrStreamTransport)
	}

	dec := stream.NewDecoder()
	if c.metrics != nil {
		dec.OnMalformed = func([]byte, error) {
			c.metrics.MalformedRecords.Inc()
		}
	}
	err = dec.DecodeFrom(resp.Body, func(ev domain.Event) error {
		fn(ev)
		if domain.IsTerminal(ev) {
			return errTerminal
		}
		return nil
	})
	switch {
	case errors.Is(err, errTerminal):
		return nil
	case err != nil:
		return err
	}
	return fmt.Errorf("%w: stream ended without a terminal record", domain.ErrStreamTransport)
}

// Commit commits one artifact through the deploy endpoint.
func (c *Client) Commit(ctx context.Context, repoURL string, a domain.Artifact) (*domain.DeploymentOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/api/commit", domain.CommitRequest{
		RepositoryURL: repoURL,
		Filename:      a.Filename,
		Content:       a.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCommitFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, domain.ErrCommitFailed)
	}

	var outcome domain.DeploymentOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("%w: failed to decode outcome: %v", domain.ErrCommitFailed, err)
	}
	return &outcome, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call server: %w", err)
	}
	return resp, nil
}

func responseError(resp *http.Response, sentinel error) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var errResp ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, errResp.Error)
		}
		return fmt.Errorf("%w: server error: %s", sentinel, errResp.Error)
	}
	return fmt.Errorf("%w: unexpected status %d: %s", sentinel, resp.StatusCode, string(respBody))
}
