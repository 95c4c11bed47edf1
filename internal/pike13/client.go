// Package pike13 reads roster, attendance and schedule data from the scheduling service.
package pike13

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/pkg/config"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

const (
	reportPath = "/desk/api/v3/reports/%s/queries"
	corePath   = "/api/v2/desk/%s"
	pageLimit  = 500
	userAgent  = "student-tracker-sync"
	mediaType  = "application/vnd.api+json; charset=UTF-8"
)

// Client talks to the reporting and core APIs with a bearer token.
type Client struct {
	baseURL  string
	token    string
	attempts int
	http     *http.Client
	logger   *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger for failed attempts.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client from configuration.
func NewClient(cfg config.Pike13Config, opts ...Option) *Client {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		attempts: attempts,
		http:     &http.Client{Timeout: timeout},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type query struct {
	Fields []string    `json:"fields"`
	Page   page        `json:"page"`
	Filter interface{} `json:"filter,omitempty"`
}

type page struct {
	Limit         int    `json:"limit"`
	StartingAfter string `json:"starting_after,omitempty"`
}

type reportRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes query  `json:"attributes"`
	} `json:"data"`
}

type reportResponse struct {
	Data struct {
		Attributes struct {
			Rows    [][]json.RawMessage `json:"rows"`
			HasMore bool                `json:"has_more"`
			LastKey string              `json:"last_key"`
		} `json:"attributes"`
	} `json:"data"`
}

// report runs a reporting query and follows has_more/last_key paging.
func (c *Client) report(ctx context.Context, endpoint string, fields []string, filter interface{}) ([][]json.RawMessage, error) {
	var rows [][]json.RawMessage
	q := query{Fields: fields, Page: page{Limit: pageLimit}, Filter: filter}
	for {
		var req reportRequest
		req.Data.Type = "queries"
		req.Data.Attributes = q

		body, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode %s query: %w", endpoint, err)
		}

		var resp reportResponse
		url := c.baseURL + fmt.Sprintf(reportPath, endpoint)
		if err := c.do(ctx, http.MethodPost, url, endpoint, body, &resp); err != nil {
			return nil, err
		}

		attrs := resp.Data.Attributes
		rows = append(rows, attrs.Rows...)
		if !attrs.HasMore || attrs.LastKey == "" {
			return rows, nil
		}
		q.Page.StartingAfter = attrs.LastKey
	}
}

// do sends one request, retrying failed attempts up to the configured budget.
func (c *Client) do(ctx context.Context, method, url, label string, body []byte, dest interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.attempt(ctx, method, url, body, dest)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("scheduling service request failed",
			zap.String("endpoint", label),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return appErrors.Wrap(lastErr, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "pike13 "+label)
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", mediaType)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
