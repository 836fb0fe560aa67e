package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
)

// DefaultTimeout bounds every push and pull when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// HTTPClient talks to the sync endpoint over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the endpoint rooted at baseURL that
// authenticates with the given bearer token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		http:    &http.Client{},
	}
}

func (c *HTTPClient) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, common.PushPath, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Pull(ctx context.Context, since time.Time) (*PullResponse, error) {
	var ms int64
	if !since.IsZero() {
		ms = since.UnixMilli()
	}
	q := url.Values{}
	q.Set(common.SinceParam, strconv.FormatInt(ms, 10))

	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, common.PullPath, q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	req.Header.Set("Accept", common.ContentTypeJSON)
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.mapError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s; body: %s", ErrRemote, resp.Status, strings.TrimSpace(string(b)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return c.mapError(ctx, err)
		}
		return fmt.Errorf("%w: decode response: %v", ErrRemote, err)
	}
	return nil
}

func (c *HTTPClient) mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
