package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnavailable wraps every failure to reach the core or get a usable answer from it.
	ErrUnavailable = errors.New("transport: core unavailable")
	// ErrMalformed marks a response body that could not be decoded.
	ErrMalformed = errors.New("transport: malformed response")
)

// StatusError is a non-2xx HTTP answer from the core.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: core answered %d: %s", e.Code, e.Body)
}

// Unwrap lets callers match any status error against ErrUnavailable.
func (e *StatusError) Unwrap() error { return ErrUnavailable }

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// HTTPClient performs request/response calls against the core's HTTP API.
type HTTPClient struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPClient creates a client rooted at baseURL, e.g. http://127.0.0.1:4000/api.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{base: u, client: &http.Client{Timeout: timeout}}, nil
}

// Request issues GET <base>/<path>?<query> and decodes the JSON body into out.
func (c *HTTPClient) Request(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.base.String() + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
