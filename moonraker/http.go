package moonraker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const apiKeyHeader = "X-Api-Key"

var (
	// ErrTransport wraps failures to reach the server at all.
	ErrTransport = errors.New("moonraker transport failure")
	// ErrDecode wraps malformed or unexpected response bodies.
	ErrDecode = errors.New("moonraker response decode failure")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("moonraker %s returned status %d", e.Path, e.Code)
}

// do issues a request against the REST base URL and returns the response body.
// Any status outside 2xx is a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.conn.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.conn.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransport, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Path: path, Code: resp.StatusCode}
	}
	return body, nil
}
