package twitter

import (
	"context"
	"net/http"
	"time"

	errs "twdl/pkg/errors"
	"twdl/pkg/logger"
	"twdl/pkg/ratelimit"
)

// Client wraps an HTTP client with the session headers media requests
// need. Clients carry per-use state (headers, cookie) and must not be
// shared across concurrent workers; each worker gets its own instance.
// The limiter is the exception: it paces per origin and may be shared.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a media download client. The cookie is the opaque
// session string; it is required for media on protected accounts.
func NewClient(timeout time.Duration, userAgent, cookie string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	headers := map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
	if cookie != "" {
		headers["Cookie"] = cookie
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: headers,
		logger:  log,
	}
}

// SetLimiter installs a request pacer consulted before every GET
func (c *Client) SetLimiter(limiter ratelimit.Limiter) {
	c.limiter = limiter
}

// Get performs a streamed GET with the session headers and the given
// Referer. The caller owns the response body.
func (c *Client) Get(ctx context.Context, url, referer string) (*http.Response, error) {
	if c.limiter != nil {
		c.limiter.Wait()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// statusError converts a non-2xx response into a typed error
func statusError(statusCode int) *errs.Error {
	return errs.New(errs.TypeForStatusCode(statusCode), statusCode, "server returned status %d", statusCode)
}
