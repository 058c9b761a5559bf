package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPForwarder delivers each job's payload to an HTTP endpoint as a POST
// with the body unchanged.
type HTTPForwarder struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPForwarder(url, token string, timeout time.Duration) *HTTPForwarder {
	return &HTTPForwarder{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Handle treats 2xx as done. Other 4xx answers are final; transport errors,
// 5xx and the 401, 403, 408 and 429 answers are retried.
func (f *HTTPForwarder) Handle(ctx context.Context, job *Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(job.Payload))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relay-Job-ID", job.ID)
	req.Header.Set("X-Relay-Attempt", strconv.Itoa(job.Attempts))
	if f.token != "" {
		req.Header.Set("X-Relay-Token", f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case retryable(code):
		return fmt.Errorf("forward: status %d: %s", code, bytes.TrimSpace(body))
	default:
		return Permanent(fmt.Errorf("forward: status %d: %s", code, bytes.TrimSpace(body)))
	}
}

func retryable(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 || code < 200
}
