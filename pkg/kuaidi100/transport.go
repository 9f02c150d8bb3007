package kuaidi100

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport sends a form-encoded POST to the provider. This abstraction
// allows mock implementations during testing and the HTTP implementation in
// production.
type Transport interface {
	// PostForm posts form to endpoint and returns the status code and body.
	PostForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error)
}

// HTTPTransport is the production Transport.
type HTTPTransport struct {
	httpClient *http.Client
}

// HTTPTransportConfig holds configuration for the HTTP transport.
type HTTPTransportConfig struct {
	Timeout time.Duration
	// Base is the round tripper to instrument. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// NewHTTPTransport creates an HTTP transport whose requests are traced.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}
}

// PostForm performs the request. A non-200 status is reported as a
// TransportError together with the body read so far.
func (t *HTTPTransport) PostForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, &TransportError{Endpoint: endpoint, Cause: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "kuaidi100-bridge/1.0")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("failed to read response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, body, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, body, nil
}

var _ Transport = (*HTTPTransport)(nil)
