package kuaidi100

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// MockCall records one request seen by MockTransport.
type MockCall struct {
	Endpoint string
	Form     url.Values
}

// MockTransport is a Transport for tests and local runs without provider access.
type MockTransport struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnPostForm func(ctx context.Context, endpoint string, form url.Values) (int, []byte, error)

	mu    sync.Mutex
	calls []MockCall
}

// NewMockTransport creates a mock transport with default behavior: every
// subscription is accepted and every query returns a delivered shipment.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// PostForm records the call and returns the hook's answer or a canned one.
func (m *MockTransport) PostForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Endpoint: endpoint, Form: cloneValues(form)})
	m.mu.Unlock()

	if m.SimulateLatency > 0 {
		time.Sleep(m.SimulateLatency)
	}

	if m.SimulateErrors {
		return http.StatusServiceUnavailable, nil, &TransportError{Endpoint: endpoint, StatusCode: http.StatusServiceUnavailable}
	}

	if m.OnPostForm != nil {
		return m.OnPostForm(ctx, endpoint, form)
	}

	if form.Has("schema") {
		return http.StatusOK, []byte(`{"result":true,"returnCode":"200","message":"提交成功"}`), nil
	}

	return http.StatusOK, []byte(`{"message":"ok","nu":"` + form.Get("num") + `","ischeck":"1","com":"` + form.Get("com") +
		`","status":"200","state":"3","data":[` +
		`{"time":"2024-05-02 10:12:45","ftime":"2024-05-02 10:12:45","context":"已签收","status":"签收"},` +
		`{"time":"2024-05-01 08:30:00","ftime":"2024-05-01 08:30:00","context":"快件已揽收","status":"揽收"}]}`), nil
}

// Calls returns the requests seen so far.
func (m *MockTransport) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

var _ Transport = (*MockTransport)(nil)
