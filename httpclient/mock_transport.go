package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// MockTransport provides a configurable http.RoundTripper for testing.
// It serves queued replies in order, then a default reply, and records every
// attempt it receives.
//
// Example - two 429s, then success:
//
//	mock := httpclient.NewMockTransport().
//	    Enqueue(http.StatusTooManyRequests, "").
//	    Enqueue(http.StatusTooManyRequests, "").
//	    StubResponse(http.StatusOK, "done")
//
//	d := httpclient.New(httpclient.WithTransport(mock))
type MockTransport struct {
	mu          sync.Mutex
	queue       []mockReply
	defaultResp *mockReply
	requests    []RecordedRequest
	requestHook func(*http.Request)
}

type mockReply struct {
	statusCode int
	body       string
	header     http.Header
	err        error
}

// RecordedRequest is a snapshot of one attempt received by a MockTransport.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewMockTransport creates a new MockTransport for testing.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse sets the reply used once the queue is empty.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &mockReply{statusCode: statusCode, body: body}
	return m
}

// StubError makes every attempt fail with err once the queue is empty.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &mockReply{err: err}
	return m
}

// Enqueue adds a reply served to exactly one attempt.
func (m *MockTransport) Enqueue(statusCode int, body string) *MockTransport {
	return m.EnqueueWithHeader(statusCode, body, nil)
}

// EnqueueWithHeader adds a reply with response headers served to exactly one attempt.
func (m *MockTransport) EnqueueWithHeader(statusCode int, body string, header http.Header) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{statusCode: statusCode, body: body, header: header})
	return m
}

// EnqueueError adds a transport error served to exactly one attempt.
func (m *MockTransport) EnqueueError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// OnRequest sets a hook that is called for each attempt.
// Useful for assertions or capturing request details.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := RecordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
	}
	if req.Body != nil {
		rec.Body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	hook := m.requestHook

	var reply *mockReply
	if len(m.queue) > 0 {
		reply = &m.queue[0]
		m.queue = m.queue[1:]
	} else {
		reply = m.defaultResp
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if reply == nil {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}
	if reply.err != nil {
		return nil, reply.err
	}

	header := reply.header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	return &http.Response{
		Status:        http.StatusText(reply.statusCode),
		StatusCode:    reply.statusCode,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(reply.body)),
		ContentLength: int64(len(reply.body)),
		Request:       req,
	}, nil
}

// Requests returns all attempts received by this transport.
func (m *MockTransport) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest{}, m.requests...)
}

// RequestCount returns the number of attempts received.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent attempt, or nil if none.
func (m *MockTransport) LastRequest() *RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	last := m.requests[len(m.requests)-1]
	return &last
}

// Reset clears all recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.defaultResp = nil
	m.requestHook = nil
}
