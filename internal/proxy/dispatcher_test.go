package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitalentmarketplace/gateway/internal/apierror"
	"github.com/aitalentmarketplace/gateway/internal/monitoring"
	"github.com/aitalentmarketplace/gateway/internal/registry"
	"github.com/aitalentmarketplace/gateway/internal/testhelpers"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(testhelpers.NewTestLogger(), monitoring.New(false), 3)
}

func newTestDispatcher(t *testing.T, reg *registry.Registry) *Dispatcher {
	t.Helper()
	return NewDispatcher(reg, 5*time.Second, monitoring.New(false), testhelpers.NewTestLogger())
}

func TestRewritePath(t *testing.T) {
	tests := []struct {
		path     string
		prefix   string
		expected string
	}{
		{"/jobs", "/jobs", "/"},
		{"/jobs/42", "/jobs", "/42"},
		{"/jobs/42/proposals", "/jobs", "/42/proposals"},
		{"/jobsearch", "/jobs", "/jobsearch"}, // prefix must match a whole segment
		{"/payments/webhook", "/payments/webhook", "/"},
		{"/other", "/jobs", "/other"},
		{"/jobs", "", "/jobs"},
		{"/jobs", "/", "/jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.expected, RewritePath(tt.path, tt.prefix))
		})
	}
}

func TestForward_RewritesAndInjectsHeaders(t *testing.T) {
	var gotPath, gotRequestID, gotUserID, gotUserRole string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("X-Request-Id")
		gotUserID = r.Header.Get("X-User-Id")
		gotUserRole = r.Header.Get("X-User-Role")
		w.Header().Set("X-Backend", "job-service")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer backend.Close()

	reg := newTestRegistry(t)
	reg.Register("job-service", backend.URL)
	dispatcher := newTestDispatcher(t, reg)

	req := httptest.NewRequest("POST", "/jobs/42?full=true", nil)
	recorder := httptest.NewRecorder()

	err := dispatcher.Forward(recorder, req, Target{
		Service:   "job-service",
		Prefix:    "/jobs",
		RequestID: "req-abc",
		UserID:    "user-42",
		UserRole:  "employer",
	})
	require.NoError(t, err)

	assert.Equal(t, "/42", gotPath)
	assert.Equal(t, "req-abc", gotRequestID)
	assert.Equal(t, "user-42", gotUserID)
	assert.Equal(t, "employer", gotUserRole)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "job-service", recorder.Header().Get("X-Backend"))
	body, _ := io.ReadAll(recorder.Body)
	assert.JSONEq(t, `{"id":"42"}`, string(body))
}

func TestForward_AnonymousOmitsUserHeaders(t *testing.T) {
	var sawUserID bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawUserID = r.Header["X-User-Id"]
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	reg := newTestRegistry(t)
	reg.Register("job-service", backend.URL)
	dispatcher := newTestDispatcher(t, reg)

	req := httptest.NewRequest("GET", "/jobs", nil)
	err := dispatcher.Forward(httptest.NewRecorder(), req, Target{
		Service:   "job-service",
		Prefix:    "/jobs",
		RequestID: "req-anon",
	})
	require.NoError(t, err)
	assert.False(t, sawUserID)
}

func TestForward_UnhealthyServiceShortCircuits(t *testing.T) {
	var backendCalls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendCalls.Add(1)
	}))
	defer backend.Close()

	reg := newTestRegistry(t)
	reg.Register("job-service", backend.URL)
	reg.ReportProbeResult("job-service", false)
	dispatcher := newTestDispatcher(t, reg)

	req := httptest.NewRequest("GET", "/jobs", nil)
	err := dispatcher.Forward(httptest.NewRecorder(), req, Target{Service: "job-service", Prefix: "/jobs", RequestID: "r"})
	require.Error(t, err)

	apiErr := apierror.From(err)
	assert.Equal(t, apierror.CodeServiceUnavailable, apiErr.Code)
	assert.Equal(t, "job-service", apiErr.Service)
	assert.Equal(t, int32(0), backendCalls.Load(), "no outbound call while unhealthy")
}

func TestForward_ConnectionRefused(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close() // refuse connections from now on

	reg := newTestRegistry(t)
	reg.Register("payment-service", backend.URL)
	dispatcher := newTestDispatcher(t, reg)

	req := httptest.NewRequest("GET", "/payments", nil)
	err := dispatcher.Forward(httptest.NewRecorder(), req, Target{Service: "payment-service", Prefix: "/payments", RequestID: "r"})
	require.Error(t, err)

	apiErr := apierror.From(err)
	assert.Equal(t, apierror.CodeServiceUnavailable, apiErr.Code)
	assert.Equal(t, "payment-service", apiErr.Service)
	assert.Contains(t, apiErr.Message, "Cannot connect to payment-service")
}

func TestForward_Timeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer backend.Close()

	reg := newTestRegistry(t)
	reg.Register("ai-service", backend.URL)
	dispatcher := NewDispatcher(reg, 50*time.Millisecond, monitoring.New(false), testhelpers.NewTestLogger())

	req := httptest.NewRequest("GET", "/ai/recommendations", nil)
	err := dispatcher.Forward(httptest.NewRecorder(), req, Target{Service: "ai-service", Prefix: "/ai", RequestID: "r"})
	require.Error(t, err)

	apiErr := apierror.From(err)
	assert.Equal(t, apierror.CodeServiceUnavailable, apiErr.Code)
	assert.Contains(t, apiErr.Message, "Cannot connect to ai-service")
}

func TestClassifyTransportError_Other(t *testing.T) {
	apiErr := classifyTransportError("job-service", errors.New("malformed HTTP response"))

	assert.Equal(t, apierror.CodeServiceUnavailable, apiErr.Code)
	assert.Contains(t, apiErr.Message, "Error communicating with job-service")
	assert.Contains(t, apiErr.Message, "malformed HTTP response")
}

func TestCopyHeaders_StripsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("TE", "trailers")
	src.Set("Content-Type", "application/json")

	dst := http.Header{}
	copyHeaders(dst, src)

	assert.Empty(t, dst.Get("Connection"))
	assert.Empty(t, dst.Get("Transfer-Encoding"))
	assert.Empty(t, dst.Get("TE"), "TE is stored canonicalized as Te and must still be stripped")
	assert.Equal(t, "application/json", dst.Get("Content-Type"))
}

func TestCopyHeaders_StripsNonCanonicalKeys(t *testing.T) {
	// Hand-built maps may carry non-canonical keys; the strip check must
	// not depend on the caller's casing.
	src := http.Header{
		"connection": {"keep-alive"},
		"TE":         {"trailers"},
	}
	dst := http.Header{}
	copyHeaders(dst, src)

	assert.Empty(t, dst["connection"])
	assert.Empty(t, dst["TE"])
	assert.Empty(t, dst)
}
