package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitalentmarketplace/gateway/internal/monitoring"
	"github.com/aitalentmarketplace/gateway/internal/testhelpers"
)

func TestProbe_Success(t *testing.T) {
	var gotPath, gotAccept, gotHealthHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		gotHealthHeader = r.Header.Get("X-Health-Check")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := newTestRegistry(t)
	reg.Register("job-service", server.URL)
	prober := NewProber(reg, 3*time.Second, testhelpers.NewTestLogger())

	ok := prober.Probe(context.Background(), "job-service")
	require.True(t, ok)

	assert.Equal(t, "/health", gotPath)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "true", gotHealthHeader)

	_, resolvable := reg.Resolve("job-service")
	assert.True(t, resolvable)
}

func TestProbe_Non2xxIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reg := newTestRegistry(t)
	reg.Register("job-service", server.URL)
	prober := NewProber(reg, 3*time.Second, testhelpers.NewTestLogger())

	assert.False(t, prober.Probe(context.Background(), "job-service"))

	_, resolvable := reg.Resolve("job-service")
	assert.False(t, resolvable)
}

func TestProbe_ConnectionErrorIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from now on

	reg := newTestRegistry(t)
	reg.Register("job-service", server.URL)
	prober := NewProber(reg, time.Second, testhelpers.NewTestLogger())

	assert.False(t, prober.Probe(context.Background(), "job-service"))
}

func TestProbe_TimeoutIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	reg := newTestRegistry(t)
	reg.Register("job-service", server.URL)
	prober := NewProber(reg, 50*time.Millisecond, testhelpers.NewTestLogger())

	assert.False(t, prober.Probe(context.Background(), "job-service"))
}

func TestProbe_UnregisteredService(t *testing.T) {
	reg := newTestRegistry(t)
	prober := NewProber(reg, time.Second, testhelpers.NewTestLogger())

	assert.False(t, prober.Probe(context.Background(), "ghost"))
}

func TestProbeAll_IsolatesFailures(t *testing.T) {
	var healthyProbes atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyProbes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	broken.Close()

	reg := New(testhelpers.NewTestLogger(), monitoring.New(false), 3)
	reg.Register("job-service", healthy.URL)
	reg.Register("payment-service", broken.URL)
	prober := NewProber(reg, time.Second, testhelpers.NewTestLogger())

	prober.probeAll(context.Background())

	// The failing service never blocks the healthy one
	assert.Equal(t, int32(1), healthyProbes.Load())
	_, ok := reg.Resolve("job-service")
	assert.True(t, ok)
	_, ok = reg.Resolve("payment-service")
	assert.False(t, ok)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	reg := newTestRegistry(t)
	prober := NewProber(reg, time.Second, testhelpers.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		prober.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop after context cancellation")
	}
}
