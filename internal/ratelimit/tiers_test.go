package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierForRole(t *testing.T) {
	tests := []struct {
		role     string
		expected string
	}{
		{"admin", TierAdmin},
		{"employer", TierAuthenticated},
		{"freelancer", TierAuthenticated},
		{"", TierPublic},
		{"intern", TierPublic},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.expected, TierForRole(tt.role))
		})
	}
}

func TestClientKey_AuthenticatedUsesUserID(t *testing.T) {
	req := httptest.NewRequest("GET", "/jobs", nil)
	req.RemoteAddr = "203.0.113.7:4312"

	assert.Equal(t, "user:user-42", ClientKey("user-42", req))
	assert.Equal(t, "ip:203.0.113.7", ClientKey("", req))
}

func TestClientIP_DirectConnection(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:4312"
	// Direct connection IP wins even when X-Forwarded-For is present
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestClientIP_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "not-a-host-port"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	assert.Equal(t, "198.51.100.1", ClientIP(req))
}

func TestClientIP_RawSocketAddress(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "pipe-address"

	assert.Equal(t, "pipe-address", ClientIP(req))
}

func TestClientIP_Unknown(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = ""

	assert.Equal(t, "unknown", ClientIP(req))
}
