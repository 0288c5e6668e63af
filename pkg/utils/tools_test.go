package utils

import (
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
)

func TestRemoteIp(t *testing.T) {
	req := httptest.NewRequest("GET", "/billing/v1/healthz", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, RemoteIp(req), "10.0.0.7")

	req.Header.Set("X-Real-Ip", "10.1.1.1")
	assert.Equal(t, RemoteIp(req), "10.1.1.1")

	req.Header.Set("X-Forwarded-For", "192.168.3.4, 10.1.1.1")
	assert.Equal(t, RemoteIp(req), "192.168.3.4")

	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "unix"
	assert.Equal(t, RemoteIp(req), "unix")
}

func TestToJSON(t *testing.T) {
	assert.Equal(t, ToJSON(map[string]int{"a": 1}), "{\"a\":1}\n")
	assert.Equal(t, PrettyJSON(map[string]int{"a": 1}), "{\n  \"a\": 1\n}\n")
}
