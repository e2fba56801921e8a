package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func limitedHandler(trustProxy bool) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return RateLimit(0.001, 1, trustProxy, zerolog.Nop())(ok)
}

func hit(h http.Handler, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:4711"
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	h := limitedHandler(false)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1"))
	// a fresh spoofed address per request still lands in the remote-address bucket
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3, 198.51.100.1"))
}

func TestRateLimit_TrustedProxyUsesForwardedFor(t *testing.T) {
	h := limitedHandler(true)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1, 198.51.100.1"))
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:4711"
	req.Header.Set("X-Forwarded-For", " 10.0.0.1 , 198.51.100.1")

	assert.Equal(t, "203.0.113.7", clientIP(req, false))
	assert.Equal(t, "10.0.0.1", clientIP(req, true))
}

func TestRateLimiterStore_EvictsIdleClients(t *testing.T) {
	clock := time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC)
	store := newRateLimiterStore(rate.Limit(1), 1)
	store.now = func() time.Time { return clock }

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		store.getLimiter(ip)
	}
	assert.Equal(t, 3, store.len())

	clock = clock.Add(5 * time.Minute)
	store.getLimiter("10.0.0.1")
	assert.Equal(t, 3, store.len(), "nothing idle long enough yet")

	clock = clock.Add(limiterIdleTTL - time.Minute)
	store.getLimiter("10.0.0.4")
	assert.Equal(t, 2, store.len(), "10.0.0.2 and 10.0.0.3 went idle")

	clock = clock.Add(2 * limiterIdleTTL)
	store.getLimiter("10.0.0.5")
	assert.Equal(t, 1, store.len())
}
