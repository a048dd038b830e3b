package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/infra/auth"
	"go.uber.org/zap"
)

// stubChecker отдает заранее заданный вердикт и запоминает запросы.
type stubChecker struct {
	mu       sync.Mutex
	verdict  domain.Verdict
	requests []governor.CheckRequest
	deadline bool
}

func (s *stubChecker) Check(ctx context.Context, req governor.CheckRequest) domain.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	_, s.deadline = ctx.Deadline()
	return s.verdict
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestGovernorMiddlewareAdmits(t *testing.T) {
	gov := &stubChecker{verdict: domain.Verdict{
		Allowed: true, Limit: 5, Remaining: 4, ResetAtMillis: 1_700_000_900_000, EndpointKey: "/api/auth/login",
	}}
	var called bool
	h := GovernorMiddleware(gov, time.Second, zap.NewNop())(okHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	caller := domain.NewCaller("", "198.51.100.7", "")
	req = req.WithContext(auth.WithCaller(req.Context(), caller))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get(HeaderLimit))
	assert.Equal(t, "4", rec.Header().Get(HeaderRemaining))
	assert.Equal(t, "1700000900000", rec.Header().Get(HeaderReset))
	assert.Empty(t, rec.Header().Get(HeaderRetryAfter))

	require.Len(t, gov.requests, 1)
	assert.Equal(t, "/api/auth/login", gov.requests[0].RawPath)
	assert.Equal(t, http.MethodPost, gov.requests[0].Method)
	assert.Equal(t, caller, gov.requests[0].Caller)
	assert.True(t, gov.deadline)
}

func TestGovernorMiddlewareRejects(t *testing.T) {
	gov := &stubChecker{verdict: domain.Verdict{
		Allowed: false, Limit: 5, Remaining: 0, ResetAtMillis: 1_700_000_900_000,
		RetryAfterSeconds: 890, EndpointKey: "/api/auth/login", Identity: "ip:198.51.100.7",
	}}
	var called bool
	h := TracingMiddleware(GovernorMiddleware(gov, 0, zap.NewNop())(okHandler(&called)))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set(HeaderTraceID, "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "890", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.False(t, gov.deadline)

	var body rejection
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, rejection{
		Error:             domain.RejectionCode,
		Message:           "too many requests, retry later",
		Endpoint:          "/api/auth/login",
		Limit:             5,
		RetryAfterSeconds: 890,
		TraceID:           "trace-1",
	}, body)
}

func TestGovernorMiddlewareFailOpenHasNoHeaders(t *testing.T) {
	gov := &stubChecker{verdict: domain.Verdict{Allowed: true, FailOpen: true, EndpointKey: "default"}}
	var called bool
	h := GovernorMiddleware(gov, time.Second, zap.NewNop())(okHandler(&called))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderLimit))
	assert.Empty(t, rec.Header().Get(HeaderRemaining))
	assert.Empty(t, rec.Header().Get(HeaderReset))

	// без адаптера идентификации вызывающий: анонимный guest
	require.Len(t, gov.requests, 1)
	assert.Equal(t, domain.RoleGuest, gov.requests[0].Caller.Role)
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	h := TracingMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderTraceID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTraceID, "from-proxy")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "from-proxy", seen)

	assert.Equal(t, "00000000-0000-0000-0000-000000000000", TraceID(context.Background()))
}
