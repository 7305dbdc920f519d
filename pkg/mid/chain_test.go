package mid

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
	"github.com/WessleyAI/wellness-mvp/pkg/resilience"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestChainOrder(t *testing.T) {
	var order []int
	mw := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, 0)
	}), mw(1), mw(2), mw(3))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if len(order) != 4 || order[0] != 1 || order[1] != 2 || order[2] != 3 || order[3] != 0 {
		t.Fatalf("expected [1,2,3,0], got %v", order)
	}
}

func TestLoggerSetsRequestID(t *testing.T) {
	h := Logger(quiet)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	if rec.Code != http.StatusCreated || rec.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("code=%d id=%q", rec.Code, rec.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(HeaderRequestID) != "abc" {
		t.Fatalf("incoming id not kept: %q", rec.Header().Get(HeaderRequestID))
	}
}

func TestStatusWriterFlushes(t *testing.T) {
	h := Logger(quiet)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer lost http.Flusher")
		}
		_, _ = io.WriteString(w, "data: hi\n\n")
		f.Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if !rec.Flushed {
		t.Fatal("expected flush to reach the recorder")
	}
}

func TestRecoverCatchesPanic(t *testing.T) {
	h := Recover(quiet)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCORSOptionsReturns204(t *testing.T) {
	h := CORS("*")(http.HandlerFunc(ok))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS origin header")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "X-Response-Source") {
		t.Fatal("response source header should be exposed")
	}
}

func TestAuth(t *testing.T) {
	sessions := SessionFunc(func(r *http.Request) (string, bool) {
		id := r.Header.Get("X-Test-User")
		return id, id != ""
	})
	var seen string
	h := Auth(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Unauthorized") {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Test-User", "u1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "u1" {
		t.Fatalf("user = %q", seen)
	}
}

func TestJWTSessions(t *testing.T) {
	s := NewJWTSessions([]byte("secret"), "wellness")
	token, err := s.Issue("user-42", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if id, ok := s.Resolve(req); !ok || id != "user-42" {
		t.Fatalf("resolve = %q %v", id, ok)
	}

	other := NewJWTSessions([]byte("other"), "wellness")
	if _, ok := other.Resolve(req); ok {
		t.Fatal("token signed with another secret must be rejected")
	}
	if _, ok := NewJWTSessions([]byte("secret"), "elsewhere").Resolve(req); ok {
		t.Fatal("wrong issuer must be rejected")
	}

	expired, _ := s.Issue("user-42", -time.Minute)
	req.Header.Set("Authorization", "Bearer "+expired)
	if _, ok := s.Resolve(req); ok {
		t.Fatal("expired token must be rejected")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	raw, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := s.Verify(raw); err == nil {
		t.Fatal("alg none must be rejected")
	}

	if _, ok := s.Resolve(httptest.NewRequest("GET", "/", nil)); ok {
		t.Fatal("missing header must be rejected")
	}
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := resilience.NewKeyedLimiter(resilience.LimiterOpts{Rate: 0.001, Burst: 1}, time.Minute)
	h := RateLimit(limiter)(http.HandlerFunc(ok))

	call := func(user string) int {
		req := httptest.NewRequest("GET", "/", nil)
		if user != "" {
			req = req.WithContext(WithUserID(context.Background(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if call("a") != http.StatusOK || call("a") != http.StatusTooManyRequests {
		t.Fatal("second call for the same user should be limited")
	}
	if call("b") != http.StatusOK {
		t.Fatal("users have separate buckets")
	}
	if call("") != http.StatusOK || call("") != http.StatusTooManyRequests {
		t.Fatal("anonymous callers are keyed by address")
	}
}

func TestMetricsRecordsStatus(t *testing.T) {
	reg := metrics.New()
	h := Metrics(reg, "recommend")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/recommend", nil))
	if got := testutil.ToFloat64(reg.HTTPRequests.WithLabelValues("recommend", "400")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
}
