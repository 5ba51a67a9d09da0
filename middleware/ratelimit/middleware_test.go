package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/infra"
)

func newRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example/rest/test", nil)
	if key != "" {
		r.Header.Set(DefaultKeyHeader, key)
	}
	return r
}

// blockingHandler segura a requisição até release ser fechado.
func blockingHandler(entered chan<- struct{}, release <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_RejectsWhenKeyIsFull(t *testing.T) {
	reg := infra.NewRegistry(nil, infra.WithDefaults(1, 1))
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	h := Middleware(Options{
		Guard:      application.AdmissionGuard{Registry: reg},
		Log:        zaptest.NewLogger(t),
		RetryAfter: 2 * time.Second,
	})(blockingHandler(entered, release))

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest("translator"))
		done <- w
	}()
	<-entered

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("translator"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "too many concurrent requests") {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	// outra chave não é afetada.
	other := httptest.NewRecorder()
	go func() { <-entered }()
	close(release)
	h.ServeHTTP(other, newRequest("admin"))
	if other.Code != http.StatusOK {
		t.Fatalf("expected 200 for other key, got %d", other.Code)
	}

	first := <-done
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 for held request, got %d", first.Code)
	}

	st, _ := reg.Snapshot("translator")
	assert.Equal(t, [2]int{0, 0}, st.Outstanding)
}

func TestMiddleware_MissingKey(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	reg := infra.NewRegistry(nil)
	h := Middleware(Options{Guard: application.AdmissionGuard{Registry: reg}})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("next must not run, ran %d times", calls)
	}
	if reg.Len() != 0 {
		t.Fatalf("no pool should be created without a key")
	}
}

func TestMiddleware_ReleasesAfterHandlerOutcome(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"ok": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		},
		"mapped error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no such entity", http.StatusNotFound)
		},
		"panic": func(w http.ResponseWriter, r *http.Request) {
			panic("unmapped failure")
		},
	}

	for name, next := range cases {
		t.Run(name, func(t *testing.T) {
			reg := infra.NewRegistry(nil, infra.WithDefaults(1, 1))
			log := zaptest.NewLogger(t)
			h := Recover(log)(Middleware(Options{
				Guard: application.AdmissionGuard{Registry: reg},
				Log:   log,
			})(next))

			var codes []int
			for iter := 0; iter < 4; iter++ {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, newRequest("admin"))
				codes = append(codes, w.Code)
			}
			for _, code := range codes {
				require.NotEqual(t, http.StatusTooManyRequests, code, "permits leaked: %v", codes)
			}

			st, ok := reg.Snapshot("admin")
			require.True(t, ok)
			assert.Equal(t, [2]int{0, 0}, st.Outstanding)
		})
	}
}

func TestMiddleware_LimitHeaders(t *testing.T) {
	reg := infra.NewRegistry(nil, infra.WithDefaults(3, 1))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	h := Middleware(Options{
		Guard:           application.AdmissionGuard{Registry: reg},
		AddLimitHeaders: true,
	})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("k"))
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit-Concurrent"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit-Active"))
}

func TestMiddleware_RecordsStats(t *testing.T) {
	reg := infra.NewRegistry(nil, infra.WithDefaults(1, 1))
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	guard := application.AdmissionGuard{Registry: reg}

	var nested *httptest.ResponseRecorder
	var h http.Handler
	h = Middleware(Options{Guard: guard, Stats: stats})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// segunda entrada da mesma chave enquanto a primeira segura as vagas.
		nested = httptest.NewRecorder()
		h.ServeHTTP(nested, newRequest("k"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), newRequest("k"))
	require.NotNil(t, nested)
	assert.Equal(t, http.StatusTooManyRequests, nested.Code)

	total := stats.Total()
	assert.Equal(t, int64(1), total.Admitted)
	assert.Equal(t, int64(1), total.RejectedConcurrent)
	assert.Equal(t, int64(1), stats.ByKey()["k"].RejectedConcurrent)
}

func TestMiddleware_ThrottlesRejectionLogs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := infra.NewRegistry(nil, infra.WithDefaults(0, 0))

	h := Middleware(Options{
		Guard:    application.AdmissionGuard{Registry: reg},
		Log:      zap.New(core),
		Throttle: infra.NewLogThrottle(time.Hour, 1),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for iter := 0; iter < 5; iter++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest("noisy"))
		require.Equal(t, http.StatusTooManyRequests, w.Code)
	}
	h.ServeHTTP(httptest.NewRecorder(), newRequest("other"))

	assert.Equal(t, 2, logs.FilterMessage("too many concurrent requests").Len())
}

func TestRecover_WritesInternalServerError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recover(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("k"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic").Len())
}

func TestRecover_KeepsStatusAlreadyWritten(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "partial")
		panic("late")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest("k"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestRecover_RethrowsAbortHandler(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), newRequest("k"))
	})
}
