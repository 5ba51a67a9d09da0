package ratelimit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
	"apikey-gateway/middleware/ratelimit/infra"
)

const adminKey = "admin-secret"

func newConfigHandler(t *testing.T) (*ConfigHandler, *infra.Registry) {
	t.Helper()
	src := infra.NewMemoryConfigSource(nil)
	reg := infra.NewRegistry(src)
	svc := application.LimitConfigService{Source: src, Registry: reg, Log: zaptest.NewLogger(t)}
	auth := NewHeaderAdminAuthorizer(DefaultKeyFunc(""), adminKey)
	return NewConfigHandler(zaptest.NewLogger(t), svc, auth, ""), reg
}

func configRequest(method, path, key, body string) *http.Request {
	r := httptest.NewRequest(method, "http://example"+DefaultConfigPrefix+path, strings.NewReader(body))
	if key != "" {
		r.Header.Set(DefaultKeyHeader, key)
	}
	return r
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestConfigHandler_RoundTrip(t *testing.T) {
	h, _ := newConfigHandler(t)

	w := serve(h, configRequest(http.MethodPut, "/c/"+domain.MaxActivePerAPIKey, adminKey, `"2"`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(h, configRequest(http.MethodGet, "/c/"+domain.MaxActivePerAPIKey, adminKey, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "xml")
	assert.Contains(t, w.Body.String(), "<key>"+domain.MaxActivePerAPIKey+"</key>")
	assert.Contains(t, w.Body.String(), "<value>2</value>")
}

func TestConfigHandler_JSON(t *testing.T) {
	h, _ := newConfigHandler(t)

	r := configRequest(http.MethodGet, "/c/"+domain.MaxConcurrentPerAPIKey, adminKey, "")
	r.Header.Set("Accept", "application/json")
	w := serve(h, r)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.MaxConcurrentPerAPIKey, got.Key)
	assert.Equal(t, "6", got.Value)
}

func TestConfigHandler_GetAll(t *testing.T) {
	h, _ := newConfigHandler(t)

	w := serve(h, configRequest(http.MethodGet, "/", adminKey, ""))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "<configurations>")
	active := strings.Index(body, domain.MaxActivePerAPIKey)
	concurrent := strings.Index(body, domain.MaxConcurrentPerAPIKey)
	require.True(t, active >= 0 && concurrent >= 0, body)
	assert.Less(t, active, concurrent)
}

// testContext substitui t.Context (Go 1.24+): cancelado ao fim do teste.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestConfigHandler_RequiresAdmin(t *testing.T) {
	h, reg := newConfigHandler(t)
	reg.PoolFor(testContext(t), "translator")

	requests := []*http.Request{
		configRequest(http.MethodGet, "/", "translator", ""),
		configRequest(http.MethodGet, "/c/"+domain.MaxActivePerAPIKey, "translator", ""),
		configRequest(http.MethodPut, "/c/"+domain.MaxActivePerAPIKey, "translator", "1"),
		configRequest(http.MethodPut, "/c/"+domain.MaxActivePerAPIKey, "", "1"),
		// 403 vem antes da validação da chave.
		configRequest(http.MethodGet, "/c/unknown", "translator", ""),
	}
	for _, r := range requests {
		w := serve(h, r)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", r.Method, r.URL.Path)
	}

	st, _ := reg.Snapshot("translator")
	assert.Equal(t, domain.DefaultMaxActive, st.Capacity[domain.Active])
}

func TestConfigHandler_UnknownKey(t *testing.T) {
	h, reg := newConfigHandler(t)
	reg.PoolFor(testContext(t), "translator")

	w := serve(h, configRequest(http.MethodGet, "/c/unknown.key", adminKey, ""))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(h, configRequest(http.MethodPut, "/c/unknown.key", adminKey, "3"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	st, _ := reg.Snapshot("translator")
	assert.Equal(t, domain.DefaultMaxConcurrent, st.Capacity[domain.Concurrent])
	assert.Equal(t, domain.DefaultMaxActive, st.Capacity[domain.Active])
}

func TestConfigHandler_InvalidValue(t *testing.T) {
	h, _ := newConfigHandler(t)

	for _, body := range []string{"abc", "-1", ""} {
		w := serve(h, configRequest(http.MethodPut, "/c/"+domain.MaxConcurrentPerAPIKey, adminKey, body))
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}

	w := serve(h, configRequest(http.MethodGet, "/c/"+domain.MaxConcurrentPerAPIKey, adminKey, ""))
	assert.Contains(t, w.Body.String(), "<value>6</value>")
}

func TestConfigHandler_PutResizesPools(t *testing.T) {
	h, reg := newConfigHandler(t)
	reg.PoolFor(testContext(t), "translator")

	w := serve(h, configRequest(http.MethodPut, "/c/"+domain.MaxConcurrentPerAPIKey, adminKey, "2"))
	require.Equal(t, http.StatusOK, w.Code)

	st, _ := reg.Snapshot("translator")
	assert.Equal(t, 2, st.Capacity[domain.Concurrent])
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "2", unquote(`"2"`))
	assert.Equal(t, "2", unquote(" 2\n"))
	assert.Equal(t, `"`, unquote(`"`))
}

func TestConfigHandler_PutBodyErrors(t *testing.T) {
	h, _ := newConfigHandler(t)
	path := "/c/" + domain.MaxActivePerAPIKey

	w := serve(h, configRequest(http.MethodPut, path, adminKey, strings.Repeat("1", maxValueSize+1)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// corpo interrompido (cliente caiu) não é "grande demais".
	r := configRequest(http.MethodPut, path, adminKey, "")
	r.Body = io.NopCloser(iotest.ErrReader(io.ErrUnexpectedEOF))
	w = serve(h, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
