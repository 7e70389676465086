package frontdoor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lookfree/omniflow-fly-server/internal/hmr"
	"github.com/lookfree/omniflow-fly-server/internal/proxy"
	"github.com/lookfree/omniflow-fly-server/internal/supervisor"
)

type staticError string

func (e staticError) Error() string { return string(e) }

const errProjectNotFound = staticError("project not found")

func testServer(t *testing.T) *Server {
	t.Helper()
	sm := supervisor.NewManager("true", 5200, 2, nil)
	p := proxy.New(
		func(string) (int, bool) { return 0, false },
		func(context.Context, string) (int, bool, error) { return 0, false, errProjectNotFound },
		nil, nil,
	)
	splicer := hmr.NewSplicer("/hmr", func(string) (int, bool) { return 0, false }, nil, nil)
	controlPlane := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return New(controlPlane, p, splicer, sm, nil)
}

func TestServeHTTPHealth(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestServeHTTPHealthMetricsShape(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "vite")
	require.Contains(t, body, "instances")
	require.Contains(t, body, "uptime")
}

func TestServeHTTPRoutesToControlPlane(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/projects/p1", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusTeapot, w.Code)
}

func TestServeHTTPStaticScript(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/static/visual-edit-script.js", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "jsx-element-click")
}

func TestServeHTTPWelcomePageIncludesCount(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "0 instances running")
}

func TestServeHTTPMetricsReturnsHealthMetricsJSON(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "vite")
	require.Contains(t, body, "instances")
}

func TestServeHTTPPrometheusMetrics(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "omniflow_running_instances")
}

func TestServeHTTPAssignsRequestID(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestServeHTTPPreservesIncomingRequestID(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, "fixed-id", w.Header().Get("X-Request-Id"))
}

func TestServeProxyPathSplitsProjectIDAndTail(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/p/proj1/about", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	// No instance running and no project dir: proxy reports 404.
	require.Equal(t, http.StatusNotFound, w.Code)
}
