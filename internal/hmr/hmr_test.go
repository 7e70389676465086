package hmr

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractID(t *testing.T) {
	id := "123456789012345678901234567890123456"
	require.Len(t, id, 36)

	require.Equal(t, id, extractID("/hmr/"+id))
	require.Equal(t, id, extractID("/p/proj1/hmr/"+id))

	// Project ids are caller-supplied and may be short (e.g. "p1"), not
	// fixed-length uuids; the raw-splice path must still match these.
	require.Equal(t, "p1", extractID("/hmr/p1"))
	require.Equal(t, "p1", extractID("/p/p1/hmr/p1"))
	require.Equal(t, "", extractID("/hmr"))
	require.Equal(t, "", extractID("/projects/p1"))
}

func TestServeHTTPNonUpgradeReturnsEmpty200(t *testing.T) {
	s := NewSplicer("/hmr", func(string) (int, bool) { return 0, false }, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/hmr", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())
}

func TestServeHTTPMissingProjectOnManagedPathReturns400(t *testing.T) {
	s := NewSplicer("/hmr", func(string) (int, bool) { return 0, false }, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/hmr", nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHTTPInstanceNotRunningReturns503(t *testing.T) {
	s := NewSplicer("/hmr", func(string) (int, bool) { return 0, false }, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/hmr?projectId=p1", nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeHTTPRawSpliceInstanceNotRunningReturns503(t *testing.T) {
	s := NewSplicer("/hmr", func(string) (int, bool) { return 0, false }, nil, nil)

	id := "123456789012345678901234567890123456"
	req := httptest.NewRequest(http.MethodGet, "/hmr/"+id, nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIsUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/hmr", nil)
	require.False(t, isUpgrade(req))
	req.Header.Set("Upgrade", "websocket")
	require.True(t, isUpgrade(req))
}
