package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testManager builds a Manager whose "bundler" binary is "true" and with
// short readiness/stop timeouts. spawn() itself is not exercised by these
// port-pool/state-machine tests, which poke the unexported fields directly
// since they live in the same package; readiness tests point waitReady at
// an httptest server instead.
func testManager(basePort, maxInstances int) *Manager {
	m := NewManager("true", basePort, maxInstances, nil)
	m.readyTimeout = 50 * time.Millisecond
	m.readyPoll = 5 * time.Millisecond
	m.stopTimeout = 50 * time.Millisecond
	return m
}

func TestPortPoolExhaustion(t *testing.T) {
	m := testManager(5200, 2)

	m.mu.Lock()
	_, ok1 := m.allocatePort()
	_, ok2 := m.allocatePort()
	_, ok3 := m.allocatePort()
	m.mu.Unlock()

	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestPortConservation(t *testing.T) {
	m := testManager(5200, 5)

	m.mu.Lock()
	p, ok := m.allocatePort()
	require.True(t, ok)
	require.Len(t, m.freePorts, 4)
	m.releasePort(p)
	require.Len(t, m.freePorts, 5)
	m.mu.Unlock()
}

func TestMarkActiveIsSafeOnUnknownProject(t *testing.T) {
	m := testManager(5200, 2)
	require.NotPanics(t, func() { m.MarkActive("does-not-exist") })
}

func TestGetInstanceReturnsNilWhenAbsent(t *testing.T) {
	m := testManager(5200, 2)
	require.Nil(t, m.GetInstance("missing"))
}

func TestIdleSweepStopsExpiredInstance(t *testing.T) {
	m := testManager(5200, 2)
	m.idleTimeout = 10 * time.Millisecond

	m.mu.Lock()
	port, _ := m.allocatePort()
	inst := &Instance{ProjectID: "p1", Port: port, Status: StatusRunning, LastActive: time.Now().Add(-time.Hour)}
	m.instances["p1"] = inst
	m.mu.Unlock()

	m.sweepIdle()

	require.Nil(t, m.GetInstance("p1"))
	require.Len(t, m.freePorts, 2)
}

func TestIdleSweepSparesRecentlyActiveInstance(t *testing.T) {
	m := testManager(5200, 2)
	m.idleTimeout = time.Hour

	m.mu.Lock()
	port, _ := m.allocatePort()
	inst := &Instance{ProjectID: "p1", Port: port, Status: StatusRunning, LastActive: time.Now()}
	m.instances["p1"] = inst
	m.mu.Unlock()

	m.sweepIdle()

	require.NotNil(t, m.GetInstance("p1"))
}

func TestGetPreviewAndHmrUrlRequireRunningInstance(t *testing.T) {
	m := testManager(5200, 2)
	_, ok := m.GetPreviewUrl("p1")
	require.False(t, ok)

	m.mu.Lock()
	m.instances["p1"] = &Instance{ProjectID: "p1", Port: 5200, Status: StatusRunning}
	m.mu.Unlock()

	url, ok := m.GetPreviewUrl("p1")
	require.True(t, ok)
	require.Equal(t, "/p/p1/", url)

	hmr, ok := m.GetHmrUrl("p1")
	require.True(t, ok)
	require.Equal(t, "/hmr/p1", hmr)
}

func TestWaitReadyAcceptsOkAndNotFound(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		u, _ := url.Parse(srv.URL)
		port := mustPort(t, u.Port())

		m := testManager(port, 1)
		inst := &Instance{ProjectID: "p", Port: port}
		require.NoError(t, m.waitReady(context.Background(), inst))
		srv.Close()
	}
}

func TestWaitReadyTimesOutWhenNothingListens(t *testing.T) {
	m := testManager(5200, 1)
	m.readyTimeout = 20 * time.Millisecond
	inst := &Instance{ProjectID: "p", Port: 1} // nothing listens on port 1
	err := m.waitReady(context.Background(), inst)
	require.Error(t, err)
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	p, err := strconv.Atoi(s)
	require.NoError(t, err)
	return p
}
