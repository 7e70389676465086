// Package frontdoor composes the single public listener: control-plane
// routes, static assets, the reverse proxy, HMR upgrades, health routes,
// and the welcome page (spec §4.K).
package frontdoor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lookfree/omniflow-fly-server/internal/hmr"
	"github.com/lookfree/omniflow-fly-server/internal/proxy"
	"github.com/lookfree/omniflow-fly-server/internal/supervisor"
)

const visualEditScript = `// visual-edit-script.js: relays data-jsx-id click targets to the parent frame.
(function () {
  document.addEventListener("click", function (event) {
    var el = event.target.closest("[data-jsx-id]");
    if (!el) return;
    window.parent.postMessage({
      type: "jsx-element-click",
      id: el.getAttribute("data-jsx-id"),
      file: el.getAttribute("data-jsx-file"),
      line: el.getAttribute("data-jsx-line"),
      col: el.getAttribute("data-jsx-col"),
    }, "*");
  }, true);
})();
`

// Server composes every public route onto one http.Handler.
type Server struct {
	controlPlane http.Handler
	proxy        *proxy.Proxy
	splicer      *hmr.Splicer
	supervisor   *supervisor.Manager
	log          logrus.FieldLogger
	startedAt    time.Time

	registry *prometheus.Registry
}

// New composes the front door. controlPlane serves /projects/* and is
// expected to have been built with api.NewRouter.
func New(controlPlane http.Handler, p *proxy.Proxy, splicer *hmr.Splicer, sm *supervisor.Manager, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.WithField("component", "frontdoor")
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(promauto.With(registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "omniflow_running_instances",
		Help: "Number of currently running preview instances.",
	}, func() float64 { return float64(sm.GetRunningCount()) }))

	return &Server{
		controlPlane: controlPlane,
		proxy:        p,
		splicer:      splicer,
		supervisor:   sm,
		log:          log,
		startedAt:    time.Now(),
		registry:     registry,
	}
}

// ServeHTTP demultiplexes the public surface per spec §4.K / §6.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	switch {
	case r.URL.Path == "/":
		s.serveWelcome(w, r)
	case r.URL.Path == "/health" || r.URL.Path == "/health/ready" || r.URL.Path == "/health/live":
		s.serveHealth(w, r)
	case r.URL.Path == "/health/metrics":
		s.serveHealthMetrics(w, r)
	case r.URL.Path == "/health/debug/instances":
		s.serveDebugInstances(w, r)
	case r.URL.Path == "/metrics":
		s.serveHealthMetrics(w, r)
	case r.URL.Path == "/metrics/prometheus":
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	case r.URL.Path == "/static/visual-edit-script.js":
		s.serveStaticScript(w, r)
	case strings.HasPrefix(r.URL.Path, "/projects"):
		s.controlPlane.ServeHTTP(w, r)
	case r.URL.Path == "/hmr" || strings.Contains(r.URL.Path, "/hmr"):
		s.splicer.ServeHTTP(w, r)
	case strings.HasPrefix(r.URL.Path, "/p/"):
		s.serveProxy(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/p/")
	slash := strings.IndexByte(rest, '/')
	var projectID, tail string
	if slash < 0 {
		projectID, tail = rest, ""
	} else {
		projectID, tail = rest[:slash], rest[slash:]
	}
	s.proxy.ServeHTTP(w, r, projectID, tail)
}

func (s *Server) serveStaticScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write([]byte(visualEditScript))
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) serveHealthMetrics(w http.ResponseWriter, r *http.Request) {
	instances := s.supervisor.GetAll()
	counts := map[string]int{"running": 0, "starting": 0, "error": 0, "total": len(instances)}
	summaries := make([]map[string]interface{}, 0, len(instances))
	for _, inst := range instances {
		switch inst.Status {
		case supervisor.StatusRunning:
			counts["running"]++
		case supervisor.StatusStarting:
			counts["starting"]++
		case supervisor.StatusError:
			counts["error"]++
		}
		summaries = append(summaries, map[string]interface{}{
			"projectId": inst.ProjectID,
			"port":      inst.Port,
			"status":    inst.Status,
		})
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vite":      counts,
		"instances": summaries,
		"uptime":    time.Since(s.startedAt).Seconds(),
		"memory": map[string]uint64{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) serveDebugInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.GetAll())
}

func (s *Server) serveWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!doctype html>
<html><body>
<h1>omniflow preview server</h1>
<p>%d instances running</p>
</body></html>`, s.supervisor.GetRunningCount())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Shutdown destroys every running instance. The HMR splicer is not closed:
// it keeps accepting upgrades, and splices already in progress end only
// when their connections close.
func (s *Server) Shutdown(ctx context.Context) {
	s.supervisor.Destroy()
}
