// Package proxy implements the public reverse proxy and HTML injector for
// the /p/<projectId>/* path family (spec §4.H).
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

const scriptTag = `<base href="/p/%s/">` + "\n" + `<script type="module" src="/static/visual-edit-script.js"></script>`

var headTagPattern = regexp.MustCompile(`(?i)<head[^>]*>`)

// InstanceLookup resolves a running instance's port for projectID.
type InstanceLookup func(projectID string) (port int, running bool)

// AutoStarter attempts to start a preview for projectID when no instance is
// currently running. On success it returns the assigned port and a nil
// error. On failure it returns a non-nil error; projectExists distinguishes
// "project directory does not exist" (404) from any other failure (500).
type AutoStarter func(ctx context.Context, projectID string) (port int, projectExists bool, err error)

// MarkActive refreshes the supervisor's lastActive timestamp for projectID.
type MarkActive func(projectID string)

// Proxy forwards /p/<id>/* requests to the owning child bundler and injects
// the visual-edit probe script into HTML root responses.
type Proxy struct {
	lookup     InstanceLookup
	autoStart  AutoStarter
	markActive MarkActive
	client     *http.Client
	log        logrus.FieldLogger
}

// New constructs a Proxy.
func New(lookup InstanceLookup, autoStart AutoStarter, markActive MarkActive, log logrus.FieldLogger) *Proxy {
	if log == nil {
		log = logrus.WithField("component", "proxy")
	}
	return &Proxy{
		lookup:     lookup,
		autoStart:  autoStart,
		markActive: markActive,
		client:     &http.Client{},
		log:        log,
	}
}

// ServeHTTP handles one /p/<projectId>/... request. projectID and tail are
// the path segments already split by the caller's router.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, projectID, tail string) {
	if tail == "" {
		http.Redirect(w, r, fmt.Sprintf("/p/%s/", projectID), http.StatusFound)
		return
	}

	port, running := p.lookup(projectID)
	if !running {
		startedPort, exists, err := p.autoStart(r.Context(), projectID)
		if err != nil {
			if !exists {
				http.Error(w, `{"success":false,"error":"project not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"success":false,"error":"failed to start preview"}`, http.StatusInternalServerError)
			return
		}
		port = startedPort
	}

	forwardPath := r.URL.Path
	if strings.Contains(tail, "/__jsx-") {
		if idx := strings.Index(r.URL.Path, "/__jsx-"); idx >= 0 {
			forwardPath = r.URL.Path[idx:]
		}
	}

	target := fmt.Sprintf("http://localhost:%d%s", port, forwardPath)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, `{"success":false,"error":"Proxy error"}`, http.StatusBadGateway)
		return
	}
	rewriteHeaders(req, r, port)

	resp, err := p.client.Do(req)
	if err != nil {
		http.Error(w, `{"success":false,"error":"Proxy error"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if p.markActive != nil {
		p.markActive(projectID)
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")

	if shouldInject(tail, resp.Header.Get("Content-Type")) {
		p.relayInjected(w, resp, projectID)
		return
	}

	relayHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func rewriteHeaders(req *http.Request, orig *http.Request, port int) {
	req.Header = make(http.Header)
	if v := orig.Header.Get("Accept"); v != "" {
		req.Header.Set("Accept", v)
	}
	if v := orig.Header.Get("Accept-Encoding"); v != "" {
		req.Header.Set("Accept-Encoding", v)
	}
	host := fmt.Sprintf("localhost:%d", port)
	req.Host = host
	req.Header.Set("Host", host)
	req.Header.Set("Origin", "http://"+host)
}

func relayHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func shouldInject(tail, contentType string) bool {
	if tail != "/" && !strings.HasSuffix(tail, "/index.html") {
		return false
	}
	return strings.Contains(contentType, "text/html")
}

func (p *Proxy) relayInjected(w http.ResponseWriter, resp *http.Response, projectID string) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, `{"success":false,"error":"Proxy error"}`, http.StatusBadGateway)
		return
	}

	injected := injectProbe(body, projectID)

	relayHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(injected)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(injected)
}

// injectProbe inserts the <base> tag and probe script tag immediately after
// the first <head> (case-insensitive) found in body.
func injectProbe(body []byte, projectID string) []byte {
	loc := headTagPattern.FindIndex(body)
	if loc == nil {
		return body
	}
	insertAt := loc[1]
	injection := []byte("\n" + fmt.Sprintf(scriptTag, projectID) + "\n")

	out := make([]byte, 0, len(body)+len(injection))
	out = append(out, body[:insertAt]...)
	out = append(out, injection...)
	out = append(out, body[insertAt:]...)
	return out
}
