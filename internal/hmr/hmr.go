// Package hmr splices hot-module-reload WebSocket traffic between end-user
// browsers and the owning project's child bundler (spec §4.G).
package hmr

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const connectTimeout = 5 * time.Second

// hmrSegmentPattern matches a "/hmr/<id>" segment anywhere in a path, per
// spec §4.G case 2 (e.g. "/hmr/<id>", "/p/<id>/hmr/<id>"). Project ids are
// caller-supplied and not fixed-length, so this captures whatever sits
// between "/hmr/" and the next "/" rather than constraining to a uuid
// length.
var hmrSegmentPattern = regexp.MustCompile(`/hmr/([^/]+)`)

// InstanceLookup resolves a projectId to its child's port, reporting
// whether the instance is currently running.
type InstanceLookup func(projectID string) (port int, running bool)

// Splicer handles both the managed-websocket-client path (case 1) and the
// raw-TCP passthrough path (case 2). Upgrades on a bare "/p/<id>/" path
// with no "/hmr/<id>" segment are not spliced.
type Splicer struct {
	hmrPath    string
	lookup     InstanceLookup
	markActive func(projectID string)
	log        logrus.FieldLogger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]map[*websocket.Conn]bool
	upstream map[string]*websocket.Conn
}

// NewSplicer constructs a Splicer. hmrPath is the external-client endpoint
// (default "/hmr").
func NewSplicer(hmrPath string, lookup InstanceLookup, markActive func(string), log logrus.FieldLogger) *Splicer {
	if hmrPath == "" {
		hmrPath = "/hmr"
	}
	if log == nil {
		log = logrus.WithField("component", "hmr")
	}
	return &Splicer{
		hmrPath:    hmrPath,
		lookup:     lookup,
		markActive: markActive,
		log:        log,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:    make(map[string]map[*websocket.Conn]bool),
		upstream:   make(map[string]*websocket.Conn),
	}
}

// ServeHTTP routes an incoming request to the managed-client path or the
// raw-TCP splice path, per the ordered resolution of spec §4.G.
func (s *Splicer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isUpgrade(r) {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.URL.Path == s.hmrPath {
		projectID := r.URL.Query().Get("projectId")
		s.serveManagedClient(w, r, projectID)
		return
	}

	if id := extractID(r.URL.Path); id != "" {
		s.serveRawSplice(w, r, id)
		return
	}

	http.Error(w, "missing project", http.StatusBadRequest)
}

func isUpgrade(r *http.Request) bool {
	for _, v := range r.Header.Values("Upgrade") {
		if v == "websocket" {
			return true
		}
	}
	return false
}

// extractID returns the id from the last "/hmr/<id>" segment in path, or ""
// if path contains no such segment. For "/p/<id>/hmr/<id>" this returns the
// id following "hmr/", which is the instance the raw splice dials.
func extractID(path string) string {
	if !strings.Contains(path, "/hmr/") {
		return ""
	}
	matches := hmrSegmentPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// serveManagedClient implements spec §4.G case 1: an external HMR client
// speaks WebSocket to us, we relay to a lazily-opened managed WebSocket
// connection to the child's root path, broadcasting child->client traffic
// to every client of that project.
func (s *Splicer) serveManagedClient(w http.ResponseWriter, r *http.Request, projectID string) {
	if projectID == "" {
		http.Error(w, "missing project", http.StatusBadRequest)
		return
	}
	port, running := s.lookup(projectID)
	if !running {
		http.Error(w, "instance not running", http.StatusServiceUnavailable)
		return
	}

	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade hmr client")
		return
	}
	defer s.disconnectClient(projectID, client)

	_ = client.WriteJSON(map[string]string{"type": "connected"})

	if err := s.ensureUpstream(projectID, port); err != nil {
		s.log.WithError(err).Warn("failed to dial child hmr endpoint")
		_ = client.Close()
		return
	}

	s.addClient(projectID, client)
	if s.markActive != nil {
		s.markActive(projectID)
	}

	for {
		_, msg, err := client.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		up := s.upstream[projectID]
		s.mu.Unlock()
		if up == nil {
			return
		}
		if err := up.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Splicer) ensureUpstream(projectID string, port int) error {
	s.mu.Lock()
	if _, ok := s.upstream[projectID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	url := fmt.Sprintf("ws://localhost:%d/", port)
	up, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.upstream[projectID] = up
	s.mu.Unlock()

	go s.broadcastUpstream(projectID, up)
	return nil
}

func (s *Splicer) broadcastUpstream(projectID string, up *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.upstream[projectID] == up {
			delete(s.upstream, projectID)
		}
		s.mu.Unlock()
		_ = up.Close()
	}()

	for {
		msgType, msg, err := up.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		clients := make([]*websocket.Conn, 0, len(s.clients[projectID]))
		for c := range s.clients[projectID] {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			_ = c.WriteMessage(msgType, msg)
		}
	}
}

func (s *Splicer) addClient(projectID string, c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[projectID] == nil {
		s.clients[projectID] = make(map[*websocket.Conn]bool)
	}
	s.clients[projectID][c] = true
}

func (s *Splicer) disconnectClient(projectID string, c *websocket.Conn) {
	s.mu.Lock()
	last := false
	if set := s.clients[projectID]; set != nil {
		delete(set, c)
		last = len(set) == 0
		if last {
			delete(s.clients, projectID)
		}
	}
	var up *websocket.Conn
	if last {
		up = s.upstream[projectID]
		delete(s.upstream, projectID)
	}
	s.mu.Unlock()
	_ = c.Close()
	if up != nil {
		_ = up.Close()
	}
}

// serveRawSplice implements spec §4.G case 2: hijack the client
// connection and splice it byte-for-byte to a freshly-dialed TCP socket to
// the child, after replaying a hand-built upgrade request.
func (s *Splicer) serveRawSplice(w http.ResponseWriter, r *http.Request, id string) {
	port, running := s.lookup(id)
	if !running {
		writeStatusLine(w, http.StatusServiceUnavailable, "instance not running")
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		writeStatusLine(w, http.StatusInternalServerError, "cannot hijack connection")
		return
	}
	clientConn, rw, err := hj.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	var head bytes.Buffer
	if rw.Reader.Buffered() > 0 {
		_, _ = io.CopyN(&head, rw.Reader, int64(rw.Reader.Buffered()))
	}

	upstreamConn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), connectTimeout)
	if err != nil {
		writeRawStatusLine(clientConn, http.StatusBadGateway, "upstream socket error")
		return
	}
	defer upstreamConn.Close()

	wsKey := r.Header.Get("Sec-WebSocket-Key")
	wsVersion := r.Header.Get("Sec-WebSocket-Version")
	if wsVersion == "" {
		wsVersion = "13"
	}

	upgradeReq := fmt.Sprintf(
		"GET / HTTP/1.1\r\n"+
			"Host: localhost:%d\r\n"+
			"Origin: http://localhost:%d\r\n"+
			"Connection: Upgrade\r\n"+
			"Upgrade: websocket\r\n"+
			"Sec-WebSocket-Key: %s\r\n"+
			"Sec-WebSocket-Version: %s\r\n\r\n",
		port, port, wsKey, wsVersion)
	if _, err := upstreamConn.Write([]byte(upgradeReq)); err != nil {
		writeRawStatusLine(clientConn, http.StatusBadGateway, "upstream socket error")
		return
	}
	if head.Len() > 0 {
		if _, err := upstreamConn.Write(head.Bytes()); err != nil {
			writeRawStatusLine(clientConn, http.StatusBadGateway, "upstream socket error")
			return
		}
	}

	if s.markActive != nil {
		s.markActive(id)
	}

	splice(clientConn, upstreamConn)
}

// splice pipes two connections bidirectionally until either side closes,
// mirroring the reverse-tunnel transport's dual io.Copy pump.
func splice(a, b net.Conn) {
	errCh := make(chan error, 2)
	go func() {
		defer a.Close()
		_, err := io.Copy(a, b)
		errCh <- err
	}()
	go func() {
		defer b.Close()
		_, err := io.Copy(b, a)
		errCh <- err
	}()
	<-errCh
}

func writeStatusLine(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

func writeRawStatusLine(conn net.Conn, code int, msg string) {
	line := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\n\r\n%s", code, http.StatusText(code), len(msg), msg)
	_, _ = conn.Write([]byte(line))
}
