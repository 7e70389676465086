// Package api exposes the project manager over the HTTP control plane,
// behind the HMAC auth middleware (spec §4.J).
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/lookfree/omniflow-fly-server/internal/project"
	"github.com/lookfree/omniflow-fly-server/internal/signing"
)

type bodyKey struct{}

// Credentials are the process-wide HMAC credentials. Either empty puts the
// control plane into unauthenticated development mode.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) devMode() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// Handler wires the project manager's operations onto an httprouter.Router.
type Handler struct {
	projects *project.Manager
	creds    Credentials
	log      logrus.FieldLogger
}

// NewRouter builds the full set of control-plane and public routes.
func NewRouter(projects *project.Manager, creds Credentials, log logrus.FieldLogger) *httprouter.Router {
	if log == nil {
		log = logrus.WithField("component", "api")
	}
	h := &Handler{projects: projects, creds: creds, log: log}

	r := httprouter.New()
	r.POST("/projects", h.auth(h.createProject))
	r.GET("/projects/:id", h.auth(h.getStatus))
	r.DELETE("/projects/:id", h.auth(h.deleteProject))
	r.PUT("/projects/:id/files", h.auth(h.updateFiles))
	r.GET("/projects/:id/files", h.auth(h.listFiles))
	r.GET("/projects/:id/files/*path", h.auth(h.readFile))
	r.POST("/projects/:id/preview/start", h.auth(h.startPreview))
	r.POST("/projects/:id/preview/stop", h.auth(h.stopPreview))
	r.POST("/projects/:id/reinstall", h.auth(h.reinstall))
	r.POST("/projects/:id/dependencies", h.auth(h.addDependency))
	r.DELETE("/projects/:id/dependencies/:package", h.auth(h.removeDependency))
	return r
}

// auth wraps handle with the §4.J authentication middleware.
func (h *Handler) auth(handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if h.creds.devMode() {
			h.log.Warn("running without API credentials configured: auth middleware disabled")
			handle(w, r, p)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		ts := r.Header.Get("X-Timestamp")
		sig := r.Header.Get("X-Signature")
		if apiKey == "" || ts == "" || sig == "" {
			writeAuthError(w, "AUTH_MISSING_HEADERS")
			return
		}
		if apiKey != h.creds.APIKey {
			writeAuthError(w, "AUTH_INVALID_KEY")
			return
		}
		tsInt, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			writeAuthError(w, "AUTH_INVALID_TIMESTAMP")
			return
		}
		if !signing.TimestampFresh(tsInt, time.Now(), signing.DefaultTolerance) {
			writeAuthError(w, "AUTH_TIMESTAMP_EXPIRED")
			return
		}

		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
		}
		if !signing.Verify(r.Method, r.URL.Path, string(body), ts, h.creds.APISecret, sig) {
			writeAuthError(w, "AUTH_INVALID_SIGNATURE")
			return
		}

		ctx := r.Context()
		r = r.WithContext(contextWithBody(ctx, body))
		handle(w, r, p)
	}
}

func writeAuthError(w http.ResponseWriter, code string) {
	writeEnvelope(w, http.StatusUnauthorized, envelope{Success: false, Error: code, Code: code})
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Success: false, Error: msg})
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: data})
}

func bodyFrom(r *http.Request) []byte {
	if b, ok := r.Context().Value(bodyKey{}).([]byte); ok {
		return b
	}
	body, _ := io.ReadAll(r.Body)
	return body
}

type createProjectRequest struct {
	ProjectID   string              `json:"projectId"`
	ProjectName string              `json:"projectName"`
	Description string              `json:"description"`
	Files       []fileUpdateRequest `json:"files"`
}

type fileUpdateRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Operation string `json:"operation"`
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createProjectRequest
	if err := json.Unmarshal(bodyFrom(r), &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ProjectID == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "projectId and projectName are required")
		return
	}

	files := make([]project.FileUpdate, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, project.FileUpdate{Path: f.Path, Content: f.Content, Operation: f.Operation})
	}

	res, err := h.projects.Create(r.Context(), project.CreateConfig{
		ProjectID:   req.ProjectID,
		ProjectName: req.ProjectName,
		Description: req.Description,
		Files:       files,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]interface{}{
		"dir":        res.Dir,
		"port":       res.Port,
		"previewUrl": res.PreviewURL,
		"hmrUrl":     res.HmrURL,
	})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	status, err := h.projects.GetStatus(p.ByName("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, status)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if err := h.projects.Delete(p.ByName("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]bool{"deleted": true})
}

type updateFilesRequest struct {
	Updates []fileUpdateRequest `json:"updates"`
}

func (h *Handler) updateFiles(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var req updateFilesRequest
	if err := json.Unmarshal(bodyFrom(r), &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	updates := make([]project.FileUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, project.FileUpdate{Path: u.Path, Content: u.Content, Operation: u.Operation})
	}
	if err := h.projects.UpdateFiles(p.ByName("id"), updates); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]bool{"updated": true})
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	files, err := h.projects.ListFiles(p.ByName("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, files)
}

func (h *Handler) readFile(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	path := p.ByName("path")
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	content, err := h.projects.ReadFile(p.ByName("id"), path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeData(w, map[string]string{"content": string(content)})
}

func (h *Handler) startPreview(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	inst, err := h.projects.StartPreview(r.Context(), p.ByName("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]int{"port": inst.Port})
}

func (h *Handler) stopPreview(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	h.projects.StopPreview(p.ByName("id"))
	writeData(w, map[string]bool{"stopped": true})
}

func (h *Handler) reinstall(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if err := h.projects.ReinstallDependencies(r.Context(), p.ByName("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]bool{"reinstalled": true})
}

type dependencyRequest struct {
	Package string `json:"package"`
	Dev     bool   `json:"dev"`
}

func (h *Handler) addDependency(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var req dependencyRequest
	if err := json.Unmarshal(bodyFrom(r), &req); err != nil || req.Package == "" {
		writeError(w, http.StatusBadRequest, "package is required")
		return
	}
	res := h.projects.AddDependency(r.Context(), p.ByName("id"), req.Package, req.Dev)
	if !res.Success {
		writeError(w, http.StatusInternalServerError, "dependency install failed")
		return
	}
	writeData(w, map[string]bool{"added": true})
}

func (h *Handler) removeDependency(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	res := h.projects.RemoveDependency(r.Context(), p.ByName("id"), p.ByName("package"))
	if !res.Success {
		writeError(w, http.StatusInternalServerError, "dependency removal failed")
		return
	}
	writeData(w, map[string]bool{"removed": true})
}
