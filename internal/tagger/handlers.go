package tagger

import (
	"encoding/json"
	"net/http"
)

// Handlers serves the three CORS-open query endpoints the bundler exposes
// over the id<->location map (spec §4.B).
type Handlers struct {
	sourceMap *SourceMap
}

// NewHandlers constructs Handlers over sourceMap.
func NewHandlers(sourceMap *SourceMap) *Handlers {
	return &Handlers{sourceMap: sourceMap}
}

func withCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
}

// ServeSourceMap handles GET /__jsx-source-map.
func (h *Handlers) ServeSourceMap(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	json.NewEncoder(w).Encode(h.sourceMap.All())
}

// ServeLocate handles GET /__jsx-locate?id=<id>.
func (h *Handlers) ServeLocate(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	id := r.URL.Query().Get("id")
	loc, ok := h.sourceMap.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(loc)
}

// ServeByFile handles GET /__jsx-by-file?file=<path>.
func (h *Handlers) ServeByFile(w http.ResponseWriter, r *http.Request) {
	withCORS(w)
	file := r.URL.Query().Get("file")
	json.NewEncoder(w).Encode(h.sourceMap.ByFile(file))
}
