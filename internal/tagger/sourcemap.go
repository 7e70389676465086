package tagger

import "sync"

// Location is the (file, line, column, elementName) a jsx id resolves to.
type Location struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	ElementName string `json:"elementName"`
}

// SourceMap is the process-wide id -> location table owned by the tagger.
// A single transform pass re-records a file's entries atomically: old
// entries for that file are dropped, then the new ones inserted, so
// concurrent readers never observe a torn entry (spec §5).
type SourceMap struct {
	mu      sync.RWMutex
	byID    map[string]Location
	byFile  map[string]map[string]struct{} // file -> set of ids recorded for it
}

// NewSourceMap returns an empty SourceMap.
func NewSourceMap() *SourceMap {
	return &SourceMap{
		byID:   make(map[string]Location),
		byFile: make(map[string]map[string]struct{}),
	}
}

// RecordFile atomically replaces all entries previously recorded for file
// with entries.
func (m *SourceMap) RecordFile(file string, entries map[string]Location) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.byFile[file] {
		delete(m.byID, id)
	}

	ids := make(map[string]struct{}, len(entries))
	for id, loc := range entries {
		m.byID[id] = loc
		ids[id] = struct{}{}
	}
	m.byFile[file] = ids
}

// Get returns the location for id, if recorded.
func (m *SourceMap) Get(id string) (Location, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.byID[id]
	return loc, ok
}

// ByFile returns all (id, location) pairs currently recorded for file.
func (m *SourceMap) ByFile(file string) map[string]Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Location, len(m.byFile[file]))
	for id := range m.byFile[file] {
		out[id] = m.byID[id]
	}
	return out
}

// All returns a snapshot of the entire map.
func (m *SourceMap) All() map[string]Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Location, len(m.byID))
	for id, loc := range m.byID {
		out[id] = loc
	}
	return out
}
