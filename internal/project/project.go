// Package project orchestrates the template manager, dependency helper,
// and instance supervisor against the on-disk project directories it
// exclusively owns (spec §4.I).
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/lookfree/omniflow-fly-server/internal/deps"
	"github.com/lookfree/omniflow-fly-server/internal/fsutil"
	"github.com/lookfree/omniflow-fly-server/internal/scaffold"
	"github.com/lookfree/omniflow-fly-server/internal/supervisor"
	"github.com/lookfree/omniflow-fly-server/internal/template"
)

var idSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// skipList is preserved from the cloned template on create, rather than
// overwritten by user-supplied files, so the template's resolved
// dependency tree survives (spec §4.I create, §8 property 12).
var skipList = map[string]bool{
	"package.json":       true,
	"package-lock.json":  true,
	"bun.lockb":          true,
	"bun.lock":           true,
	"vite.config.ts":     true,
	"vite.config.js":     true,
	"tsconfig.json":      true,
	"tsconfig.node.json": true,
	"postcss.config.js":  true,
	"tailwind.config.js": true,
}

// FileUpdate is one entry in an updateFiles batch.
type FileUpdate struct {
	Path      string
	Content   string
	Operation string // create, update, delete; defaults to update
}

// CreateConfig is the input to Create.
type CreateConfig struct {
	ProjectID   string
	ProjectName string
	Description string
	Files       []FileUpdate
}

// CreateResult is the output of Create.
type CreateResult struct {
	Dir        string
	Port       int
	PreviewURL string
	HmrURL     string
}

// Status is the output of GetStatus.
type Status struct {
	Exists           bool
	DevServerRunning bool
	Port             int
	FileCount        int
	LastModified     time.Time
	HasLastModified  bool
}

// Manager orchestrates the template manager, dependency helper, and
// supervisor, and exclusively owns on-disk project directories.
type Manager struct {
	dataDir    string
	template   *template.Manager
	deps       *deps.Manager
	supervisor *supervisor.Manager
	log        logrus.FieldLogger
}

// NewManager constructs a project Manager.
func NewManager(dataDir string, tm *template.Manager, dm *deps.Manager, sm *supervisor.Manager, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.WithField("component", "project")
	}
	return &Manager{dataDir: dataDir, template: tm, deps: dm, supervisor: sm, log: log}
}

// GetProjectPath sanitises id to [A-Za-z0-9_-] and joins it with the data
// root. Never accepts absolute paths or traversal (spec §4.I, §8 property 9).
func (m *Manager) GetProjectPath(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "")
	return filepath.Join(m.dataDir, sanitized)
}

// Create clones the template (or falls back to scaffold+install), writes
// the user's files while preserving the config skip-list, and starts the
// bundler.
func (m *Manager) Create(ctx context.Context, cfg CreateConfig) (*CreateResult, error) {
	if cfg.ProjectID == "" || cfg.ProjectName == "" {
		return nil, trace.BadParameter("projectId and projectName are required")
	}
	dir := m.GetProjectPath(cfg.ProjectID)

	if m.template.State() == template.Ready {
		if err := m.template.CreateFromTemplate(ctx, cfg.ProjectID, dir); err != nil {
			return nil, trace.Wrap(err, "cloning template")
		}
		if err := m.applyUserFiles(dir, cfg.Files, true); err != nil {
			return nil, trace.Wrap(err)
		}
		changed, err := mergeUserDependencies(dir, cfg.Files)
		if err != nil {
			return nil, trace.Wrap(err, "merging user dependencies")
		}
		if changed {
			if res := m.deps.Ensure(ctx, dir); !res.Success {
				return nil, trace.Errorf("dependency install failed: %v", res.Logs)
			}
		}
	} else {
		if err := m.slowCreate(ctx, dir, cfg); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	inst, err := m.supervisor.Start(ctx, cfg.ProjectID, dir)
	if err != nil {
		return nil, trace.Wrap(err, "starting preview")
	}

	return &CreateResult{
		Dir:        dir,
		Port:       inst.Port,
		PreviewURL: fmt.Sprintf("/p/%s/", cfg.ProjectID),
		HmrURL:     fmt.Sprintf("/hmr/%s", cfg.ProjectID),
	}, nil
}

func (m *Manager) slowCreate(ctx context.Context, dir string, cfg CreateConfig) error {
	files := scaffold.Scaffold(scaffold.Config{
		ProjectID:   cfg.ProjectID,
		ProjectName: cfg.ProjectName,
		Description: cfg.Description,
	})
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return trace.Wrap(err)
	}
	for _, f := range files {
		if err := writeFile(dir, f.Path, f.Content); err != nil {
			return trace.Wrap(err)
		}
	}
	if err := m.applyUserFiles(dir, cfg.Files, false); err != nil {
		return trace.Wrap(err)
	}

	res := m.deps.Install(ctx, dir)
	if !res.Success {
		return trace.Errorf("dependency install failed: %v", res.Logs)
	}
	return nil
}

// applyUserFiles writes cfg.Files, skipping skip-listed config paths when
// preserveSkipList is true (i.e. we just cloned a ready template).
func (m *Manager) applyUserFiles(dir string, files []FileUpdate, preserveSkipList bool) error {
	for _, f := range files {
		if preserveSkipList && skipList[filepath.Base(f.Path)] {
			continue
		}
		if err := writeFile(dir, f.Path, f.Content); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// mergeUserDependencies reads the user-supplied package.json out of files
// (if any), diffs its dependencies/devDependencies against the template
// manifest already cloned onto dir, and merges in any packages the template
// doesn't already carry. Returns true if the manifest changed, meaning the
// caller must run an install to pick up the delta (spec §4.I create,
// §8 property 12: on-disk manifest is the template's, "possibly extended
// with the user's novel dependencies").
func mergeUserDependencies(dir string, files []FileUpdate) (bool, error) {
	var userPkg string
	for _, f := range files {
		if filepath.Base(f.Path) == "package.json" {
			userPkg = f.Content
			break
		}
	}
	if userPkg == "" {
		return false, nil
	}

	var user struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(userPkg), &user); err != nil {
		return false, trace.Wrap(err, "parsing user package.json")
	}

	manifestPath := filepath.Join(dir, "package.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return false, trace.Wrap(err)
	}
	var manifest map[string]interface{}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return false, trace.Wrap(err, "parsing template package.json")
	}

	changed := mergeDepSection(manifest, "dependencies", user.Dependencies)
	changed = mergeDepSection(manifest, "devDependencies", user.DevDependencies) || changed
	if !changed {
		return false, nil
	}

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return false, trace.Wrap(err)
	}
	return true, trace.Wrap(os.WriteFile(manifestPath, out, 0o644))
}

// mergeDepSection adds any package from novel not already present in
// manifest[section], creating the section if needed. Returns true if it
// added anything.
func mergeDepSection(manifest map[string]interface{}, section string, novel map[string]string) bool {
	if len(novel) == 0 {
		return false
	}
	existing, _ := manifest[section].(map[string]interface{})
	if existing == nil {
		existing = make(map[string]interface{})
	}
	added := false
	for pkg, version := range novel {
		if _, ok := existing[pkg]; ok {
			continue
		}
		existing[pkg] = version
		added = true
	}
	if added {
		manifest[section] = existing
	}
	return added
}

func writeFile(dir, relPath, content string) error {
	dest := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.WriteFile(dest, []byte(content), 0o644))
}

// GetStatus reports on a project's on-disk and runtime state.
func (m *Manager) GetStatus(id string) (*Status, error) {
	dir := m.GetProjectPath(id)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Status{Exists: false}, nil
		}
		return nil, trace.Wrap(err)
	}

	count, err := fsutil.CountFiles(dir, "node_modules", ".git")
	if err != nil {
		return nil, trace.Wrap(err)
	}

	status := &Status{
		Exists:          true,
		FileCount:       count,
		LastModified:    info.ModTime(),
		HasLastModified: true,
	}
	if inst := m.supervisor.GetInstance(id); inst != nil && inst.Status == supervisor.StatusRunning {
		status.DevServerRunning = true
		status.Port = inst.Port
	}
	return status, nil
}

// UpdateFiles applies a batch of creates/updates/deletes sequentially then
// marks the instance active.
func (m *Manager) UpdateFiles(id string, updates []FileUpdate) error {
	dir := m.GetProjectPath(id)
	for _, u := range updates {
		op := u.Operation
		if op == "" {
			op = "update"
		}
		dest := filepath.Join(dir, u.Path)
		switch op {
		case "delete":
			if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
				return trace.Wrap(err)
			}
		default:
			if err := writeFile(dir, u.Path, u.Content); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	m.supervisor.MarkActive(id)
	return nil
}

// ReadFile returns the contents of path within project id, or an error if
// it does not exist.
func (m *Manager) ReadFile(id, path string) ([]byte, error) {
	dest := filepath.Join(m.GetProjectPath(id), path)
	data, err := os.ReadFile(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("file %q not found", path)
		}
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// ListFiles returns the sorted relative path of every non-directory entry
// (symlinks included, not followed) under project id, pruning node_modules
// and .git.
func (m *Manager) ListFiles(id string) ([]string, error) {
	dir := m.GetProjectPath(id)
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return trace.Wrap(err)
		}
		if info.IsDir() {
			if path != dir && (info.Name() == "node_modules" || info.Name() == ".git") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return trace.Wrap(err)
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sort.Strings(out)
	return out, nil
}

// StartPreview installs dependencies if needed then starts the bundler.
func (m *Manager) StartPreview(ctx context.Context, id string) (*supervisor.Instance, error) {
	dir := m.GetProjectPath(id)
	if res := m.deps.Install(ctx, dir); !res.Success {
		return nil, trace.Errorf("dependency install failed: %v", res.Logs)
	}
	inst, err := m.supervisor.Start(ctx, id, dir)
	return inst, trace.Wrap(err)
}

// StopPreview stops the bundler for id.
func (m *Manager) StopPreview(id string) {
	m.supervisor.Stop(id)
}

// Delete stops the instance then removes the project directory.
func (m *Manager) Delete(id string) error {
	m.supervisor.Stop(id)
	return trace.Wrap(os.RemoveAll(m.GetProjectPath(id)))
}

// ReinstallDependencies stops, reinstalls from scratch, and restarts.
func (m *Manager) ReinstallDependencies(ctx context.Context, id string) error {
	dir := m.GetProjectPath(id)
	m.supervisor.Stop(id)
	if res := m.deps.Reinstall(ctx, dir); !res.Success {
		return trace.Errorf("dependency reinstall failed: %v", res.Logs)
	}
	_, err := m.supervisor.Start(ctx, id, dir)
	return trace.Wrap(err)
}

// AddDependency delegates to the dependency helper.
func (m *Manager) AddDependency(ctx context.Context, id, pkg string, dev bool) deps.Result {
	return m.deps.Add(ctx, m.GetProjectPath(id), pkg, dev)
}

// RemoveDependency delegates to the dependency helper.
func (m *Manager) RemoveDependency(ctx context.Context, id, pkg string) deps.Result {
	return m.deps.Remove(ctx, m.GetProjectPath(id), pkg)
}
