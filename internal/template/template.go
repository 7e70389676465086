// Package template owns the single managed template directory: built once,
// cloned for every new project (spec §4.E).
package template

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/lookfree/omniflow-fly-server/internal/deps"
	"github.com/lookfree/omniflow-fly-server/internal/fsutil"
	"github.com/lookfree/omniflow-fly-server/internal/scaffold"
)

// State is one of the template lifecycle states.
type State int

const (
	NotInitialised State = iota
	Initialising
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotInitialised:
		return "not-initialised"
	case Initialising:
		return "initialising"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Manager owns the lifecycle of the single template directory under
// dataDir/_template, and clones it into fresh project directories.
type Manager struct {
	dataDir      string
	prebuiltDir  string
	taggerDep    string
	publicHost   string
	https        bool
	deps         *deps.Manager
	log          logrus.FieldLogger

	mu    sync.RWMutex
	state State
	group singleflight.Group
}

// NewManager constructs a template Manager rooted at dataDir. prebuiltDir
// may be empty, disabling the build-time pre-warm fast path.
func NewManager(dataDir, prebuiltDir, taggerDep, publicHost string, https bool, dm *deps.Manager, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.WithField("component", "template")
	}
	return &Manager{
		dataDir:     dataDir,
		prebuiltDir: prebuiltDir,
		taggerDep:   taggerDep,
		publicHost:  publicHost,
		https:       https,
		deps:        dm,
		log:         log,
		state:       NotInitialised,
	}
}

// Dir is the path to the managed template directory.
func (m *Manager) Dir() string {
	return filepath.Join(m.dataDir, "_template")
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Initialize brings the template directory to Ready, idempotently.
// Concurrent callers share one in-flight job (spec §3, §4.E, §5).
func (m *Manager) Initialize(ctx context.Context) error {
	if m.State() == Ready && hasNodeModules(m.Dir()) {
		return nil
	}

	v, err, _ := m.group.Do("init", func() (interface{}, error) {
		return nil, m.initialize(ctx)
	})
	_ = v
	return err
}

func (m *Manager) initialize(ctx context.Context) error {
	m.setState(Initialising)
	dir := m.Dir()

	// Step 1: already populated under the data root.
	if hasNodeModules(dir) {
		m.setState(Ready)
		return nil
	}

	// Step 2: build-time pre-warmed directory.
	if m.prebuiltDir != "" && hasNodeModules(m.prebuiltDir) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			m.setState(Failed)
			return trace.Wrap(err, "creating data dir")
		}
		if err := fsutil.CopyTree(m.prebuiltDir, dir); err != nil {
			m.setState(Failed)
			_ = os.RemoveAll(dir)
			return trace.Wrap(err, "copying prebuilt template")
		}
		m.setState(Ready)
		return nil
	}

	// Step 3: slow path - scaffold and install.
	if err := m.slowInit(ctx, dir); err != nil {
		m.setState(Failed)
		_ = os.RemoveAll(dir)
		return trace.Wrap(err, "initialising template")
	}
	m.setState(Ready)
	return nil
}

func (m *Manager) slowInit(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return trace.Wrap(err)
	}

	files := scaffold.Scaffold(scaffold.Config{
		ProjectID:    "_template",
		ProjectName:  "Template",
		JSXTaggerDep: m.taggerDep,
		PublicHost:   m.publicHost,
		HTTPS:        m.https,
	})
	for _, f := range files {
		dest := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return trace.Wrap(err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return trace.Wrap(err)
		}
	}

	res := m.deps.Ensure(ctx, dir)
	if !res.Success {
		return trace.Errorf("template dependency install failed: %v", res.Logs)
	}
	return nil
}

// CreateFromTemplate clones the template directory into destDir,
// regenerating vite.config.ts there for projectID.
func (m *Manager) CreateFromTemplate(ctx context.Context, projectID, destDir string) error {
	if m.State() != Ready || !hasNodeModules(m.Dir()) {
		m.setState(NotInitialised)
		if err := m.Initialize(ctx); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := os.RemoveAll(destDir); err != nil {
		return trace.Wrap(err, "removing stale project directory")
	}
	if err := fsutil.CopyTree(m.Dir(), destDir); err != nil {
		return trace.Wrap(err, "cloning template")
	}

	idPrefix := projectID
	if len(idPrefix) > 8 {
		idPrefix = idPrefix[:8]
	}
	viteConfig := scaffold.GenerateViteConfig(scaffold.ViteConfig{
		ProjectID:  projectID,
		PublicHost: m.publicHost,
		HTTPS:      m.https,
		IDPrefix:   idPrefix,
	})
	if err := os.WriteFile(filepath.Join(destDir, scaffold.ViteConfigPath), []byte(viteConfig), 0o644); err != nil {
		return trace.Wrap(err, "writing vite config")
	}
	return nil
}

func hasNodeModules(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "node_modules"))
	return err == nil && info.IsDir()
}
