// Package deps wraps the external package-manager binary: install, add,
// remove, reinstall (spec §4.C).
package deps

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Result is the outcome of a single package-manager invocation.
type Result struct {
	Success    bool
	DurationMs int64
	Logs       []string
}

// Manager runs the configured package-manager binary against project
// directories, single-flighting concurrent installs of the same directory.
type Manager struct {
	binary string
	log    logrus.FieldLogger
	group  singleflight.Group
}

// NewManager constructs a Manager that invokes binary (empty uses the
// platform default "bun").
func NewManager(binary string, log logrus.FieldLogger) *Manager {
	if binary == "" {
		binary = "bun"
	}
	if log == nil {
		log = logrus.WithField("component", "deps")
	}
	return &Manager{binary: binary, log: log}
}

// Install installs dependencies in dir, skipping work if node_modules
// already exists. Concurrent Install calls for the same dir share one
// in-flight job (spec §4.C, §5, §8 property 2).
func (m *Manager) Install(ctx context.Context, dir string) Result {
	if info, err := os.Stat(filepath.Join(dir, "node_modules")); err == nil && info.IsDir() {
		return Result{Success: true, Logs: []string{"node_modules already present, skipping install"}}
	}

	v, _, _ := m.group.Do(dir, func() (interface{}, error) {
		return m.run(ctx, dir, "install"), nil
	})
	return v.(Result)
}

// Ensure always runs the package manager, even if node_modules already
// exists, to heal a partial/broken tree.
func (m *Manager) Ensure(ctx context.Context, dir string) Result {
	v, _, _ := m.group.Do(dir, func() (interface{}, error) {
		return m.run(ctx, dir, "install"), nil
	})
	return v.(Result)
}

// Reinstall deletes node_modules then installs from scratch.
func (m *Manager) Reinstall(ctx context.Context, dir string) Result {
	if err := os.RemoveAll(filepath.Join(dir, "node_modules")); err != nil {
		return Result{Success: false, Logs: []string{err.Error()}}
	}
	return m.Ensure(ctx, dir)
}

// Add installs pkg into dir's manifest, as a dev dependency if dev is true.
func (m *Manager) Add(ctx context.Context, dir, pkg string, dev bool) Result {
	args := []string{"add", pkg}
	if dev {
		args = []string{"add", "-d", pkg}
	}
	return m.run(ctx, dir, args...)
}

// Remove uninstalls pkg from dir's manifest.
func (m *Manager) Remove(ctx context.Context, dir, pkg string) Result {
	return m.run(ctx, dir, "remove", pkg)
}

func (m *Manager) run(ctx context.Context, dir string, args ...string) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CI=true", "BUN_INSTALL_NON_INTERACTIVE=1")

	out, err := cmd.CombinedOutput()
	res := Result{
		DurationMs: time.Since(start).Milliseconds(),
		Logs:       []string{string(out)},
	}
	if err != nil {
		m.log.WithError(err).WithField("dir", dir).Warn("package manager invocation failed")
		res.Success = false
		res.Logs = append(res.Logs, err.Error())
		return res
	}
	res.Success = true
	return res
}
