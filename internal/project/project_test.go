package project

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lookfree/omniflow-fly-server/internal/deps"
	"github.com/lookfree/omniflow-fly-server/internal/supervisor"
	"github.com/lookfree/omniflow-fly-server/internal/template"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dataDir := t.TempDir()
	dm := deps.NewManager("false", nil)
	tm := template.NewManager(dataDir, "", "", "", false, dm, nil)
	sm := supervisor.NewManager("true", 5200, 2, nil)
	return NewManager(dataDir, tm, dm, sm, nil), dataDir
}

func TestGetProjectPathSanitisesTraversal(t *testing.T) {
	m, dataDir := newTestManager(t)
	p := m.GetProjectPath("../../etc/passwd")
	require.Equal(t, filepath.Join(dataDir, "etcpasswd"), p)
	require.NotContains(t, p, "..")
}

func TestGetStatusReportsMissingProject(t *testing.T) {
	m, _ := newTestManager(t)
	status, err := m.GetStatus("nope")
	require.NoError(t, err)
	require.False(t, status.Exists)
}

func TestGetStatusCountsFilesExcludingNodeModules(t *testing.T) {
	m, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.tsx"), []byte("x"), 0o644))

	status, err := m.GetStatus("p1")
	require.NoError(t, err)
	require.True(t, status.Exists)
	require.Equal(t, 1, status.FileCount)
}

func TestUpdateFilesAppliesCreateUpdateDelete(t *testing.T) {
	m, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("old"), 0o644))

	err := m.UpdateFiles("p1", []FileUpdate{
		{Path: "new.txt", Content: "new", Operation: "create"},
		{Path: "old.txt", Operation: "delete"},
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "old.txt"))
	require.True(t, os.IsNotExist(err))
	content, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "new", string(content))
}

func TestReadFileReturnsNotFoundForMissingFile(t *testing.T) {
	m, dataDir := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "p1"), 0o755))

	_, err := m.ReadFile("p1", "missing.txt")
	require.Error(t, err)
}

func TestListFilesPrunesNodeModulesAndGit(t *testing.T) {
	m, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.tsx"), []byte("x"), 0o644))

	files, err := m.ListFiles("p1")
	require.NoError(t, err)
	require.Equal(t, []string{"src.tsx"}, files)
}

func TestDeleteRemovesProjectDirectory(t *testing.T) {
	m, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, m.Delete("p1"))
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestCreateRejectsMissingFields(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create(context.Background(), CreateConfig{ProjectID: "p1"})
	require.Error(t, err)
}

func TestApplyUserFilesPreservesSkipListFromTemplate(t *testing.T) {
	m, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"from":"template"}`), 0o644))

	err := m.applyUserFiles(dir, []FileUpdate{
		{Path: "package.json", Content: `{"from":"user"}`},
		{Path: "src/App.tsx", Content: "export default function App() {}"},
	}, true)
	require.NoError(t, err)

	pkg, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	require.Equal(t, `{"from":"template"}`, string(pkg))

	app, err := os.ReadFile(filepath.Join(dir, "src/App.tsx"))
	require.NoError(t, err)
	require.Equal(t, "export default function App() {}", string(app))
}

func TestMergeUserDependenciesAddsNovelPackagesOnly(t *testing.T) {
	_, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{
  "name": "p1",
  "dependencies": {"react": "^18.2.0"},
  "devDependencies": {"vite": "^5.0.0"}
}`), 0o644))

	changed, err := mergeUserDependencies(dir, []FileUpdate{
		{Path: "package.json", Content: `{
  "dependencies": {"react": "^17.0.0", "zustand": "^4.5.0"},
  "devDependencies": {"vite": "^4.0.0"}
}`},
	})
	require.NoError(t, err)
	require.True(t, changed)

	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	var manifest map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &manifest))

	deps := manifest["dependencies"].(map[string]interface{})
	require.Equal(t, "^18.2.0", deps["react"], "template's existing version must not be overwritten")
	require.Equal(t, "^4.5.0", deps["zustand"], "novel user dependency must be merged in")

	devDeps := manifest["devDependencies"].(map[string]interface{})
	require.Equal(t, "^5.0.0", devDeps["vite"])
}

func TestMergeUserDependenciesNoopWhenNoNovelPackages(t *testing.T) {
	_, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"dependencies": {"react": "^18.2.0"}}`), 0o644))

	changed, err := mergeUserDependencies(dir, []FileUpdate{
		{Path: "package.json", Content: `{"dependencies": {"react": "^18.2.0"}}`},
	})
	require.NoError(t, err)
	require.False(t, changed)
}

func TestMergeUserDependenciesNoopWithoutUserManifest(t *testing.T) {
	_, dataDir := newTestManager(t)
	dir := filepath.Join(dataDir, "p1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"dependencies": {"react": "^18.2.0"}}`), 0o644))

	changed, err := mergeUserDependencies(dir, []FileUpdate{
		{Path: "src/App.tsx", Content: "export default function App() {}"},
	})
	require.NoError(t, err)
	require.False(t, changed)
}
