package scaffold

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	require.Equal(t, "my-cool-app", Slugify("My Cool App!!"))
	require.Equal(t, "a-b-c", Slugify("  a_b__c  "))
	require.Equal(t, "", Slugify("???"))
}

func TestScaffoldEscapesUntrustedFields(t *testing.T) {
	files := Scaffold(Config{
		ProjectID:   "proj_12345678abcd",
		ProjectName: `<script>alert(1)</script>`,
		Description: `"onload="alert(2)`,
	})

	index := findFile(t, files, "index.html")
	require.NotContains(t, index.Content, "<script>alert(1)</script>")
	require.Contains(t, index.Content, "&lt;script&gt;")

	app := findFile(t, files, "src/App.tsx")
	require.NotContains(t, app.Content, "<script>alert(1)</script>")
}

func TestScaffoldFallsBackToDefaultPackageNameWhenSlugEmpty(t *testing.T) {
	files := Scaffold(Config{ProjectID: "p1", ProjectName: "???"})
	pkg := findFile(t, files, "package.json")
	require.Contains(t, pkg.Content, `"name": "project"`)
}

func TestScaffoldViteConfigOrdersTaggerBeforeReact(t *testing.T) {
	files := Scaffold(Config{ProjectID: "proj_abcdefgh1234", ProjectName: "Demo"})
	vite := findFile(t, files, ViteConfigPath)

	taggerIdx := strings.Index(vite.Content, "jsxTagger(")
	reactIdx := strings.Index(vite.Content, "react()")
	require.Greater(t, taggerIdx, -1)
	require.Greater(t, reactIdx, -1)
	require.Less(t, taggerIdx, reactIdx)
	require.Contains(t, vite.Content, `base: "/p/proj_abcdefgh1234/"`)
}

func TestScaffoldUsesDefaultTaggerDepWhenUnset(t *testing.T) {
	files := Scaffold(Config{ProjectID: "p1", ProjectName: "Demo"})
	pkg := findFile(t, files, "package.json")
	require.Contains(t, pkg.Content, "file:/app/packages/vite-plugin-jsx-tagger")
}

func findFile(t *testing.T, files []File, path string) File {
	t.Helper()
	for _, f := range files {
		if f.Path == path {
			return f
		}
	}
	t.Fatalf("file %q not found among generated files", path)
	return File{}
}
