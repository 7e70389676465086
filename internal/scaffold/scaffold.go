// Package scaffold deterministically generates the initial file set for a
// new project (spec §4.D).
package scaffold

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// File is a single generated file, relative to the project root.
type File struct {
	Path    string
	Content string
}

// Config describes the project being scaffolded.
type Config struct {
	ProjectID    string
	ProjectName  string
	Description  string
	JSXTaggerDep string
	PublicHost   string
	HTTPS        bool
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of non [a-z0-9] characters
// into a single hyphen, trimming leading/trailing hyphens.
func Slugify(s string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}

// Scaffold returns the deterministic initial file set for cfg. It never
// mutates cfg and never touches the filesystem (spec §4.D: "pure
// function").
func Scaffold(cfg Config) []File {
	pkgName := Slugify(cfg.ProjectName)
	if pkgName == "" {
		pkgName = "project"
	}

	return []File{
		{Path: "package.json", Content: packageJSON(pkgName, cfg.JSXTaggerDep)},
		{Path: ViteConfigPath, Content: GenerateViteConfig(ViteConfig{
			ProjectID:  cfg.ProjectID,
			PublicHost: cfg.PublicHost,
			HTTPS:      cfg.HTTPS,
			IDPrefix:   idPrefix(cfg.ProjectID),
		})},
		{Path: "tsconfig.json", Content: tsConfig()},
		{Path: "tsconfig.node.json", Content: tsConfigNode()},
		{Path: "postcss.config.js", Content: postcssConfig()},
		{Path: "tailwind.config.js", Content: tailwindConfig()},
		{Path: "index.html", Content: indexHTML(cfg.ProjectName, cfg.Description)},
		{Path: "src/index.css", Content: indexCSS()},
		{Path: "src/main.tsx", Content: mainTSX()},
		{Path: "src/App.tsx", Content: appTSX(cfg.ProjectName)},
	}
}

// idPrefix is the first 8 characters of the project id as given, used as
// the tagger's id namespace (spec §4.E step 4).
func idPrefix(projectID string) string {
	if len(projectID) <= 8 {
		return projectID
	}
	return projectID[:8]
}

func packageJSON(pkgName, taggerDep string) string {
	if taggerDep == "" {
		taggerDep = "file:/app/packages/vite-plugin-jsx-tagger"
	}
	return fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "version": "0.0.0",
  "type": "module",
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "preview": "vite preview"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@types/react": "^18.3.3",
    "@types/react-dom": "^18.3.0",
    "@vitejs/plugin-react": "^4.3.1",
    "autoprefixer": "^10.4.19",
    "postcss": "^8.4.39",
    "tailwindcss": "^3.4.4",
    "typescript": "^5.5.3",
    "vite": "^5.3.1",
    "vite-plugin-jsx-tagger": %q
  }
}
`, pkgName, taggerDep)
}

func tsConfig() string {
	return `{
  "compilerOptions": {
    "target": "ES2020",
    "useDefineForClassFields": true,
    "lib": ["ES2020", "DOM", "DOM.Iterable"],
    "module": "ESNext",
    "skipLibCheck": true,
    "moduleResolution": "bundler",
    "jsx": "react-jsx",
    "strict": true,
    "noEmit": true
  },
  "include": ["src"],
  "references": [{ "path": "./tsconfig.node.json" }]
}
`
}

func tsConfigNode() string {
	return `{
  "compilerOptions": {
    "composite": true,
    "module": "ESNext",
    "moduleResolution": "bundler"
  },
  "include": ["vite.config.ts"]
}
`
}

func postcssConfig() string {
	return `export default {
  plugins: {
    tailwindcss: {},
    autoprefixer: {},
  },
}
`
}

func tailwindConfig() string {
	return `/** @type {import('tailwindcss').Config} */
export default {
  content: ["./index.html", "./src/**/*.{js,ts,jsx,tsx}"],
  theme: { extend: {} },
  plugins: [],
}
`
}

func indexHTML(title, description string) string {
	safeTitle := html.EscapeString(title)
	safeDescription := html.EscapeString(description)
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <meta name="description" content="%s" />
    <title>%s</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.tsx"></script>
  </body>
</html>
`, safeDescription, safeTitle)
}

func indexCSS() string {
	return `@tailwind base;
@tailwind components;
@tailwind utilities;
`
}

func mainTSX() string {
	return `import React from "react";
import ReactDOM from "react-dom/client";
import App from "./App";
import "./index.css";

ReactDOM.createRoot(document.getElementById("root")!).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
);
`
}

func appTSX(title string) string {
	safeTitle := html.EscapeString(title)
	return fmt.Sprintf(`export default function App() {
  return (
    <div className="min-h-screen flex items-center justify-center">
      <h1 className="text-2xl font-semibold">%s</h1>
    </div>
  );
}
`, safeTitle)
}
