package scaffold

import "fmt"

// ViteConfigPath is the filename used for the generated Vite config, shared
// with the template manager so it can regenerate it in place (spec §4.E
// step 4).
const ViteConfigPath = "vite.config.ts"

// ViteConfig carries the per-project values baked into the generated
// vite.config.ts.
type ViteConfig struct {
	ProjectID  string
	PublicHost string
	HTTPS      bool
	IDPrefix   string
}

// GenerateViteConfig renders vite.config.ts with the jsx-tagger plugin
// ordered before @vitejs/plugin-react (spec §4.D: "tagger plugin must run
// before the framework plugin so it sees raw JSX") and HMR client options
// pointed at "/hmr/<projectId>", the literal path the splicer (internal/hmr)
// recognises for its raw-TCP splice (spec §4.G case 2).
func GenerateViteConfig(cfg ViteConfig) string {
	protocol := "ws"
	if cfg.HTTPS {
		protocol = "wss"
	}
	host := cfg.PublicHost
	if host == "" {
		host = "localhost"
	}
	clientPort := "443"
	if !cfg.HTTPS {
		clientPort = "80"
	}

	return fmt.Sprintf(`import { defineConfig } from "vite";
import react from "@vitejs/plugin-react";
import jsxTagger from "vite-plugin-jsx-tagger";

// Generated file, regenerated on every template sync. Do not edit by hand.
export default defineConfig({
  base: "/p/%s/",
  plugins: [
    jsxTagger({ idPrefix: %q }),
    react(),
  ],
  server: {
    host: true,
    hmr: {
      protocol: %q,
      host: %q,
      clientPort: %s,
      path: "/hmr/%s",
    },
  },
});
`, cfg.ProjectID, cfg.IDPrefix, protocol, host, clientPort, cfg.ProjectID)
}
