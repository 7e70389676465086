// Package config loads the process-wide configuration from the environment
// table described in the system's external interfaces.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

const (
	// BasePort is the first port in the child bundler port pool.
	BasePort = 5200
	// MaxInstances bounds the number of concurrently running child bundlers.
	MaxInstances = 20

	defaultPort           = "3000"
	defaultDataDir        = "/data/sites"
	defaultPublicHost     = "omniflow-preview.fly.dev"
	defaultJSXTaggerDep   = "file:/app/packages/vite-plugin-jsx-tagger"
	envPort               = "PORT"
	envDataDir            = "DATA_DIR"
	envAPIKey             = "FLY_API_KEY"
	envAPISecret          = "FLY_API_SECRET"
	envPublicHost         = "FLY_PUBLIC_HOST"
	envHTTPS              = "FLY_HTTPS"
	envBunBinary          = "BUN_BINARY"
	envJSXTaggerDep       = "JSX_TAGGER_DEP"
	envPrebuiltTemplate   = "PREBUILT_TEMPLATE_DIR"
)

// Config is the process-wide configuration, populated once at startup from
// the environment described in spec §6.
type Config struct {
	// Port is the public HTTP/WebSocket listener port.
	Port int
	// DataDir is the root directory under which project directories and the
	// managed template directory live.
	DataDir string
	// APIKey and APISecret are the HMAC credentials for the control plane.
	// Either empty means the server runs in unauthenticated development mode.
	APIKey    string
	APISecret string
	// PublicHost is the hostname injected into a child's HMR configuration.
	PublicHost string
	// HTTPS forces wss/443 in the generated HMR configuration.
	HTTPS bool
	// BunBinary is the package-manager/runner binary invoked for children.
	BunBinary string
	// JSXTaggerDep is the dependency specifier written into generated
	// manifests for the tagger transform.
	JSXTaggerDep string
	// PrebuiltTemplateDir is an optional build-time pre-warmed template
	// directory checked before the slow scaffold+install path.
	PrebuiltTemplateDir string
}

// Load reads Config from the process environment, applying the defaults of
// spec §6 wherever a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:             getenv(envDataDir, defaultDataDir),
		APIKey:              os.Getenv(envAPIKey),
		APISecret:           os.Getenv(envAPISecret),
		PublicHost:          getenv(envPublicHost, defaultPublicHost),
		BunBinary:           os.Getenv(envBunBinary),
		JSXTaggerDep:        getenv(envJSXTaggerDep, defaultJSXTaggerDep),
		PrebuiltTemplateDir: os.Getenv(envPrebuiltTemplate),
	}

	portStr := getenv(envPort, defaultPort)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, trace.BadParameter("invalid %s %q: %v", envPort, portStr, err)
	}
	cfg.Port = port

	if raw, ok := os.LookupEnv(envHTTPS); ok {
		https, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, trace.BadParameter("invalid %s %q: %v", envHTTPS, raw, err)
		}
		cfg.HTTPS = https
	} else {
		cfg.HTTPS = strings.HasSuffix(cfg.PublicHost, ".fly.dev")
	}

	return cfg, nil
}

// DevMode reports whether the control plane runs without signature
// verification, per spec §3 (Credentials) and §4.J.
func (c *Config) DevMode() bool {
	return c.APIKey == "" || c.APISecret == ""
}

func getenv(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}
