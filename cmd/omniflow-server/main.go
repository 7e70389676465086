// Command omniflow-server runs the preview orchestrator: a single public
// listener composing the control plane, reverse proxy, and HMR splicer
// described in the package documentation of internal/frontdoor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lookfree/omniflow-fly-server/internal/api"
	"github.com/lookfree/omniflow-fly-server/internal/config"
	"github.com/lookfree/omniflow-fly-server/internal/deps"
	"github.com/lookfree/omniflow-fly-server/internal/frontdoor"
	"github.com/lookfree/omniflow-fly-server/internal/hmr"
	"github.com/lookfree/omniflow-fly-server/internal/project"
	"github.com/lookfree/omniflow-fly-server/internal/proxy"
	"github.com/lookfree/omniflow-fly-server/internal/supervisor"
	"github.com/lookfree/omniflow-fly-server/internal/template"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("omniflow-server exited with error")
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "omniflow-server",
		Short: "Multi-tenant preview orchestrator for AI-generated web projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.AddCommand(newServeCommand(), newVersionCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the preview orchestrator (default when no subcommand is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the omniflow-server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func run() error {
	log := logrus.StandardLogger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DevMode() {
		log.Warn("FLY_API_KEY/FLY_API_SECRET not set: control plane running in unauthenticated development mode")
	}

	dm := deps.NewManager(cfg.BunBinary, log.WithField("component", "deps"))
	tm := template.NewManager(cfg.DataDir, cfg.PrebuiltTemplateDir, cfg.JSXTaggerDep, cfg.PublicHost, cfg.HTTPS, dm, log.WithField("component", "template"))
	sm := supervisor.NewManager(cfg.BunBinary, config.BasePort, config.MaxInstances, log.WithField("component", "supervisor"))
	pm := project.NewManager(cfg.DataDir, tm, dm, sm, log.WithField("component", "project"))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := tm.Initialize(ctx); err != nil {
			log.WithError(err).Error("template initialization failed; falling back to per-project scaffold+install")
		}
	}()

	controlPlane := api.NewRouter(pm, api.Credentials{APIKey: cfg.APIKey, APISecret: cfg.APISecret}, log.WithField("component", "api"))

	p := proxy.New(
		func(projectID string) (int, bool) {
			inst := sm.GetInstance(projectID)
			return instPort(inst), instRunning(inst)
		},
		func(ctx context.Context, projectID string) (int, bool, error) {
			status, err := pm.GetStatus(projectID)
			if err != nil || !status.Exists {
				return 0, false, fmt.Errorf("project not found: %s", projectID)
			}
			inst, err := pm.StartPreview(ctx, projectID)
			if err != nil {
				return 0, true, err
			}
			return inst.Port, true, nil
		},
		sm.MarkActive,
		log.WithField("component", "proxy"),
	)

	splicer := hmr.NewSplicer("/hmr", func(projectID string) (int, bool) {
		inst := sm.GetInstance(projectID)
		return instPort(inst), instRunning(inst)
	}, sm.MarkActive, log.WithField("component", "hmr"))

	server := frontdoor.New(controlPlane, p, splicer, sm, log.WithField("component", "frontdoor"))

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("omniflow-server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		log.Info("shutdown signal received, draining connections")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
		server.Shutdown(ctx)
	}
	return nil
}

func instPort(inst *supervisor.Instance) int {
	if inst == nil {
		return 0
	}
	return inst.Port
}

func instRunning(inst *supervisor.Instance) bool {
	return inst != nil && inst.Status == supervisor.StatusRunning
}
