// Command statemachined loads machine definitions, supervises them under a
// hub, and serves the hub API over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-statemachine"
	"github.com/goliatone/go-statemachine/config"
	"github.com/goliatone/go-statemachine/history"
	"github.com/goliatone/go-statemachine/hub"
	"github.com/goliatone/go-statemachine/hubhttp"
	"github.com/goliatone/go-statemachine/machine"
)

var cli struct {
	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the hub daemon."`
	Validate ValidateCmd `cmd:"" help:"Validate machine definition files."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("statemachined"),
		kong.Description("Hierarchical state machine runtime."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// ValidateCmd parses definition files and reports structural problems.
type ValidateCmd struct {
	Paths []string `arg:"" type:"existingfile" help:"Definition files to check."`
}

func (c *ValidateCmd) Run() error {
	for _, path := range c.Paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		cfg, err := statemachine.ParseMachineConfig(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s: ok (%s, %d states, %d transitions)\n",
			path, cfg.ID, len(cfg.States), len(cfg.Transitions))
	}
	return nil
}

// ServeCmd boots the hub with every definition found in the definitions dir.
type ServeCmd struct {
	Addr string `help:"Listen address, overrides FSM_HTTP_ADDR." default:""`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.HTTPAddr = c.Addr
	}

	logOpts := []glog.Option{glog.WithLevel(cfg.LogLevel)}
	if cfg.LogJSON {
		logOpts = append(logOpts, glog.WithLoggerTypeJSON())
	}
	logger := statemachine.NewGlogLogger(glog.NewLogger(logOpts...))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := hub.New(hub.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}

	var store history.SnapshotStore
	if cfg.Redis.Enabled() {
		rs := history.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			history.WithTTL(cfg.Redis.TTL))
		defer rs.Close()
		store = rs
		logger.Info("snapshot store connected addr=%s", cfg.Redis.Addr)
	}

	if err := loadDefinitions(ctx, h, cfg, logger); err != nil {
		return err
	}

	if cfg.SweepExpression != "" {
		var sweepOpts []hub.SweepOption
		if cfg.SweepAutoRestart {
			sweepOpts = append(sweepOpts, hub.WithAutoRestart())
		}
		if store != nil {
			sweepOpts = append(sweepOpts, hub.WithSweepHandler(snapshotOnSweep(ctx, h, store, logger)))
		}
		if err := h.StartSweeper(cfg.SweepExpression, sweepOpts...); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           hubhttp.NewHandler(h, hubhttp.WithLogger(logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("hub api listening addr=%s", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return h.Stop(shutdownCtx)
}

// loadDefinitions boots one machine per YAML file in the definitions dir.
// Daemon-loaded definitions are data-driven, so they bind against empty
// registries; files referencing coded guards or actions must be started
// programmatically instead.
func loadDefinitions(ctx context.Context, h *hub.Hub, cfg config.App, logger statemachine.Logger) error {
	matches, err := filepath.Glob(filepath.Join(cfg.DefinitionsDir, "*.yaml"))
	if err != nil {
		return err
	}
	more, err := filepath.Glob(filepath.Join(cfg.DefinitionsDir, "*.yml"))
	if err != nil {
		return err
	}
	matches = append(matches, more...)
	if len(matches) == 0 {
		logger.Warn("no machine definitions found dir=%s", cfg.DefinitionsDir)
		return nil
	}

	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mc, err := statemachine.ParseMachineConfig(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		factory := func(fctx context.Context) (statemachine.Instance, error) {
			def, err := statemachine.BindConfig[map[string]any](mc, nil, nil, nil)
			if err != nil {
				return nil, err
			}
			m, err := machine.New(mc.ID, def, map[string]any{},
				machine.WithLogger[map[string]any](logger),
				machine.WithHistoryBound[map[string]any](cfg.HistoryBound),
			)
			if err != nil {
				return nil, err
			}
			if err := m.Start(fctx); err != nil {
				return nil, err
			}
			return m, nil
		}

		inst, err := factory(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := h.Register(mc.ID, "workflow", mc.ID, inst, factory); err != nil {
			return err
		}
		logger.Info("machine %s loaded file=%s", mc.ID, path)
	}
	return nil
}

// snapshotOnSweep persists every registered machine's history ledger after
// each health pass.
func snapshotOnSweep(ctx context.Context, h *hub.Hub, store history.SnapshotStore, logger statemachine.Logger) func(hub.SweepReport) {
	return func(report hub.SweepReport) {
		for _, inst := range h.Status().Instances {
			handle, ok := h.Get(inst.ID)
			if !ok {
				continue
			}
			m, ok := handle.(interface{ Recorder() *history.Recorder })
			if !ok {
				continue
			}
			if err := store.Save(ctx, inst.ID, m.Recorder().Export()); err != nil {
				logger.Warn("snapshot save for %s failed: %v", inst.ID, err)
			}
		}
	}
}
