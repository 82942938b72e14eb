// Package app provides the top-level application lifecycle for flasharb. It
// wires the optional storage, cache and archive backends, builds the
// detection pipeline and runs it in the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/config"
)

// App owns the configuration, the logger and the release functions of
// everything Run opened.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	closers   []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// modeFunc runs the pipeline for one operating mode until ctx is done.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"live":    (*App).LiveMode,
	"paper":   (*App).PaperMode,
	"monitor": (*App).MonitorMode,
}

// Run wires dependencies and blocks in the configured mode until the context
// is cancelled and the engine has drained.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.Int("venues", len(a.cfg.Venues)),
		slog.Any("symbols", a.cfg.Symbols),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger.With(slog.String("component", "wire")))
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(a, ctx, deps)
}

// Close releases resources in reverse order of acquisition. Later calls do
// nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("releasing resources", slog.Int("count", len(a.closers)))
		for _, release := range slices.Backward(a.closers) {
			release()
		}
		a.closers = nil
	})
}
