package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"mapperfs/internal/config"
	"mapperfs/internal/fs"
	"mapperfs/internal/metrics"
	"mapperfs/internal/source"
	"mapperfs/internal/state"
	"mapperfs/internal/watch"
)

// run mounts the filesystem and serves it until ctx is cancelled or the
// mount is removed from outside.
func run(ctx context.Context, cfg config.Config, host afero.Fs, src source.Source) error {
	logger.Info("Starting mapperfs...")
	logger.Debug("Mount point: %s", cfg.MountPoint)
	logger.Debug("Input: %s, mapping: %s", src, cfg.Strategy)

	if err := cfg.ValidateMountPoint(host); err != nil {
		return err
	}

	m := metrics.New()
	manager := state.NewManager(src, cfg.Strategy, state.WithMetrics(m))
	if err := manager.Initialize(); err != nil {
		return err
	}

	adapter := fs.NewAdapter(host, manager,
		fs.WithOwner(cfg.UID, cfg.GID),
		fs.WithMetrics(m),
	)
	mfs := fs.New(adapter, time.Duration(cfg.AttrTimeout))
	if err := mfs.Mount(cfg.MountPoint, cfg.AllowOther); err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return mfs.Serve()
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := mfs.Unmount(); err != nil {
			logger.Error("Unmount error: %v", err)
		}
		return nil
	})

	var changes chan struct{}
	if cfg.Watch() {
		changes = startWatcher(gctx, g, src.Watched())
	}
	g.Go(func() error {
		return manager.Run(gctx, changes)
	})

	if cfg.MetricsAddr != "" {
		if err := serveMetrics(gctx, g, cfg.MetricsAddr, m); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}

	logger.Info("Filesystem mounted and ready")
	return g.Wait()
}

// startWatcher returns the change channel, or nil when there is nothing to
// watch or the watcher cannot be created. Without a watcher the mount keeps
// serving the initial tree.
func startWatcher(ctx context.Context, g *errgroup.Group, files []string) chan struct{} {
	if len(files) == 0 {
		logger.Info("No input file to watch, serving a fixed tree")
		return nil
	}

	w, err := watch.New(files)
	if err != nil {
		logger.Warn("Cannot watch input files, live updates disabled: %v", err)
		return nil
	}

	changes := make(chan struct{}, 1)
	g.Go(func() error {
		return w.Run(ctx, changes)
	})
	return changes
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics) error {
	handler, err := metrics.Handler(m)
	if err != nil {
		return fmt.Errorf("metrics handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return nil
}
