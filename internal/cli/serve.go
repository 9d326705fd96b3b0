package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/api"
	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/pubsub"
	"github.com/roach88/stagehand/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Listen   string
	Database string

	// IDs overrides the document id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs document.IDGenerator

	// Ready is called with the listening address once the server accepts
	// connections (for testing).
	Ready func(addr net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the document server",
		Long: `Start the HTTP document server and the websocket hub.

Settings come from defaults, the optional YAML config file and the
environment, in that order. --listen and --db override the resolved
settings. With a database, every forwarded batch and document snapshot is
persisted so that "stagehand replay" can verify it later.

Example:
  stagehand serve
  stagehand serve --config ./stagehand.yaml --db ./stagehand.db
  stagehand serve --listen 127.0.0.1:5001 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML settings file")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides settings)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (overrides settings)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	settings, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	if opts.Listen != "" {
		settings.Listen = opts.Listen
	}
	if opts.Database != "" {
		settings.Database = opts.Database
	}

	// The level stays live so PUT /configuration can change it.
	live := config.NewLive(settings)
	if opts.Verbose {
		live.Level().Set(slog.LevelDebug)
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: live.Level(),
	})
	slog.SetDefault(slog.New(handler))

	var catalog document.Catalog
	if settings.Database != "" {
		slog.Info("opening database", "path", settings.Database)
		st, err := store.Open(settings.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		catalog = st
	}

	inbox := pubsub.NewInbox()
	hub := pubsub.NewHub(inbox, pubsub.DefaultSettings())
	registry := document.NewRegistry(opts.IDs, document.Options{
		Mode:           settings.Mode,
		BaseURL:        settings.ClientAPIURL,
		ForwardTimeout: settings.Timeout(),
		Services: document.Services{
			Layout:    settings.LayoutService,
			Websocket: settings.WebsocketService,
			Timeline:  settings.TimelineService,
		},
		Publisher: hub,
	}, catalog)

	ln, err := net.Listen("tcp", settings.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", settings.Listen), err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		registry.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := inbox.Run(ctx, registry); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("state inbox stopped", "error", err)
		}
	}()

	slog.Info("server starting",
		"listen", ln.Addr().String(),
		"mode", settings.Mode,
		"websocket", settings.WebsocketInternalService,
		"persist", settings.Database != "")
	if opts.Ready != nil {
		opts.Ready(ln.Addr())
	}

	serveErr := api.NewServer(registry, live, hub).Serve(ctx, ln)
	cancel()
	wg.Wait()
	if serveErr != nil {
		return WrapExitError(ExitFailure, "server error", serveErr)
	}

	slog.Info("server stopped gracefully")
	return nil
}
