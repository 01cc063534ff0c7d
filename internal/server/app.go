// Package server wires the ledger server together: logging, the record
// store selected by configuration, the ledger services and the gRPC
// endpoint, and runs them until the process is signalled.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/P-T-/OpenCoins/internal/cryptox"
	"github.com/P-T-/OpenCoins/internal/logging"
	"github.com/P-T-/OpenCoins/internal/server/config"
	gs "github.com/P-T-/OpenCoins/internal/server/grpc"
	"github.com/P-T-/OpenCoins/internal/server/repositories/repomanager"
	"github.com/P-T-/OpenCoins/internal/server/services"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  repomanager.RepositoryManager
	server *gs.GRPCServer
}

// NewApp opens the configured store, applies migrations and builds the
// gRPC server. Logs go to w.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	logger, err := logging.New(c.LogLevel, c.LogFormat, w)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := store.RunMigrations(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	ledger := services.NewLedger(store, cryptox.SystemProvider{}, logger)
	server := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, ledger, c.ShutdownTimeout)

	return &App{config: c, logger: logger, store: store, server: server}, nil
}

func openStore(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.StoreDriver {
	case config.DriverMemory:
		return repomanager.NewMemoryRepositoryManager(), nil
	case config.DriverPostgres:
		m, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN, c.TxRetries)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
}

// Run serves until ctx is cancelled or the process receives SIGINT, SIGTERM
// or SIGQUIT, then closes the store.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "store", app.config.StoreDriver)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.server.Run(ctx)
	})

	err := g.Wait()
	if cerr := app.store.Close(); cerr != nil {
		app.logger.Error(context.Background(), "store close error", "error", cerr)
	}
	if err != nil {
		app.logger.Error(context.Background(), "server stopped with error", "error", err)
		return err
	}

	app.logger.Info(context.Background(), "App stopped")
	return nil
}

// Main loads configuration and runs the server. It returns the process exit
// code.
func Main() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}

	app, err := NewApp(context.Background(), cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if err := app.Run(context.Background()); err != nil {
		return 1
	}
	return 0
}
