package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/btcex/btcexd/internal/config"
	"github.com/btcex/btcexd/internal/core/exchange"
	"github.com/btcex/btcexd/internal/logging"
	"github.com/btcex/btcexd/internal/rpc"
	"github.com/btcex/btcexd/internal/storage/marketdb"
)

var (
	// Server flags
	port     int
	bindAddr string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the exchange daemon",
	Long: `Start btcexd, which provides:
- JSON-RPC API for users, assets, contracts and orders
- WebSocket trade feed
- A background sweeper that settles expired contracts
- Health check endpoint`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Running without a subcommand starts the server.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}

	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	serverCmd.Flags().StringVar(&bindAddr, "bind", "", "address to bind to (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	logging.Init(debug, quiet)
	defer logging.Sync()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if bindAddr != "" {
		cfg.Server.BindAddr = bindAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := marketdb.NewStore(&cfg.Database)
	if err != nil {
		return fmt.Errorf("configure store: %w", err)
	}
	if err := store.Open(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ex := exchange.New(store)
	rpcServer := rpc.NewServer(ex)

	addr := cfg.Server.ListenAddr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpcServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if !quiet {
		fmt.Printf("btcexd listening on %s\n", addr)
		fmt.Printf("  - JSON-RPC:     http://%s/\n", addr)
		fmt.Printf("  - Trade feed:   ws://%s/ws\n", addr)
		fmt.Printf("  - Health check: http://%s/health\n", addr)
	}
	logging.Logger.Info("starting btcexd",
		zap.String("listen_addr", addr),
		zap.Duration("sweep_interval", cfg.Market.SweepInterval))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := rpcServer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := ex.RunExpirySweeper(ctx, cfg.Market.SweepInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	logging.Logger.Info("btcexd stopped")
	return nil
}
