package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/bus"
	"github.com/arbiterlabs/specd/internal/config"
	"github.com/arbiterlabs/specd/internal/fanout"
	"github.com/arbiterlabs/specd/internal/httpapi"
	"github.com/arbiterlabs/specd/internal/journal"
	"github.com/arbiterlabs/specd/internal/obs"
	"github.com/arbiterlabs/specd/internal/orchestrator"
	"github.com/arbiterlabs/specd/internal/specengine"
	"github.com/arbiterlabs/specd/internal/store"
	"github.com/arbiterlabs/specd/internal/ticket"
)

func main() {
	var configPath string
	var addr string

	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "--config":
			i++
			if i >= len(os.Args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = os.Args[i]
		case "--addr":
			i++
			if i >= len(os.Args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = os.Args[i]
		case "--version", "-v", "version":
			fmt.Println("specd (dev)")
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", os.Args[i])
			usage()
			os.Exit(1)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Addr = addr
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  specd --version")
	fmt.Fprintln(os.Stderr, "  specd [--config <config.yaml>] [--addr <host:port>]")
}

// run builds the full component graph (store through httpapi) and serves
// until a shutdown signal arrives or the listener fails.
func run(cfg config.Config) error {
	logger, err := obs.NewLogger(cfg.Production)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	var st store.Store
	if cfg.StorePath == "" {
		st = store.NewMemory()
		logger.Warn("no store_path configured, running with the in-memory store; data does not survive a restart")
	} else {
		sqlite, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer sqlite.Close()
		st = sqlite
	}

	engine, err := specengine.NewEngine(cfg, logger)
	if err != nil {
		return fmt.Errorf("build spec engine: %w", err)
	}
	defer engine.Close()

	j := journal.New(st)

	serverKey := []byte(cfg.ServerKey)
	if len(serverKey) == 0 {
		logger.Warn("no server_key configured, generating an ephemeral one; issued tickets will not validate across restarts")
		serverKey, err = ticket.GenerateServerKey()
		if err != nil {
			return fmt.Errorf("generate server key: %w", err)
		}
	}
	tickets := ticket.New(serverKey)

	busAdapter := bus.New(cfg.Bus, metrics, logger)

	ctx, cancel := signalContext()
	defer cancel()
	busAdapter.Start(ctx)
	defer busAdapter.Close()

	fabric := fanout.New(fanout.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		MaxConnections:    cfg.MaxConnections,
		Publisher:         busAdapter,
	}, metrics, logger)
	defer fabric.Close()

	orch := orchestrator.New(st, engine, j, fabric, tickets, cfg.EnforceTickets, logger)

	srv := httpapi.New(httpapi.Config{
		Addr:             cfg.Addr,
		RateLimit:        cfg.RateLimit,
		DefaultTicketTTL: cfg.TicketTTL(),
	}, orch, j, tickets, fabric, metrics, logger)

	logger.Info("specd starting", zap.String("addr", cfg.Addr), zap.Bool("enforce_tickets", cfg.EnforceTickets))
	return srv.ListenAndServe()
}

// signalContext returns a context canceled on SIGINT/SIGTERM, grounded on
// the teacher's signalCancelContext helper in cmd/kilroy/main.go.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
