package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"keyhaven/internal/app"
	"keyhaven/internal/config"
	"keyhaven/internal/platform/privacylog"
	"keyhaven/internal/rpc"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address")
	configPath := flag.String("config", "", "Path to keyhaven.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for X-Keyhaven-RPC-Token (optional)")
	transport := flag.String("transport", "", "Network transport override: go-waku | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("keyhavend version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("KEYHAVEN_RPC_TOKEN", *rpcToken)
	}
	if *transport != "" {
		_ = os.Setenv("KEYHAVEN_TRANSPORT", *transport)
	}

	cfg := config.Load(*configPath)
	if *rpcAddr != "" {
		cfg.RPCAddr = *rpcAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	svc, err := app.NewService(cfg, app.Options{Logger: logger, Registry: registry})
	if err != nil {
		log.Fatalf("keyhavend failed to initialize: %v", err)
	}

	srv := rpc.NewServer(cfg.RPCAddr, svc, rpc.Options{Logger: logger, Gatherer: registry})
	log.Println("keyhavend starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("keyhavend failed: %v", err)
	}
	log.Println("keyhavend stopped")
}
