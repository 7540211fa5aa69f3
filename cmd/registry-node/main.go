package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/composition/registrynode"
	"provenance/go-backend/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	listen := flag.String("listen", "", "Listen address, host:port or /ip4/.../tcp/... (overrides config)")
	dbPath := flag.String("db", "", "Ledger SQLite path, \":memory:\" for an ephemeral ledger (overrides config)")
	contentDir := flag.String("content-dir", "", "Content store directory (overrides config)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Provenance-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("registry-node version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := provenanceconfig.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("registry-node config: %v", err)
	}
	if *listen != "" {
		cfg.Registry.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Registry.DBPath = *dbPath
	}
	if *contentDir != "" {
		cfg.Content.Dir = *contentDir
	}
	if *rpcToken != "" {
		cfg.Registry.Token = *rpcToken
	}
	logger := privacylog.New(os.Stderr, privacylog.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := registrynode.NewNode(cfg, logger)
	if err != nil {
		log.Fatalf("registry-node failed to initialize: %v", err)
	}
	if err := node.Run(ctx); err != nil {
		log.Fatalf("registry-node failed: %v", err)
	}
	logger.Info("registry-node stopped")
}
