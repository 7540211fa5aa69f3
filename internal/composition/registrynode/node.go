// Package registrynode wires the ledger, the content store and the JSON-RPC
// server into a runnable registry node.
package registrynode

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"provenance/go-backend/internal/adapters/rpc"
	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/ledger"
)

type Node struct {
	Server  *rpc.Server
	Storage StorageBundle
	Metrics *prometheus.Registry
	logger  *slog.Logger
}

type healthDetails struct {
	Ledger ledger.Stats `json:"ledger"`
	Blobs  int          `json:"blobs"`
}

func NewNode(cfg provenanceconfig.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bundle, err := BuildStorageBundle(cfg, ledger.NewMetrics(reg), logger)
	if err != nil {
		return nil, err
	}
	health := func(ctx context.Context) (any, error) {
		stats, err := bundle.Ledger.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return healthDetails{Ledger: stats, Blobs: len(bundle.Content.List())}, nil
	}
	srv, err := rpc.NewServer(rpc.ServerConfig{
		ListenAddr:     cfg.Registry.Listen,
		Token:          cfg.Registry.Token,
		RateLimitRPS:   cfg.Registry.RateLimitRPS,
		RateLimitBurst: cfg.Registry.RateLimitBurst,
		RequestTimeout: cfg.Registry.RequestTimeout,
		Metrics:        reg,
		Health:         health,
	}, bundle.Ledger, bundle.Content, logger)
	if err != nil {
		_ = bundle.Close()
		return nil, err
	}
	return &Node{Server: srv, Storage: bundle, Metrics: reg, logger: logger}, nil
}

func (n *Node) Handler() http.Handler {
	return n.Server.Handler()
}

// Run serves until ctx is done and closes the storage afterwards.
func (n *Node) Run(ctx context.Context) error {
	if domain, err := n.Storage.Ledger.DomainMetadata(ctx); err == nil {
		n.logger.Info("registry node starting",
			"listen", n.Server.ListenAddr(),
			"domain", domain.Name,
			"chain_id", domain.ChainID,
			"verifying_contract", domain.VerifyingContract.Hex())
	}
	runErr := n.Server.Run(ctx)
	if err := n.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (n *Node) Close() error {
	return n.Storage.Close()
}
