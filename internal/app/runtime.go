package app

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"time"

	"provenance/go-backend/internal/adapters/rpc"
	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/crypto/signer"
	contentusecase "provenance/go-backend/internal/domains/content/usecase"
	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/internal/domains/identity"
)

// Runtime bundles the services a client session needs. Keys are loaded on
// demand so commands that never sign work without them.
type Runtime struct {
	Config   provenanceconfig.Config
	Registry contracts.Registry
	Store    contracts.ContentStore
	Identity *identity.Service
	Content  *contentusecase.Service

	logger *slog.Logger
	now    func() time.Time
}

// NewRuntime connects to the registry node at cfg.Registry.Endpoint, which
// also serves as the content store.
func NewRuntime(cfg provenanceconfig.Config, logger *slog.Logger) (*Runtime, error) {
	client, err := rpc.NewClient(cfg.Registry.Endpoint, rpc.ClientOptions{
		Token:  cfg.Registry.Token,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registry endpoint: %w", err)
	}
	return NewRuntimeWithBackends(cfg, client, client, logger)
}

// NewRuntimeWithBackends composes the services over explicit backends, such
// as an in-process ledger.
func NewRuntimeWithBackends(cfg provenanceconfig.Config, registry contracts.Registry, store contracts.ContentStore, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ordering, err := identity.ParseExpiryOrderingMode(cfg.Delegation.ExpiryOrdering)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Config:   cfg,
		Registry: registry,
		Store:    store,
		Identity: identity.NewService(registry, identity.Options{ExpiryOrdering: ordering}, logger),
		Content:  contentusecase.NewService(registry, store, registry, logger),
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (r *Runtime) RootKey() (*ecdsa.PrivateKey, error) {
	return signer.LoadKey(r.Config.Keys.Root.Source(signer.RoleRoot))
}

func (r *Runtime) IntermediateKey() (*ecdsa.PrivateKey, error) {
	return signer.LoadKey(r.Config.Keys.Intermediate.Source(signer.RoleIntermediate))
}
