package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/pkg/models"
)

// IdentityRegistry is the external registry owning roots, nonces and
// delegations. Every call may block on the network.
type IdentityRegistry interface {
	DomainMetadata(ctx context.Context) (models.DomainMetadata, error)
	Nonce(ctx context.Context, identity common.Address) (uint64, error)
	RegisterRoot(ctx context.Context, root common.Address, label string) (models.TransactionReceipt, error)
	RegisterIntermediate(ctx context.Context, delegation models.Delegation) (models.TransactionReceipt, error)
	// WhoIs returns the zero address when no active mapping exists.
	WhoIs(ctx context.Context, identity common.Address) (common.Address, error)
}

// ContentGraph is the append-only graph of content nodes.
type ContentGraph interface {
	Node(ctx context.Context, id common.Hash) (models.ContentAsset, error)
	PublishNode(ctx context.Context, parentRef common.Hash, node models.ContentAsset) (models.TransactionReceipt, error)
}

// GraphIndex lists the children of a node. Registries that keep no index
// do not implement it.
type GraphIndex interface {
	Children(ctx context.Context, parent common.Hash) ([]common.Hash, error)
}

// Registry is the full ledger surface consumed by the core.
type Registry interface {
	IdentityRegistry
	ContentGraph
}

// ContentStore is a content-addressed blob store reachable by locator.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
}

type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}
