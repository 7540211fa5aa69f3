package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/internal/crypto/typedhash"
	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/pkg/models"
)

type stubRegistry struct {
	mu          sync.Mutex
	meta        models.DomainMetadata
	metaErr     error
	nonceErr    error
	now         func() time.Time
	roots       map[common.Address]bool
	nonces      map[common.Address]uint64
	delegations map[common.Address]models.Delegation
	submitted   int
}

func newStubRegistry(now func() time.Time) *stubRegistry {
	return &stubRegistry{
		meta: models.DomainMetadata{
			Name:              "IdentityRegistry",
			Version:           "1",
			ChainID:           1833,
			VerifyingContract: common.HexToAddress("0xdCE27c4a76bE1fF9F9C543E13FCC3591E33A0E25"),
		},
		now:         now,
		roots:       make(map[common.Address]bool),
		nonces:      make(map[common.Address]uint64),
		delegations: make(map[common.Address]models.Delegation),
	}
}

func (r *stubRegistry) DomainMetadata(context.Context) (models.DomainMetadata, error) {
	if r.metaErr != nil {
		return models.DomainMetadata{}, r.metaErr
	}
	return r.meta, nil
}

func (r *stubRegistry) Nonce(_ context.Context, identity common.Address) (uint64, error) {
	if r.nonceErr != nil {
		return 0, r.nonceErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonces[identity], nil
}

func (r *stubRegistry) RegisterRoot(_ context.Context, root common.Address, _ string) (models.TransactionReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roots[root] {
		return models.TransactionReceipt{}, contracts.Rejected("root already registered")
	}
	r.roots[root] = true
	return models.TransactionReceipt{TxHash: typedhash.Keccak256(root.Bytes()), Method: "registerRoot", Status: models.ReceiptStatusConfirmed}, nil
}

func (r *stubRegistry) RegisterIntermediate(_ context.Context, d models.Delegation) (models.TransactionReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
	if !r.roots[d.Root] {
		return models.TransactionReceipt{}, contracts.Rejected("root not registered")
	}
	if d.Deadline < uint64(r.now().Unix()) {
		return models.TransactionReceipt{}, contracts.Rejected("signature deadline passed")
	}
	digest, err := typedhash.DelegationDigest(r.meta, models.Delegation{
		Root: d.Root, Intermediate: d.Intermediate, Expiry: d.Expiry,
		Nonce: r.nonces[d.Root], ChainID: d.ChainID, Deadline: d.Deadline,
	})
	if err != nil {
		return models.TransactionReceipt{}, err
	}
	recovered, err := signer.Recover(digest, d.Signature)
	if err != nil || recovered != d.Root {
		return models.TransactionReceipt{}, contracts.Rejected("invalid signature or stale nonce")
	}
	r.nonces[d.Root]++
	r.delegations[d.Intermediate] = d
	return models.TransactionReceipt{TxHash: digest, Method: "registerIntermediate", Status: models.ReceiptStatusConfirmed}, nil
}

func (r *stubRegistry) WhoIs(_ context.Context, identity common.Address) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roots[identity] {
		return identity, nil
	}
	d, ok := r.delegations[identity]
	if !ok || d.Expiry <= uint64(r.now().Unix()) {
		return common.Address{}, nil
	}
	return d.Root, nil
}
