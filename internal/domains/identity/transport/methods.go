package transport

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/pkg/models"
)

const (
	MethodRegistryDomain               = "registry.domain"
	MethodRegistryNonce                = "registry.nonce"
	MethodRegistryRegisterRoot         = "registry.registerRoot"
	MethodRegistryRegisterIntermediate = "registry.registerIntermediate"
	MethodRegistryWhoIs                = "registry.whoIs"
)

// Delegation is the wire form of models.Delegation. The signature travels
// as 0x-prefixed hex.
type Delegation struct {
	Root         common.Address `json:"root"`
	Intermediate common.Address `json:"intermediate"`
	Expiry       uint64         `json:"expiry"`
	Nonce        uint64         `json:"nonce"`
	ChainID      uint64         `json:"chain_id"`
	Deadline     uint64         `json:"deadline"`
	Signature    string         `json:"signature"`
}

func DelegationToWire(d models.Delegation) Delegation {
	return Delegation{
		Root:         d.Root,
		Intermediate: d.Intermediate,
		Expiry:       d.Expiry,
		Nonce:        d.Nonce,
		ChainID:      d.ChainID,
		Deadline:     d.Deadline,
		Signature:    signer.EncodeSignature(d.Signature),
	}
}

func DelegationFromWire(w Delegation) (models.Delegation, error) {
	sig, err := signer.DecodeSignature(w.Signature)
	if err != nil {
		return models.Delegation{}, fmt.Errorf("decode delegation signature: %w", err)
	}
	return models.Delegation{
		Root:         w.Root,
		Intermediate: w.Intermediate,
		Expiry:       w.Expiry,
		Nonce:        w.Nonce,
		ChainID:      w.ChainID,
		Deadline:     w.Deadline,
		Signature:    sig,
	}, nil
}
