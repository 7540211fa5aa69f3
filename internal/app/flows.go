package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/signer"
	contentusecase "provenance/go-backend/internal/domains/content/usecase"
	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/internal/domains/identity"
	"provenance/go-backend/pkg/models"
)

const payloadAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var ErrNoGraphIndex = errors.New("registry does not index graph children")

type RootRegistration struct {
	Root    common.Address            `json:"root"`
	Label   string                    `json:"label"`
	Receipt models.TransactionReceipt `json:"receipt"`
}

type IntermediateRegistration struct {
	Delegation   models.Delegation         `json:"delegation"`
	Receipt      models.TransactionReceipt `json:"receipt"`
	ResolvedRoot common.Address            `json:"resolved_root"`
	State        models.DelegationState    `json:"state"`
}

type PublishInput struct {
	Payload  []byte
	Parent   common.Hash
	MimeType string
}

type KeyReport struct {
	Role     string         `json:"role"`
	Address  common.Address `json:"address"`
	Mnemonic string         `json:"mnemonic,omitempty"`
	File     string         `json:"file,omitempty"`
}

// RegisterRoot registers the configured root wallet. An empty label gets a
// timestamped publisher label.
func (r *Runtime) RegisterRoot(ctx context.Context, label string) (RootRegistration, error) {
	key, err := r.RootKey()
	if err != nil {
		return RootRegistration{}, err
	}
	root, err := signer.Address(key)
	if err != nil {
		return RootRegistration{}, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = fmt.Sprintf("publisher-%d", r.now().UnixMilli())
	}
	receipt, err := r.Identity.RegisterRoot(ctx, root, label)
	if err != nil {
		return RootRegistration{}, err
	}
	return RootRegistration{Root: root, Label: label, Receipt: receipt}, nil
}

// RegisterIntermediate signs a delegation from the configured root to the
// configured intermediate, submits it and confirms it through whoIs. A
// chainID of zero uses the registry's chain.
func (r *Runtime) RegisterIntermediate(ctx context.Context, chainID uint64) (IntermediateRegistration, error) {
	rootKey, err := r.RootKey()
	if err != nil {
		return IntermediateRegistration{}, err
	}
	interKey, err := r.IntermediateKey()
	if err != nil {
		return IntermediateRegistration{}, err
	}
	inter, err := signer.Address(interKey)
	if err != nil {
		return IntermediateRegistration{}, err
	}
	expiry, deadline := identity.Windows(r.now(), r.Config.Delegation.ExpiryWindow, r.Config.Delegation.DeadlineWindow)

	delegation, receipt, err := r.Identity.Delegate(ctx, rootKey, inter, expiry, chainID, deadline)
	if err != nil {
		return IntermediateRegistration{}, err
	}
	out := IntermediateRegistration{Delegation: delegation, Receipt: receipt}
	out.ResolvedRoot, err = r.Identity.WhoIs(ctx, inter)
	if err != nil {
		return out, err
	}
	out.State, err = r.Identity.State(ctx, delegation.Root, inter)
	if err != nil {
		return out, err
	}
	if out.ResolvedRoot != delegation.Root {
		return out, fmt.Errorf("%w: %s resolves to %s after registration", contracts.ErrUnresolvedSigner, inter.Hex(), out.ResolvedRoot.Hex())
	}
	return out, nil
}

// WhoIs resolves addr, defaulting to the configured intermediate wallet.
func (r *Runtime) WhoIs(ctx context.Context, addr common.Address) (common.Address, common.Address, error) {
	if addr == (common.Address{}) {
		key, err := r.IntermediateKey()
		if err != nil {
			return common.Address{}, common.Address{}, err
		}
		if addr, err = signer.Address(key); err != nil {
			return common.Address{}, common.Address{}, err
		}
	}
	root, err := r.Identity.WhoIs(ctx, addr)
	return addr, root, err
}

// Publish attests the payload with the configured intermediate wallet. The
// description comes from configuration.
func (r *Runtime) Publish(ctx context.Context, in PublishInput) (models.ContentAsset, error) {
	key, err := r.IntermediateKey()
	if err != nil {
		return models.ContentAsset{}, err
	}
	return r.Content.Publish(ctx, contentusecase.PublishRequest{
		Payload:     in.Payload,
		ParentRef:   in.Parent,
		Description: r.Config.Content.Description,
		MimeType:    in.MimeType,
	}, key)
}

// Children lists the nodes published under parent, oldest first. The zero
// hash names the graph root.
func (r *Runtime) Children(ctx context.Context, parent common.Hash) ([]common.Hash, error) {
	index, ok := r.Registry.(contracts.GraphIndex)
	if !ok {
		return nil, ErrNoGraphIndex
	}
	return index.Children(ctx, parent)
}

// Consume verifies the asset and returns the per-check result. A result
// with failed checks also yields the joined check errors.
func (r *Runtime) Consume(ctx context.Context, assetID common.Hash) (models.VerificationResult, error) {
	result, err := r.Content.Consume(ctx, assetID)
	if err != nil {
		return models.VerificationResult{}, err
	}
	return result, contentusecase.ResultError(result)
}

// GenerateKey creates a mnemonic-backed wallet for role. With a path the key
// is also sealed to disk under passphrase.
func GenerateKey(role, path, passphrase string) (KeyReport, error) {
	switch role {
	case signer.RoleRoot, signer.RoleIntermediate:
	default:
		return KeyReport{}, fmt.Errorf("unknown wallet role %q", role)
	}
	mnemonic, key, err := signer.GenerateWallet(role)
	if err != nil {
		return KeyReport{}, err
	}
	addr, err := signer.Address(key)
	if err != nil {
		return KeyReport{}, err
	}
	report := KeyReport{Role: role, Address: addr, Mnemonic: mnemonic}
	if path = strings.TrimSpace(path); path != "" {
		if err := signer.SaveEncryptedKey(path, passphrase, key); err != nil {
			return KeyReport{}, err
		}
		report.File = path
	}
	return report, nil
}

// RandomPayload returns n random alphanumeric bytes.
func RandomPayload(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("payload length must be positive")
	}
	out := make([]byte, n)
	limit := big.NewInt(int64(len(payloadAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, err
		}
		out[i] = payloadAlphabet[idx.Int64()]
	}
	return out, nil
}
