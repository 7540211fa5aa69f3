package usecase

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/internal/crypto/typedhash"
	"provenance/go-backend/internal/domains/contracts"
	identitypolicy "provenance/go-backend/internal/domains/identity/policy"
	"provenance/go-backend/pkg/models"
)

var ErrIntermediateRequired = errors.New("intermediate identity is required")

type Options struct {
	ExpiryOrdering identitypolicy.ExpiryOrderingMode
	Now            func() time.Time
}

// Service drives the root -> intermediate delegation flow against an
// external registry. It holds no key material; every signing call takes the
// credential explicitly.
type Service struct {
	registry contracts.IdentityRegistry
	ordering identitypolicy.ExpiryOrderingMode
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(registry contracts.IdentityRegistry, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ordering := opts.ExpiryOrdering
	if ordering == "" {
		ordering = identitypolicy.ExpiryOrderingWarn
	}
	return &Service{
		registry: registry,
		ordering: ordering,
		now:      now,
		logger:   logger,
	}
}

// BuildDomainSeparator fetches the registry's current domain metadata and
// derives the separator from it. Nothing is cached between calls.
func (s *Service) BuildDomainSeparator(ctx context.Context) (common.Hash, models.DomainMetadata, error) {
	meta, err := s.registry.DomainMetadata(ctx)
	if err != nil {
		return common.Hash{}, models.DomainMetadata{}, classifyRegistryError("fetch domain metadata", err)
	}
	sep, err := typedhash.DomainSeparator(meta)
	if err != nil {
		return common.Hash{}, models.DomainMetadata{}, err
	}
	return sep, meta, nil
}

func (s *Service) RegisterRoot(ctx context.Context, root common.Address, label string) (models.TransactionReceipt, error) {
	if root == (common.Address{}) {
		return models.TransactionReceipt{}, contracts.Rejected("root identity is required")
	}
	receipt, err := s.registry.RegisterRoot(ctx, root, label)
	if err != nil {
		return models.TransactionReceipt{}, classifyRegistryError("register root", err)
	}
	s.logger.Info("root registered", "root", root.Hex(), "tx_hash", receipt.TxHash.Hex())
	return receipt, nil
}

// RegisterIntermediate signs a delegation from the root behind rootKey to
// intermediate at the root's current registry nonce. The delegation is
// returned for submission and is not sent anywhere. A chainID of zero uses
// the chain reported by the registry.
func (s *Service) RegisterIntermediate(
	ctx context.Context,
	rootKey *ecdsa.PrivateKey,
	intermediate common.Address,
	expiry, chainID, deadline uint64,
) (models.Delegation, error) {
	if rootKey == nil {
		return models.Delegation{}, fmt.Errorf("%w: root key is nil", signer.ErrKeyUnavailable)
	}
	if intermediate == (common.Address{}) {
		return models.Delegation{}, ErrIntermediateRequired
	}
	check, err := identitypolicy.ValidateDelegationWindow(s.now(), expiry, deadline, s.ordering)
	if err != nil {
		return models.Delegation{}, err
	}
	root, err := signer.Address(rootKey)
	if err != nil {
		return models.Delegation{}, err
	}
	if check.ExpiryNotAfterDeadline {
		s.logger.Warn("delegation expires before its signature deadline",
			"root", root.Hex(), "intermediate", intermediate.Hex(), "expiry", expiry, "deadline", deadline)
	}

	domainSep, meta, err := s.BuildDomainSeparator(ctx)
	if err != nil {
		return models.Delegation{}, err
	}
	if chainID == 0 {
		chainID = meta.ChainID
	}
	nonce, err := s.registry.Nonce(ctx, root)
	if err != nil {
		return models.Delegation{}, classifyRegistryError("fetch nonce", err)
	}

	delegation := models.Delegation{
		Root:         root,
		Intermediate: intermediate,
		Expiry:       expiry,
		Nonce:        nonce,
		ChainID:      chainID,
		Deadline:     deadline,
	}
	structHash, err := typedhash.DelegationStructHash(delegation)
	if err != nil {
		return models.Delegation{}, err
	}
	delegation.Signature, err = signer.SignTypedData(rootKey, domainSep, structHash)
	if err != nil {
		return models.Delegation{}, err
	}
	return delegation, nil
}

// SubmitIntermediate hands a signed delegation to the registry, which
// consumes the nonce. Failures are returned as-is for the caller to decide;
// a resubmission needs a fresh nonce and therefore a fresh signature.
func (s *Service) SubmitIntermediate(ctx context.Context, delegation models.Delegation) (models.TransactionReceipt, error) {
	if len(delegation.Signature) != signer.SignatureLength {
		return models.TransactionReceipt{}, fmt.Errorf("%w: delegation signature has %d bytes", signer.ErrInvalidSignature, len(delegation.Signature))
	}
	receipt, err := s.registry.RegisterIntermediate(ctx, delegation)
	if err != nil {
		return models.TransactionReceipt{}, classifyRegistryError("register intermediate", err)
	}
	s.logger.Info("intermediate registered",
		"root", delegation.Root.Hex(),
		"intermediate", delegation.Intermediate.Hex(),
		"nonce", delegation.Nonce,
		"tx_hash", receipt.TxHash.Hex())
	return receipt, nil
}

// Delegate signs and immediately submits a delegation.
func (s *Service) Delegate(
	ctx context.Context,
	rootKey *ecdsa.PrivateKey,
	intermediate common.Address,
	expiry, chainID, deadline uint64,
) (models.Delegation, models.TransactionReceipt, error) {
	delegation, err := s.RegisterIntermediate(ctx, rootKey, intermediate, expiry, chainID, deadline)
	if err != nil {
		return models.Delegation{}, models.TransactionReceipt{}, err
	}
	receipt, err := s.SubmitIntermediate(ctx, delegation)
	if err != nil {
		return delegation, models.TransactionReceipt{}, err
	}
	return delegation, receipt, nil
}

// WhoIs resolves identity to its root. The zero address means no active
// mapping.
func (s *Service) WhoIs(ctx context.Context, identity common.Address) (common.Address, error) {
	root, err := s.registry.WhoIs(ctx, identity)
	if err != nil {
		return common.Address{}, classifyRegistryError("whois", err)
	}
	return root, nil
}

// State derives the delegation state of the (root, intermediate) pair from
// registry reads. A registered root resolves to itself.
func (s *Service) State(ctx context.Context, root, intermediate common.Address) (models.DelegationState, error) {
	if intermediate != (common.Address{}) {
		resolved, err := s.WhoIs(ctx, intermediate)
		if err != nil {
			return "", err
		}
		if resolved == root && resolved != (common.Address{}) {
			return models.DelegationStateIntermediateActive, nil
		}
	}
	resolved, err := s.WhoIs(ctx, root)
	if err != nil {
		return "", err
	}
	if resolved == root && resolved != (common.Address{}) {
		return models.DelegationStateRootRegistered, nil
	}
	return models.DelegationStateUnregistered, nil
}

// VerifyDelegation recomputes the typed-data digest under the registry's
// current domain and checks that the signature recovers to the claimed root.
func (s *Service) VerifyDelegation(ctx context.Context, delegation models.Delegation) (common.Address, error) {
	_, meta, err := s.BuildDomainSeparator(ctx)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := typedhash.DelegationDigest(meta, delegation)
	if err != nil {
		return common.Address{}, err
	}
	recovered, err := signer.Recover(digest, delegation.Signature)
	if err != nil {
		return common.Address{}, err
	}
	if recovered != delegation.Root {
		return recovered, fmt.Errorf("%w: recovered %s, expected root %s", signer.ErrInvalidSignature, recovered.Hex(), delegation.Root.Hex())
	}
	return recovered, nil
}

// classifyRegistryError keeps known kinds and treats anything else coming
// back from the registry as an availability failure.
func classifyRegistryError(op string, err error) error {
	switch {
	case errors.Is(err, contracts.ErrRegistryRejected),
		errors.Is(err, contracts.ErrUpstreamUnavailable),
		errors.Is(err, contracts.ErrInvalidSignature),
		errors.Is(err, contracts.ErrNodeNotFound):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, contracts.ErrRegistryUnavailable, err)
	}
}
