package usecase

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/internal/crypto/typedhash"
	contentpolicy "provenance/go-backend/internal/domains/content/policy"
	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/pkg/models"
)

// RootResolver maps a signer to the root identity it currently acts for.
type RootResolver interface {
	WhoIs(ctx context.Context, identity common.Address) (common.Address, error)
}

type PublishRequest struct {
	Payload     []byte
	ParentRef   common.Hash
	Description string
	MimeType    string
	Access      json.RawMessage
	Manifest    json.RawMessage
}

type Service struct {
	graph    contracts.ContentGraph
	store    contracts.ContentStore
	resolver RootResolver
	logger   *slog.Logger
}

func NewService(graph contracts.ContentGraph, store contracts.ContentStore, resolver RootResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		graph:    graph,
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// Publish stores the payload, signs a metadata envelope binding it, stores
// the envelope and registers the asset node. The returned asset carries the
// payload locator next to the envelope URI.
func (s *Service) Publish(ctx context.Context, req PublishRequest, intermediateKey *ecdsa.PrivateKey) (models.ContentAsset, error) {
	if intermediateKey == nil {
		return models.ContentAsset{}, fmt.Errorf("%w: intermediate key is nil", signer.ErrKeyUnavailable)
	}
	assetID := typedhash.ContentAddress(req.Payload)

	locator, err := s.store.Put(ctx, req.Payload)
	if err != nil {
		return models.ContentAsset{}, classifyStoreError("store payload", err)
	}

	data, err := contentpolicy.NormalizeData(models.EnvelopeData{
		Description: req.Description,
		Encrypted:   false,
		Access:      req.Access,
		Content: []models.ContentEntry{
			{Location: locator, Type: mimeType(req.MimeType, req.Payload)},
		},
		Manifest: req.Manifest,
		ContentBinding: models.ContentBinding{
			Algo: models.ContentBindingAlgoKeccak256,
			Hash: assetID.Hex(),
		},
	})
	if err != nil {
		return models.ContentAsset{}, err
	}
	message, err := contentpolicy.AttestationMessage(data)
	if err != nil {
		return models.ContentAsset{}, err
	}
	sig, err := signer.SignAttestation(intermediateKey, message)
	if err != nil {
		return models.ContentAsset{}, err
	}
	envelope, err := contentpolicy.EncodeEnvelope(models.MetadataEnvelope{
		Data: data,
		Signature: models.EnvelopeSignature{
			Curve:       models.SignatureCurveSecp256k1,
			Signature:   signer.EncodeSignature(sig),
			Message:     message.Hex(),
			Description: models.AttestationDescription,
		},
	})
	if err != nil {
		return models.ContentAsset{}, err
	}
	uri, err := s.store.Put(ctx, envelope)
	if err != nil {
		return models.ContentAsset{}, classifyStoreError("store envelope", err)
	}

	asset := models.ContentAsset{
		ID:          assetID,
		Locator:     locator,
		NodeType:    models.NodeTypeAsset,
		ReferenceOf: req.ParentRef,
		URI:         uri,
	}
	receipt, err := s.graph.PublishNode(ctx, req.ParentRef, asset)
	if err != nil {
		return models.ContentAsset{}, classifyRegistryError("publish node", err)
	}
	s.logger.Info("content published",
		"asset_id", assetID.Hex(),
		"uri", uri,
		"payload_bytes", len(req.Payload),
		"tx_hash", receipt.TxHash.Hex())
	return asset, nil
}

// Consume fetches an asset and its envelope and runs the three verification
// checks. Check outcomes are reported in the result; only structural and
// availability failures are returned as errors.
func (s *Service) Consume(ctx context.Context, assetID common.Hash) (models.VerificationResult, error) {
	node, err := s.graph.Node(ctx, assetID)
	if err != nil {
		return models.VerificationResult{}, classifyRegistryError("get node", err)
	}
	if node.IsZero() {
		return models.VerificationResult{}, fmt.Errorf("%w: %s", contracts.ErrNodeNotFound, assetID.Hex())
	}
	raw, err := s.store.Get(ctx, node.URI)
	if err != nil {
		return models.VerificationResult{}, classifyStoreError("fetch envelope", err)
	}
	envelope, err := contentpolicy.DecodeEnvelope(raw)
	if err != nil {
		return models.VerificationResult{}, err
	}

	result := models.VerificationResult{AssetID: assetID, URI: node.URI}
	result.ContentBinding = checkContentBinding(assetID, envelope.Data.ContentBinding)
	if !result.ContentBinding.Passed {
		skipped := models.CheckResult{Skipped: true, Reason: "content binding failed"}
		result.MessageIntegrity = skipped
		result.DelegationChain = skipped
		s.logVerification(result)
		return result, nil
	}
	result.MessageIntegrity = checkMessageIntegrity(envelope)

	chain, signerAddr, root, err := s.checkDelegationChain(ctx, envelope.Signature)
	if err != nil {
		return models.VerificationResult{}, err
	}
	result.DelegationChain = chain
	result.Signer = signerAddr
	result.Root = root
	s.logVerification(result)
	return result, nil
}

func (s *Service) logVerification(result models.VerificationResult) {
	if result.Verified() {
		s.logger.Info("content verified",
			"asset_id", result.AssetID.Hex(),
			"signer", result.Signer.Hex(),
			"root", result.Root.Hex())
		return
	}
	s.logger.Warn("content verification failed",
		"asset_id", result.AssetID.Hex(),
		"failed_checks", result.Failed())
}

func checkContentBinding(assetID common.Hash, binding models.ContentBinding) models.CheckResult {
	if !strings.EqualFold(strings.TrimSpace(binding.Algo), models.ContentBindingAlgoKeccak256) {
		return failed(contracts.ErrContentMismatch, fmt.Sprintf("unsupported algo %q", binding.Algo))
	}
	bound, err := contentpolicy.ParseHash(binding.Hash)
	if err != nil {
		return failed(contracts.ErrContentMismatch, err.Error())
	}
	if bound != assetID {
		return failed(contracts.ErrContentMismatch, "bound hash "+bound.Hex()+" differs from asset id")
	}
	return models.CheckResult{Passed: true}
}

func checkMessageIntegrity(envelope models.MetadataEnvelope) models.CheckResult {
	computed, err := contentpolicy.SignedMessage(envelope)
	if err != nil {
		return failed(contracts.ErrIntegrityMismatch, err.Error())
	}
	claimed, err := contentpolicy.ParseHash(envelope.Signature.Message)
	if err != nil {
		return failed(contracts.ErrIntegrityMismatch, err.Error())
	}
	if computed != claimed {
		return failed(contracts.ErrIntegrityMismatch, "computed "+computed.Hex()+" differs from signed message")
	}
	return models.CheckResult{Passed: true}
}

// checkDelegationChain recovers the signer of the envelope's message and
// resolves it to a root. A registry failure aborts the verification.
func (s *Service) checkDelegationChain(ctx context.Context, sig models.EnvelopeSignature) (models.CheckResult, common.Address, common.Address, error) {
	message, err := contentpolicy.ParseHash(sig.Message)
	if err != nil {
		return failed(contracts.ErrUnresolvedSigner, err.Error()), common.Address{}, common.Address{}, nil
	}
	raw, err := signer.DecodeSignature(sig.Signature)
	if err != nil {
		return failed(contracts.ErrUnresolvedSigner, err.Error()), common.Address{}, common.Address{}, nil
	}
	signerAddr, err := signer.Recover(message, raw)
	if err != nil {
		return failed(contracts.ErrUnresolvedSigner, err.Error()), common.Address{}, common.Address{}, nil
	}
	root, err := s.resolver.WhoIs(ctx, signerAddr)
	if err != nil {
		return models.CheckResult{}, common.Address{}, common.Address{}, classifyRegistryError("whois", err)
	}
	if root == (common.Address{}) {
		return failed(contracts.ErrUnresolvedSigner, signerAddr.Hex()+" has no active root"), signerAddr, common.Address{}, nil
	}
	return models.CheckResult{Passed: true}, signerAddr, root, nil
}

// ResultError joins the sentinel errors of every failed check, or returns nil
// when the result is fully verified.
func ResultError(result models.VerificationResult) error {
	var errs []error
	for _, name := range result.Failed() {
		switch name {
		case models.CheckContentBinding:
			errs = append(errs, contracts.ErrContentMismatch)
		case models.CheckMessageIntegrity:
			errs = append(errs, contracts.ErrIntegrityMismatch)
		case models.CheckDelegationChain:
			errs = append(errs, contracts.ErrUnresolvedSigner)
		}
	}
	return errors.Join(errs...)
}

func failed(kind error, detail string) models.CheckResult {
	return models.CheckResult{Reason: kind.Error() + ": " + detail}
}

func mimeType(explicit string, payload []byte) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	detected, _, _ := strings.Cut(http.DetectContentType(payload), ";")
	return strings.TrimSpace(detected)
}

func classifyStoreError(op string, err error) error {
	switch {
	case errors.Is(err, contracts.ErrContentNotFound),
		errors.Is(err, contracts.ErrUpstreamUnavailable),
		contracts.Structural(err):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, contracts.ErrContentStoreUnavailable, err)
	}
}

func classifyRegistryError(op string, err error) error {
	switch {
	case errors.Is(err, contracts.ErrRegistryRejected),
		errors.Is(err, contracts.ErrUpstreamUnavailable),
		errors.Is(err, contracts.ErrNodeNotFound):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, contracts.ErrRegistryUnavailable, err)
	}
}
