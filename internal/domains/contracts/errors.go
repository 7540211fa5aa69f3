package contracts

import (
	"errors"
	"fmt"
	"strings"

	"provenance/go-backend/internal/crypto/signer"
)

// Network-class failures. Callers may retry these after re-reading state.
var (
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrRegistryUnavailable     = fmt.Errorf("registry unavailable: %w", ErrUpstreamUnavailable)
	ErrContentStoreUnavailable = fmt.Errorf("content store unavailable: %w", ErrUpstreamUnavailable)
)

// Business-rule rejections. Never retried blindly.
var (
	ErrRegistryRejected = errors.New("registry rejected request")
	ErrNodeNotFound     = errors.New("content node not found")
	ErrContentNotFound  = errors.New("content not found")
)

// Structural failures of the content itself. Retrying cannot change the
// outcome.
var (
	ErrMalformedLocator = errors.New("malformed content locator")
	ErrContentTooLarge  = errors.New("content exceeds maximum size")
	ErrContentCorrupted = errors.New("stored content does not match its identifier")
)

// Cryptographic failures. Fatal for the operation.
var (
	ErrInvalidSignature = signer.ErrInvalidSignature
	ErrKeyUnavailable   = signer.ErrKeyUnavailable
)

// Verification outcomes, one per independent check.
var (
	ErrContentMismatch   = errors.New("content binding mismatch")
	ErrIntegrityMismatch = errors.New("metadata integrity mismatch")
	ErrUnresolvedSigner  = errors.New("signer does not resolve to a root identity")
)

const (
	ErrorCategoryAPI     = "api"
	ErrorCategoryCrypto  = "crypto"
	ErrorCategoryStorage = "storage"
	ErrorCategoryNetwork = "network"
)

// Rejected wraps a registry business-rule failure with its reason.
func Rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrRegistryRejected, reason)
}

// Retryable reports whether err is network-class. Rejections and crypto
// failures are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRegistryRejected) || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrKeyUnavailable) {
		return false
	}
	if Structural(err) {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable)
}

// Structural reports whether err describes content that is malformed,
// oversized or corrupted.
func Structural(err error) bool {
	return errors.Is(err, ErrMalformedLocator) || errors.Is(err, ErrContentTooLarge) || errors.Is(err, ErrContentCorrupted)
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryCrypto:
		return ErrorCategoryCrypto
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	case ErrorCategoryNetwork:
		return ErrorCategoryNetwork
	default:
		return ErrorCategoryAPI
	}
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

// ErrorCategory classifies err, falling back to the sentinel taxonomy when
// it was not wrapped explicitly.
func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	switch {
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrKeyUnavailable):
		return ErrorCategoryCrypto
	case errors.Is(err, ErrContentStoreUnavailable), errors.Is(err, ErrContentNotFound), Structural(err):
		return ErrorCategoryStorage
	case errors.Is(err, ErrUpstreamUnavailable):
		return ErrorCategoryNetwork
	default:
		return ErrorCategoryAPI
	}
}
