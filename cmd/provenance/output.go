package main

import (
	"encoding/json"
	"errors"
	"io"

	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/domains/contracts"
)

const (
	exitOK                 = 0
	exitFailure            = 1
	exitInvalidInput       = 10
	exitNetworkFailed      = 20
	exitRejected           = 30
	exitVerificationFailed = 40
	exitNotReady           = 50
)

var (
	errInvalidInput = errors.New("invalid input")
	errNotReady     = errors.New("readiness checks failed")
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNotReady):
		return exitNotReady
	case contracts.Retryable(err):
		return exitNetworkFailed
	case errors.Is(err, contracts.ErrRegistryRejected):
		return exitRejected
	case errors.Is(err, contracts.ErrContentMismatch),
		errors.Is(err, contracts.ErrIntegrityMismatch),
		errors.Is(err, contracts.ErrUnresolvedSigner),
		errors.Is(err, contracts.ErrInvalidSignature),
		errors.Is(err, contracts.ErrContentCorrupted):
		return exitVerificationFailed
	case errors.Is(err, errInvalidInput),
		errors.Is(err, contracts.ErrKeyUnavailable),
		errors.Is(err, contracts.ErrNodeNotFound),
		errors.Is(err, contracts.ErrContentNotFound),
		errors.Is(err, contracts.ErrMalformedLocator),
		errors.Is(err, contracts.ErrContentTooLarge),
		errors.Is(err, provenanceconfig.ErrInvalidConfig):
		return exitInvalidInput
	default:
		return exitFailure
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
