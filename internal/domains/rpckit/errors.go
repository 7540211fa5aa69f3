package rpckit

import (
	"errors"
	"fmt"

	"provenance/go-backend/internal/domains/contracts"
)

// Error is a transport-level RPC error that can be mapped by the caller
// to a concrete wire format (e.g. JSON-RPC error object).
type Error struct {
	Code    int
	Message string
}

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeRegistryRejected    = -32010
	CodeUpstreamUnavailable = -32011
	CodeContentNotFound     = -32012
	CodeNodeNotFound        = -32013
	CodeInvalidSignature    = -32014
	CodeMalformedLocator    = -32015
	CodeContentTooLarge     = -32016
	CodeContentCorrupted    = -32017
	CodeRateLimited         = -32029
)

func InvalidParams() *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid params"}
}

func ServiceError(code int, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// FromError picks the wire code for a domain error.
func FromError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, contracts.ErrRegistryRejected):
		return ServiceError(CodeRegistryRejected, err)
	case errors.Is(err, contracts.ErrContentNotFound):
		return ServiceError(CodeContentNotFound, err)
	case errors.Is(err, contracts.ErrNodeNotFound):
		return ServiceError(CodeNodeNotFound, err)
	case errors.Is(err, contracts.ErrInvalidSignature):
		return ServiceError(CodeInvalidSignature, err)
	case errors.Is(err, contracts.ErrMalformedLocator):
		return ServiceError(CodeMalformedLocator, err)
	case errors.Is(err, contracts.ErrContentTooLarge):
		return ServiceError(CodeContentTooLarge, err)
	case errors.Is(err, contracts.ErrContentCorrupted):
		return ServiceError(CodeContentCorrupted, err)
	case errors.Is(err, contracts.ErrUpstreamUnavailable):
		return ServiceError(CodeUpstreamUnavailable, err)
	default:
		return ServiceError(CodeInternal, err)
	}
}

// ToError turns a wire error back into an error that matches the same
// sentinel on the caller's side. Codes without a sentinel are reported as
// unavailable, the unavailable kind of the called service.
func ToError(code int, message string, unavailable error) error {
	var kind error
	switch code {
	case CodeRegistryRejected:
		kind = contracts.ErrRegistryRejected
	case CodeContentNotFound:
		kind = contracts.ErrContentNotFound
	case CodeNodeNotFound:
		kind = contracts.ErrNodeNotFound
	case CodeInvalidSignature:
		kind = contracts.ErrInvalidSignature
	case CodeMalformedLocator:
		kind = contracts.ErrMalformedLocator
	case CodeContentTooLarge:
		kind = contracts.ErrContentTooLarge
	case CodeContentCorrupted:
		kind = contracts.ErrContentCorrupted
	case CodeInvalidParams, CodeInvalidRequest, CodeMethodNotFound, CodeParseError:
		return fmt.Errorf("rpc error %d: %s", code, message)
	default:
		kind = unavailable
		if kind == nil {
			kind = contracts.ErrUpstreamUnavailable
		}
	}
	return fmt.Errorf("%w: remote: %s", kind, message)
}
