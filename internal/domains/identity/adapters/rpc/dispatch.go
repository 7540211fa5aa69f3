package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/domains/contracts"
	identitytransport "provenance/go-backend/internal/domains/identity/transport"
	"provenance/go-backend/internal/domains/rpckit"
)

var errInvalidParams = errors.New("invalid params")

type NonceResult struct {
	Nonce uint64 `json:"nonce"`
}

type WhoIsResult struct {
	Root common.Address `json:"root"`
}

// Dispatch serves the registry.* methods against registry. The third return
// value reports whether method belongs to this domain.
func Dispatch(ctx context.Context, registry contracts.IdentityRegistry, method string, rawParams json.RawMessage) (any, *rpckit.Error, bool) {
	switch method {
	case identitytransport.MethodRegistryDomain:
		result, rpcErr := callWithoutParams(func() (any, error) {
			return registry.DomainMetadata(ctx)
		})
		return result, rpcErr, true
	case identitytransport.MethodRegistryNonce:
		result, rpcErr := callWithAddressParam(rawParams, func(addr common.Address) (any, error) {
			nonce, err := registry.Nonce(ctx, addr)
			if err != nil {
				return nil, err
			}
			return NonceResult{Nonce: nonce}, nil
		})
		return result, rpcErr, true
	case identitytransport.MethodRegistryWhoIs:
		result, rpcErr := callWithAddressParam(rawParams, func(addr common.Address) (any, error) {
			root, err := registry.WhoIs(ctx, addr)
			if err != nil {
				return nil, err
			}
			return WhoIsResult{Root: root}, nil
		})
		return result, rpcErr, true
	case identitytransport.MethodRegistryRegisterRoot:
		root, label, err := decodeRegisterRootParams(rawParams)
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := callWithoutParams(func() (any, error) {
			return registry.RegisterRoot(ctx, root, label)
		})
		return result, rpcErr, true
	case identitytransport.MethodRegistryRegisterIntermediate:
		var params []identitytransport.Delegation
		if err := json.Unmarshal(rawParams, &params); err != nil || len(params) != 1 {
			return nil, rpckit.InvalidParams(), true
		}
		delegation, err := identitytransport.DelegationFromWire(params[0])
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := callWithoutParams(func() (any, error) {
			return registry.RegisterIntermediate(ctx, delegation)
		})
		return result, rpcErr, true
	default:
		return nil, nil, false
	}
}

func callWithoutParams(call func() (any, error)) (any, *rpckit.Error) {
	result, err := call()
	if err != nil {
		return nil, rpckit.FromError(err)
	}
	return result, nil
}

func callWithAddressParam(rawParams json.RawMessage, call func(common.Address) (any, error)) (any, *rpckit.Error) {
	raw, err := decodeSingleStringParam(rawParams)
	if err != nil || !common.IsHexAddress(raw) {
		return nil, rpckit.InvalidParams()
	}
	return callWithoutParams(func() (any, error) {
		return call(common.HexToAddress(raw))
	})
}

func decodeSingleStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && strings.TrimSpace(arr[0]) != "" {
		return strings.TrimSpace(arr[0]), nil
	}
	return "", errInvalidParams
}

func decodeRegisterRootParams(raw json.RawMessage) (common.Address, string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 2 {
		return common.Address{}, "", errInvalidParams
	}
	if !common.IsHexAddress(strings.TrimSpace(arr[0])) {
		return common.Address{}, "", errInvalidParams
	}
	return common.HexToAddress(strings.TrimSpace(arr[0])), arr[1], nil
}
