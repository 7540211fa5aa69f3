package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	contentpolicy "provenance/go-backend/internal/domains/content/policy"
	contenttransport "provenance/go-backend/internal/domains/content/transport"
	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/internal/domains/rpckit"
	"provenance/go-backend/pkg/models"
)

var errInvalidParams = errors.New("invalid params")

// Dispatch serves the graph.* and content.* methods. A nil store disables
// the content.* methods, and graph.children needs a graph that is also a
// contracts.GraphIndex.
func Dispatch(
	ctx context.Context,
	graph contracts.ContentGraph,
	store contracts.ContentStore,
	method string,
	rawParams json.RawMessage,
) (any, *rpckit.Error, bool) {
	switch method {
	case contenttransport.MethodGraphGetNode:
		id, err := decodeHashParam(rawParams)
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := call(func() (any, error) {
			return graph.Node(ctx, id)
		})
		return result, rpcErr, true
	case contenttransport.MethodGraphPublish:
		parent, node, err := decodePublishParams(rawParams)
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := call(func() (any, error) {
			return graph.PublishNode(ctx, parent, node)
		})
		return result, rpcErr, true
	case contenttransport.MethodGraphChildren:
		index, ok := graph.(contracts.GraphIndex)
		if !ok {
			return nil, nil, false
		}
		parent, err := decodeHashParam(rawParams)
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := call(func() (any, error) {
			children, err := index.Children(ctx, parent)
			if err != nil {
				return nil, err
			}
			out := contenttransport.ChildrenResult{Children: make([]string, len(children))}
			for i, id := range children {
				out.Children[i] = id.Hex()
			}
			return out, nil
		})
		return result, rpcErr, true
	case contenttransport.MethodContentPut:
		if store == nil {
			return nil, nil, false
		}
		data, err := decodePutParams(rawParams)
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := call(func() (any, error) {
			locator, err := store.Put(ctx, data)
			if err != nil {
				return nil, err
			}
			return contenttransport.PutResult{Locator: locator}, nil
		})
		return result, rpcErr, true
	case contenttransport.MethodContentGet:
		if store == nil {
			return nil, nil, false
		}
		locator, err := decodeSingleStringParam(rawParams)
		if err != nil {
			return nil, rpckit.InvalidParams(), true
		}
		result, rpcErr := call(func() (any, error) {
			data, err := store.Get(ctx, locator)
			if err != nil {
				return nil, err
			}
			return contenttransport.GetResult{DataBase64: base64.StdEncoding.EncodeToString(data)}, nil
		})
		return result, rpcErr, true
	default:
		return nil, nil, false
	}
}

func call(fn func() (any, error)) (any, *rpckit.Error) {
	result, err := fn()
	if err != nil {
		return nil, rpckit.FromError(err)
	}
	return result, nil
}

func decodeSingleStringParam(raw json.RawMessage) (string, error) {
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 && strings.TrimSpace(arr[0]) != "" {
		return strings.TrimSpace(arr[0]), nil
	}
	return "", errInvalidParams
}

func decodeHashParam(raw json.RawMessage) (common.Hash, error) {
	value, err := decodeSingleStringParam(raw)
	if err != nil {
		return common.Hash{}, err
	}
	return contentpolicy.ParseHash(value)
}

func decodePublishParams(raw json.RawMessage) (common.Hash, models.ContentAsset, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 2 {
		return common.Hash{}, models.ContentAsset{}, errInvalidParams
	}
	var parentRaw string
	if err := json.Unmarshal(arr[0], &parentRaw); err != nil {
		return common.Hash{}, models.ContentAsset{}, errInvalidParams
	}
	parent, err := contentpolicy.ParseHash(parentRaw)
	if err != nil {
		return common.Hash{}, models.ContentAsset{}, errInvalidParams
	}
	var node models.ContentAsset
	if err := json.Unmarshal(arr[1], &node); err != nil {
		return common.Hash{}, models.ContentAsset{}, errInvalidParams
	}
	return parent, node, nil
}

func decodePutParams(raw json.RawMessage) ([]byte, error) {
	var arr []contenttransport.PutParams
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 1 {
		return nil, errInvalidParams
	}
	data, err := base64.StdEncoding.DecodeString(arr[0].DataBase64)
	if err != nil {
		return nil, errInvalidParams
	}
	return data, nil
}
