package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	contentrpc "provenance/go-backend/internal/domains/content/adapters/rpc"
	identityrpc "provenance/go-backend/internal/domains/identity/adapters/rpc"
	"provenance/go-backend/internal/domains/rpckit"
)

const (
	MethodHealthCheck = "health.check"

	tokenHeader = "X-Provenance-Token"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const maxRPCBodyBytes int64 = 16 << 20 // 16 MiB, blobs travel base64 encoded

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req rpcRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: rpckit.CodeParseError, Message: "parse error"},
		})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPCInvalidRequest(w, req.ID)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCInvalidRequest(w, req.ID)
		return
	}

	reqID := uuid.NewString()
	started := time.Now()
	s.logger.Info("rpc request", "request_id", reqID, "method", req.Method, "rpc_id", string(req.ID))

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	result, rpcErr := s.dispatchRPC(ctx, req.Method, req.Params)

	code := 0
	var wireErr *rpcError
	if rpcErr != nil {
		code = rpcErr.Code
		wireErr = &rpcError{Code: rpcErr.Code, Message: rpcErr.Message}
		s.logger.Error("rpc failed",
			"request_id", reqID,
			"method", req.Method,
			"rpc_code", rpcErr.Code,
			"error", rpcErr.Message,
			"latency_ms", time.Since(started).Milliseconds())
	} else {
		s.logger.Info("rpc response", "request_id", reqID, "method", req.Method, "latency_ms", time.Since(started).Milliseconds())
	}
	if s.requests != nil {
		s.requests.WithLabelValues(req.Method, strconv.Itoa(code)).Inc()
	}
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   wireErr,
	})
}

func (s *Server) dispatchRPC(ctx context.Context, method string, rawParams json.RawMessage) (any, *rpckit.Error) {
	if method == MethodHealthCheck {
		return map[string]string{"status": "ok"}, nil
	}
	if result, rpcErr, ok := identityrpc.Dispatch(ctx, s.registry, method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := contentrpc.Dispatch(ctx, s.registry, s.store, method, rawParams); ok {
		return result, rpcErr
	}
	return nil, &rpckit.Error{Code: rpckit.CodeMethodNotFound, Message: "method not found"}
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCInvalidRequest(w http.ResponseWriter, id json.RawMessage) {
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: rpckit.CodeInvalidRequest, Message: "invalid request"},
	})
}
