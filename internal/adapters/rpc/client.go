package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	contentpolicy "provenance/go-backend/internal/domains/content/policy"
	contenttransport "provenance/go-backend/internal/domains/content/transport"
	"provenance/go-backend/internal/domains/contracts"
	identityrpc "provenance/go-backend/internal/domains/identity/adapters/rpc"
	identitytransport "provenance/go-backend/internal/domains/identity/transport"
	"provenance/go-backend/internal/domains/rpckit"
	"provenance/go-backend/pkg/models"
)

const (
	defaultClientTimeout  = 30 * time.Second
	defaultReadRetries    = 3
	defaultInitialBackoff = 200 * time.Millisecond
	maxResponseBytes      = 32 << 20
)

var (
	_ contracts.Registry     = (*Client)(nil)
	_ contracts.GraphIndex   = (*Client)(nil)
	_ contracts.ContentStore = (*Client)(nil)
)

type ClientOptions struct {
	Token      string
	HTTPClient *http.Client
	// ReadRetries bounds retries of idempotent reads. Writes are never
	// retried because a lost response may hide an applied mutation.
	ReadRetries    int
	InitialBackoff time.Duration
	Logger         *slog.Logger
}

// Client reaches a registry node over JSON-RPC. It implements both the
// registry and the content store ports.
type Client struct {
	endpoint       string
	token          string
	http           *http.Client
	readRetries    uint64
	initialBackoff time.Duration
	logger         *slog.Logger
}

func NewClient(endpoint string, opts ClientOptions) (*Client, error) {
	resolved, err := ResolveEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:       resolved,
		token:          opts.Token,
		http:           opts.HTTPClient,
		readRetries:    defaultReadRetries,
		initialBackoff: opts.InitialBackoff,
		logger:         opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultClientTimeout}
	}
	if opts.ReadRetries > 0 {
		c.readRetries = uint64(opts.ReadRetries)
	} else if opts.ReadRetries < 0 {
		c.readRetries = 0
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = defaultInitialBackoff
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) DomainMetadata(ctx context.Context) (models.DomainMetadata, error) {
	var out models.DomainMetadata
	err := c.call(ctx, identitytransport.MethodRegistryDomain, []any{}, &out, true)
	return out, err
}

func (c *Client) Nonce(ctx context.Context, root common.Address) (uint64, error) {
	var out identityrpc.NonceResult
	err := c.call(ctx, identitytransport.MethodRegistryNonce, []string{root.Hex()}, &out, true)
	return out.Nonce, err
}

func (c *Client) RegisterRoot(ctx context.Context, root common.Address, label string) (models.TransactionReceipt, error) {
	var out models.TransactionReceipt
	err := c.call(ctx, identitytransport.MethodRegistryRegisterRoot, []string{root.Hex(), label}, &out, false)
	return out, err
}

func (c *Client) RegisterIntermediate(ctx context.Context, d models.Delegation) (models.TransactionReceipt, error) {
	var out models.TransactionReceipt
	params := []identitytransport.Delegation{identitytransport.DelegationToWire(d)}
	err := c.call(ctx, identitytransport.MethodRegistryRegisterIntermediate, params, &out, false)
	return out, err
}

func (c *Client) WhoIs(ctx context.Context, addr common.Address) (common.Address, error) {
	var out identityrpc.WhoIsResult
	err := c.call(ctx, identitytransport.MethodRegistryWhoIs, []string{addr.Hex()}, &out, true)
	return out.Root, err
}

func (c *Client) Node(ctx context.Context, id common.Hash) (models.ContentAsset, error) {
	var out models.ContentAsset
	err := c.call(ctx, contenttransport.MethodGraphGetNode, []string{id.Hex()}, &out, true)
	return out, err
}

func (c *Client) PublishNode(ctx context.Context, parentRef common.Hash, node models.ContentAsset) (models.TransactionReceipt, error) {
	var out models.TransactionReceipt
	err := c.call(ctx, contenttransport.MethodGraphPublish, []any{parentRef.Hex(), node}, &out, false)
	return out, err
}

func (c *Client) Children(ctx context.Context, parent common.Hash) ([]common.Hash, error) {
	var out contenttransport.ChildrenResult
	if err := c.call(ctx, contenttransport.MethodGraphChildren, []string{parent.Hex()}, &out, true); err != nil {
		return nil, err
	}
	children := make([]common.Hash, 0, len(out.Children))
	for _, raw := range out.Children {
		id, err := contentpolicy.ParseHash(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: child id %q: %v", contracts.ErrRegistryUnavailable, raw, err)
		}
		children = append(children, id)
	}
	return children, nil
}

// Put is content addressed and therefore safe to retry.
func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	var out contenttransport.PutResult
	params := []contenttransport.PutParams{{DataBase64: base64.StdEncoding.EncodeToString(data)}}
	if err := c.call(ctx, contenttransport.MethodContentPut, params, &out, true); err != nil {
		return "", err
	}
	return out.Locator, nil
}

func (c *Client) Get(ctx context.Context, locator string) ([]byte, error) {
	var out contenttransport.GetResult
	if err := c.call(ctx, contenttransport.MethodContentGet, []string{locator}, &out, true); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(out.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode blob: %v", contracts.ErrContentStoreUnavailable, err)
	}
	return data, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, MethodHealthCheck, []any{}, nil, true)
}

func (c *Client) call(ctx context.Context, method string, params any, out any, idempotent bool) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.Quote(uuid.NewString())),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	unavailable := unavailableFor(method)
	attempt := func() error {
		err := c.roundTrip(ctx, body, out, unavailable)
		if err == nil {
			return nil
		}
		if !idempotent || !contracts.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	retries := c.readRetries
	if !idempotent {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)
	return backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		c.logger.Warn("rpc call failed, retrying", "method", method, "wait", wait.String(), "error", err)
	})
}

// unavailableFor names the service behind method so transport failures are
// reported against the right dependency.
func unavailableFor(method string) error {
	if strings.HasPrefix(method, contenttransport.ContentMethodPrefix) {
		return contracts.ErrContentStoreUnavailable
	}
	return contracts.ErrRegistryUnavailable
}

func (c *Client) roundTrip(ctx context.Context, body []byte, out any, unavailable error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", unavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: http status %d", unavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: decode rpc response: %v", unavailable, err)
	}
	if envelope.Error != nil {
		return rpckit.ToError(envelope.Error.Code, envelope.Error.Message, unavailable)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode rpc result: %w", err)
	}
	return nil
}
