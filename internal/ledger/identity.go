package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/internal/crypto/typedhash"
	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/pkg/models"
)

const (
	MethodRegisterRoot         = "registerRoot"
	MethodRegisterIntermediate = "registerIntermediate"
	MethodPublishNode          = "publishNode"

	maxLabelLength = 128
)

func (l *Ledger) Nonce(ctx context.Context, root common.Address) (uint64, error) {
	var nonce int64
	err := l.db.QueryRowContext(ctx, "SELECT nonce FROM nonces WHERE address = ?", root.Hex()).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	return uint64(nonce), nil
}

func (l *Ledger) RegisterRoot(ctx context.Context, root common.Address, label string) (receipt models.TransactionReceipt, err error) {
	started := time.Now()
	defer func() { l.metrics.observe(MethodRegisterRoot, started, err) }()

	label = strings.TrimSpace(label)
	switch {
	case root == (common.Address{}):
		return receipt, contracts.Rejected("root address is zero")
	case label == "":
		return receipt, contracts.Rejected("label is required")
	case len(label) > maxLabelLength:
		return receipt, contracts.Rejected("label is too long")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return receipt, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := rowExists(ctx, tx, "SELECT 1 FROM roots WHERE address = ?", root.Hex())
	if err != nil {
		return receipt, err
	}
	if exists {
		return receipt, contracts.Rejected("root already registered")
	}
	bound, err := rowExists(ctx, tx, "SELECT 1 FROM delegations WHERE intermediate = ?", root.Hex())
	if err != nil {
		return receipt, err
	}
	if bound {
		return receipt, contracts.Rejected("address is delegated as an intermediate")
	}

	now := l.now()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO roots (address, label, registered_at) VALUES (?, ?, ?)",
		root.Hex(), label, now.Unix(),
	); err != nil {
		return receipt, fmt.Errorf("insert root: %w", err)
	}
	receipt, err = l.recordReceipt(ctx, tx, MethodRegisterRoot, now, root.Bytes(), []byte(label))
	if err != nil {
		return models.TransactionReceipt{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.TransactionReceipt{}, fmt.Errorf("commit: %w", err)
	}
	l.logger.Info("root registered", "root", root.Hex(), "label", label, "tx", receipt.TxHash.Hex())
	return receipt, nil
}

// RegisterIntermediate accepts d only when its signature recovers to the
// root over the typed-data digest at the root's current nonce. The nonce
// then advances and any earlier delegation of the root is replaced.
func (l *Ledger) RegisterIntermediate(ctx context.Context, d models.Delegation) (receipt models.TransactionReceipt, err error) {
	started := time.Now()
	defer func() { l.metrics.observe(MethodRegisterIntermediate, started, err) }()

	now := l.now()
	// Block time has whole-second resolution.
	blockTime := now.Truncate(time.Second)
	switch {
	case d.Root == (common.Address{}) || d.Intermediate == (common.Address{}):
		return receipt, contracts.Rejected("root and intermediate are required")
	case d.Root == d.Intermediate:
		return receipt, contracts.Rejected("root cannot delegate to itself")
	case d.ChainID != l.domain.ChainID:
		return receipt, contracts.Rejected(fmt.Sprintf("chain id %d does not match registry chain %d", d.ChainID, l.domain.ChainID))
	case d.Expiry > 1<<62 || d.Deadline > 1<<62:
		return receipt, contracts.Rejected("timestamp out of range")
	case d.DeadlineAt().Before(blockTime):
		return receipt, contracts.Rejected("signature deadline passed")
	case !d.ExpiresAt().After(blockTime):
		return receipt, contracts.Rejected("expiry is not in the future")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return receipt, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	registered, err := rowExists(ctx, tx, "SELECT 1 FROM roots WHERE address = ?", d.Root.Hex())
	if err != nil {
		return receipt, err
	}
	if !registered {
		return receipt, contracts.Rejected("root is not registered")
	}
	isRoot, err := rowExists(ctx, tx, "SELECT 1 FROM roots WHERE address = ?", d.Intermediate.Hex())
	if err != nil {
		return receipt, err
	}
	if isRoot {
		return receipt, contracts.Rejected("intermediate is a registered root")
	}
	var owner string
	err = tx.QueryRowContext(ctx,
		"SELECT root FROM delegations WHERE intermediate = ? AND expiry > ?",
		d.Intermediate.Hex(), now.Unix(),
	).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return receipt, fmt.Errorf("read delegation: %w", err)
	case owner != d.Root.Hex():
		return receipt, contracts.Rejected("intermediate is delegated by another root")
	}

	var stored int64
	err = tx.QueryRowContext(ctx, "SELECT nonce FROM nonces WHERE address = ?", d.Root.Hex()).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return receipt, fmt.Errorf("read nonce: %w", err)
	}
	current := uint64(stored)
	if d.Nonce != current {
		return receipt, contracts.Rejected(fmt.Sprintf("stale nonce %d, expected %d", d.Nonce, current))
	}
	digest, err := typedhash.DelegationDigest(l.domain, d)
	if err != nil {
		return receipt, contracts.Rejected(err.Error())
	}
	recovered, err := signer.Recover(digest, d.Signature)
	if err != nil {
		return receipt, contracts.Rejected("invalid signature")
	}
	if recovered != d.Root {
		return receipt, contracts.Rejected("signature does not recover to root")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM delegations WHERE root = ?", d.Root.Hex()); err != nil {
		return receipt, fmt.Errorf("clear delegation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO delegations
		(intermediate, root, expiry, nonce, chain_id, deadline, signature, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intermediate) DO UPDATE SET
			root = excluded.root, expiry = excluded.expiry, nonce = excluded.nonce,
			chain_id = excluded.chain_id, deadline = excluded.deadline,
			signature = excluded.signature, registered_at = excluded.registered_at`,
		d.Intermediate.Hex(), d.Root.Hex(), int64(d.Expiry), int64(current), int64(d.ChainID),
		int64(d.Deadline), d.Signature, now.Unix(),
	); err != nil {
		return receipt, fmt.Errorf("insert delegation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO nonces (address, nonce) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET nonce = excluded.nonce`,
		d.Root.Hex(), int64(current+1),
	); err != nil {
		return receipt, fmt.Errorf("advance nonce: %w", err)
	}
	receipt, err = l.recordReceipt(ctx, tx, MethodRegisterIntermediate, now, d.Root.Bytes(), d.Intermediate.Bytes(), d.Signature)
	if err != nil {
		return models.TransactionReceipt{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.TransactionReceipt{}, fmt.Errorf("commit: %w", err)
	}
	l.logger.Info("intermediate registered",
		"root", d.Root.Hex(),
		"intermediate", d.Intermediate.Hex(),
		"expiry", d.Expiry,
		"nonce", current,
		"tx", receipt.TxHash.Hex(),
	)
	return receipt, nil
}

// WhoIs resolves addr to its root. A registered root resolves to itself,
// an intermediate resolves to its root until the delegation expires, and
// anything else resolves to the zero address.
func (l *Ledger) WhoIs(ctx context.Context, addr common.Address) (common.Address, error) {
	if addr == (common.Address{}) {
		return common.Address{}, nil
	}
	isRoot, err := rowExists(ctx, l.db, "SELECT 1 FROM roots WHERE address = ?", addr.Hex())
	if err != nil {
		return common.Address{}, err
	}
	if isRoot {
		return addr, nil
	}
	var root string
	err = l.db.QueryRowContext(ctx,
		"SELECT root FROM delegations WHERE intermediate = ? AND expiry > ?",
		addr.Hex(), l.now().Unix(),
	).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("read delegation: %w", err)
	}
	return common.HexToAddress(root), nil
}

// Delegation returns the stored delegation for intermediate regardless of
// expiry.
func (l *Ledger) Delegation(ctx context.Context, intermediate common.Address) (models.Delegation, bool, error) {
	var (
		root                             string
		expiry, nonce, chainID, deadline int64
		signature                        []byte
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT root, expiry, nonce, chain_id, deadline, signature FROM delegations WHERE intermediate = ?",
		intermediate.Hex(),
	).Scan(&root, &expiry, &nonce, &chainID, &deadline, &signature)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Delegation{}, false, nil
	}
	if err != nil {
		return models.Delegation{}, false, fmt.Errorf("read delegation: %w", err)
	}
	return models.Delegation{
		Root:         common.HexToAddress(root),
		Intermediate: intermediate,
		Expiry:       uint64(expiry),
		Nonce:        uint64(nonce),
		ChainID:      uint64(chainID),
		Deadline:     uint64(deadline),
		Signature:    signature,
	}, true, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func rowExists(ctx context.Context, q queryRower, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query: %w", err)
	}
	return true, nil
}
