// Package ledger is a SQLite-backed stand-in for the identity registry and
// content graph contracts. It enforces the same acceptance rules a deployed
// registry does and is what the registry node serves.
package ledger

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/crypto/typedhash"
	"provenance/go-backend/pkg/models"

	_ "modernc.org/sqlite"
)

const (
	maxBusyTimeoutMs = 5000
	memoryDSN        = ":memory:"
)

var ErrInvalidDomain = errors.New("invalid registry domain")

type Options struct {
	Domain  models.DomainMetadata
	Now     func() time.Time
	Metrics *Metrics
	Logger  *slog.Logger
}

// Ledger implements ports.Registry on top of a single SQLite connection.
// Every mutation runs in its own transaction.
type Ledger struct {
	db      *sql.DB
	file    string
	domain  models.DomainMetadata
	now     func() time.Time
	metrics *Metrics
	logger  *slog.Logger
}

// Open opens or creates the ledger database at path. An empty path or
// ":memory:" keeps the ledger in memory.
func Open(path string, opts Options) (*Ledger, error) {
	if err := validateDomain(opts.Domain); err != nil {
		return nil, err
	}
	l := &Ledger{
		domain:  opts.Domain,
		now:     opts.Now,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	dsn := memoryDSN
	path = strings.TrimSpace(path)
	if path != "" && path != memoryDSN {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		l.file = abs
		dsn = fmt.Sprintf("file:%s", filepath.Clean(abs))
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	l.db = db
	if err := l.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func OpenMemory(opts Options) (*Ledger, error) {
	return Open(memoryDSN, opts)
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func (l *Ledger) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS roots (
	address       TEXT PRIMARY KEY,
	label         TEXT NOT NULL,
	registered_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nonces (
	address TEXT PRIMARY KEY,
	nonce   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS delegations (
	intermediate  TEXT PRIMARY KEY,
	root          TEXT NOT NULL,
	expiry        INTEGER NOT NULL,
	nonce         INTEGER NOT NULL,
	chain_id      INTEGER NOT NULL,
	deadline      INTEGER NOT NULL,
	signature     BLOB NOT NULL,
	registered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS delegations_by_root ON delegations(root);
CREATE TABLE IF NOT EXISTS nodes (
	id           TEXT PRIMARY KEY,
	parent       TEXT NOT NULL,
	node_type    INTEGER NOT NULL,
	reference_of TEXT NOT NULL,
	uri          TEXT NOT NULL,
	published_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS receipts (
	tx_hash TEXT PRIMARY KEY,
	method  TEXT NOT NULL,
	at      INTEGER NOT NULL
);`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (l *Ledger) DomainMetadata(ctx context.Context) (models.DomainMetadata, error) {
	if err := ctx.Err(); err != nil {
		return models.DomainMetadata{}, err
	}
	return l.domain, nil
}

// Stats reports row counts for health output.
type Stats struct {
	Roots       int `json:"roots"`
	Delegations int `json:"delegations"`
	Nodes       int `json:"nodes"`
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for table, dst := range map[string]*int{
		"roots":       &st.Roots,
		"delegations": &st.Delegations,
		"nodes":       &st.Nodes,
	} {
		if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", table, err)
		}
	}
	return st, nil
}

// recordReceipt derives a transaction hash from the method, its arguments
// and the receipt sequence, and stores it within tx.
func (l *Ledger) recordReceipt(ctx context.Context, tx *sql.Tx, method string, at time.Time, args ...[]byte) (models.TransactionReceipt, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM receipts").Scan(&seq); err != nil {
		return models.TransactionReceipt{}, fmt.Errorf("count receipts: %w", err)
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], uint64(seq))
	parts := append([][]byte{[]byte(method), seqBytes[:]}, args...)
	txHash := typedhash.Keccak256(parts...)
	if _, err := tx.ExecContext(ctx, "INSERT INTO receipts (tx_hash, method, at) VALUES (?, ?, ?)", txHash.Hex(), method, at.Unix()); err != nil {
		return models.TransactionReceipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	return models.TransactionReceipt{
		TxHash: txHash,
		Method: method,
		Status: models.ReceiptStatusConfirmed,
		At:     at.UTC(),
	}, nil
}

func validateDomain(meta models.DomainMetadata) error {
	switch {
	case strings.TrimSpace(meta.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDomain)
	case strings.TrimSpace(meta.Version) == "":
		return fmt.Errorf("%w: version is required", ErrInvalidDomain)
	case meta.ChainID == 0:
		return fmt.Errorf("%w: chain id is required", ErrInvalidDomain)
	case meta.VerifyingContract == (common.Address{}):
		return fmt.Errorf("%w: verifying contract is required", ErrInvalidDomain)
	}
	return nil
}
