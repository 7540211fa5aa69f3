package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/pkg/models"
)

const maxURILength = 2048

// Node returns the node stored under id. Unknown ids yield a zero asset and
// no error, the way a contract mapping read does.
func (l *Ledger) Node(ctx context.Context, id common.Hash) (models.ContentAsset, error) {
	var (
		nodeType    int64
		referenceOf string
		uri         string
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT node_type, reference_of, uri FROM nodes WHERE id = ?", id.Hex(),
	).Scan(&nodeType, &referenceOf, &uri)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ContentAsset{}, nil
	}
	if err != nil {
		return models.ContentAsset{}, fmt.Errorf("read node: %w", err)
	}
	return models.ContentAsset{
		ID:          id,
		NodeType:    models.NodeType(nodeType),
		ReferenceOf: common.HexToHash(referenceOf),
		URI:         uri,
	}, nil
}

// Children lists the ids published under parent in publication order.
func (l *Ledger) Children(ctx context.Context, parent common.Hash) ([]common.Hash, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id FROM nodes WHERE parent = ? ORDER BY published_at, rowid", parent.Hex(),
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()
	var out []common.Hash
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, common.HexToHash(id))
	}
	return out, rows.Err()
}

// PublishNode appends node under parentRef. Nodes are immutable once
// published, and a non-zero parent or reference must already exist.
func (l *Ledger) PublishNode(ctx context.Context, parentRef common.Hash, node models.ContentAsset) (receipt models.TransactionReceipt, err error) {
	started := time.Now()
	defer func() { l.metrics.observe(MethodPublishNode, started, err) }()

	uri := strings.TrimSpace(node.URI)
	switch {
	case node.ID == (common.Hash{}):
		return receipt, contracts.Rejected("node id is zero")
	case !node.NodeType.Valid():
		return receipt, contracts.Rejected(fmt.Sprintf("unknown node type %d", node.NodeType))
	case uri == "":
		return receipt, contracts.Rejected("node uri is required")
	case len(uri) > maxURILength:
		return receipt, contracts.Rejected("node uri is too long")
	case node.ID == parentRef || node.ID == node.ReferenceOf:
		return receipt, contracts.Rejected("node cannot reference itself")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return receipt, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exists, err := rowExists(ctx, tx, "SELECT 1 FROM nodes WHERE id = ?", node.ID.Hex())
	if err != nil {
		return receipt, err
	}
	if exists {
		return receipt, contracts.Rejected("node already published")
	}
	for _, ref := range []common.Hash{parentRef, node.ReferenceOf} {
		if ref == (common.Hash{}) {
			continue
		}
		found, err := rowExists(ctx, tx, "SELECT 1 FROM nodes WHERE id = ?", ref.Hex())
		if err != nil {
			return receipt, err
		}
		if !found {
			return receipt, contracts.Rejected(fmt.Sprintf("referenced node %s does not exist", ref.Hex()))
		}
	}

	now := l.now()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO nodes (id, parent, node_type, reference_of, uri, published_at) VALUES (?, ?, ?, ?, ?, ?)",
		node.ID.Hex(), parentRef.Hex(), int64(node.NodeType), node.ReferenceOf.Hex(), uri, now.Unix(),
	); err != nil {
		return receipt, fmt.Errorf("insert node: %w", err)
	}
	receipt, err = l.recordReceipt(ctx, tx, MethodPublishNode, now, parentRef.Bytes(), node.ID.Bytes(), []byte(uri))
	if err != nil {
		return models.TransactionReceipt{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.TransactionReceipt{}, fmt.Errorf("commit: %w", err)
	}
	l.logger.Info("node published",
		"id", node.ID.Hex(),
		"parent", parentRef.Hex(),
		"type", node.NodeType.String(),
		"tx", receipt.TxHash.Hex(),
	)
	return receipt, nil
}
