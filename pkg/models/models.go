package models

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DomainMetadata is what a registry deployment reports about its EIP-712 domain.
type DomainMetadata struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           uint64         `json:"chain_id"`
	VerifyingContract common.Address `json:"verifying_contract"`
}

// Delegation authorizes Intermediate to act for Root until Expiry.
// Deadline bounds only the validity of Signature.
type Delegation struct {
	Root         common.Address `json:"root"`
	Intermediate common.Address `json:"intermediate"`
	Expiry       uint64         `json:"expiry"`
	Nonce        uint64         `json:"nonce"`
	ChainID      uint64         `json:"chain_id"`
	Deadline     uint64         `json:"deadline"`
	Signature    []byte         `json:"signature"`
}

func (d Delegation) ExpiresAt() time.Time {
	return time.Unix(int64(d.Expiry), 0).UTC()
}

func (d Delegation) DeadlineAt() time.Time {
	return time.Unix(int64(d.Deadline), 0).UTC()
}

type DelegationState string

const (
	DelegationStateUnregistered       DelegationState = "unregistered"
	DelegationStateRootRegistered     DelegationState = "root_registered"
	DelegationStateIntermediateActive DelegationState = "intermediate_active"
)

type TransactionReceipt struct {
	TxHash common.Hash `json:"tx_hash"`
	Method string      `json:"method"`
	Status string      `json:"status"`
	At     time.Time   `json:"at"`
}

const (
	ReceiptStatusConfirmed = "confirmed"
)

type NodeType uint8

const (
	NodeTypeRoot      NodeType = 0
	NodeTypeReference NodeType = 1
	NodeTypeAsset     NodeType = 2
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeRoot:
		return "ROOT"
	case NodeTypeReference:
		return "REFERENCE"
	case NodeTypeAsset:
		return "ASSET"
	default:
		return "UNKNOWN"
	}
}

func ParseNodeType(raw string) (NodeType, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ROOT":
		return NodeTypeRoot, true
	case "REFERENCE":
		return NodeTypeReference, true
	case "ASSET":
		return NodeTypeAsset, true
	default:
		return 0, false
	}
}

func (t NodeType) Valid() bool {
	return t <= NodeTypeAsset
}

// ContentAsset is a node of the content graph. ID is the content address of
// the payload, URI points at the signed metadata envelope.
type ContentAsset struct {
	ID          common.Hash `json:"id"`
	Locator     string      `json:"locator,omitempty"`
	NodeType    NodeType    `json:"node_type"`
	ReferenceOf common.Hash `json:"reference_of"`
	URI         string      `json:"uri"`
}

func (a ContentAsset) IsZero() bool {
	return a.ID == (common.Hash{})
}
