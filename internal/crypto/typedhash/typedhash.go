// Package typedhash derives the EIP-712 style digests used for identity
// delegation and the content addresses used for content binding.
package typedhash

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"provenance/go-backend/pkg/models"
)

const (
	DomainTypeString   = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	RegisterTypeString = "register(address root,address intermediate,uint256 expiry,uint256 nonce,uint256 chainID,uint256 deadline)"
)

// TypedDataPrefix is the fixed EIP-712 discriminator placed before the
// domain separator and struct hash. Verifiers never accept a preimage; they
// rebuild the digest with this prefix, so any other prefix fails recovery.
var TypedDataPrefix = []byte{0x19, 0x01}

var (
	domainTypeHash   = crypto.Keccak256Hash([]byte(DomainTypeString))
	registerTypeHash = crypto.Keccak256Hash([]byte(RegisterTypeString))
)

var (
	slotBytes32 = mustType("bytes32")
	slotUint256 = mustType("uint256")
	slotAddress = mustType("address")

	domainArgs = abi.Arguments{
		{Type: slotBytes32},
		{Type: slotBytes32},
		{Type: slotBytes32},
		{Type: slotUint256},
		{Type: slotAddress},
	}
	registerArgs = abi.Arguments{
		{Type: slotBytes32},
		{Type: slotAddress},
		{Type: slotAddress},
		{Type: slotUint256},
		{Type: slotUint256},
		{Type: slotUint256},
		{Type: slotUint256},
	}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("typedhash: abi type %q: %v", name, err))
	}
	return t
}

func Keccak256(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}

// ContentAddress is the identifier of a payload: keccak256 of its raw bytes.
func ContentAddress(payload []byte) common.Hash {
	return crypto.Keccak256Hash(payload)
}

// DomainSeparator hashes the fixed-width encoding of
// (typeHash, keccak(name), keccak(version), chainId, verifyingContract).
func DomainSeparator(meta models.DomainMetadata) (common.Hash, error) {
	encoded, err := domainArgs.Pack(
		domainTypeHash,
		crypto.Keccak256Hash([]byte(meta.Name)),
		crypto.Keccak256Hash([]byte(meta.Version)),
		new(big.Int).SetUint64(meta.ChainID),
		meta.VerifyingContract,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode domain: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// RegisterStructHash hashes the register struct. Field order and the type
// string are part of the wire contract.
func RegisterStructHash(root, intermediate common.Address, expiry, nonce, chainID, deadline uint64) (common.Hash, error) {
	encoded, err := registerArgs.Pack(
		registerTypeHash,
		root,
		intermediate,
		new(big.Int).SetUint64(expiry),
		new(big.Int).SetUint64(nonce),
		new(big.Int).SetUint64(chainID),
		new(big.Int).SetUint64(deadline),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode register struct: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// DelegationStructHash is RegisterStructHash over a delegation's fields.
func DelegationStructHash(d models.Delegation) (common.Hash, error) {
	return RegisterStructHash(d.Root, d.Intermediate, d.Expiry, d.Nonce, d.ChainID, d.Deadline)
}

func TypedDataPreimage(domainSeparator, structHash common.Hash) []byte {
	out := make([]byte, 0, len(TypedDataPrefix)+2*common.HashLength)
	out = append(out, TypedDataPrefix...)
	out = append(out, domainSeparator.Bytes()...)
	out = append(out, structHash.Bytes()...)
	return out
}

// TypedDataDigest is keccak256(0x1901 ‖ domainSeparator ‖ structHash).
func TypedDataDigest(domainSeparator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(TypedDataPreimage(domainSeparator, structHash))
}

// DelegationDigest is the final digest a root signs to authorize an intermediate.
func DelegationDigest(meta models.DomainMetadata, d models.Delegation) (common.Hash, error) {
	domainSeparator, err := DomainSeparator(meta)
	if err != nil {
		return common.Hash{}, err
	}
	structHash, err := DelegationStructHash(d)
	if err != nil {
		return common.Hash{}, err
	}
	return TypedDataDigest(domainSeparator, structHash), nil
}
