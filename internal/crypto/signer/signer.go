// Package signer produces and recovers secp256k1 recoverable signatures.
//
// Two signing paths exist and must not be mixed: SignTypedData signs the
// 0x1901-prefixed delegation digest, SignAttestation signs the keccak256 of a
// canonical metadata serialization directly.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"provenance/go-backend/internal/crypto/typedhash"
)

const (
	SignatureLength = crypto.SignatureLength
	recoveryOffset  = 27
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrKeyUnavailable   = errors.New("signing key unavailable")
)

// Sign signs a 32-byte digest and returns r ‖ s ‖ v with v in {27, 28}.
func Sign(key *ecdsa.PrivateKey, digest common.Hash) ([]byte, error) {
	if key == nil || key.D == nil {
		return nil, ErrKeyUnavailable
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	sig[crypto.RecoveryIDOffset] += recoveryOffset
	return sig, nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	normalized, err := normalize(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func normalize(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	v := sig[crypto.RecoveryIDOffset]
	if v >= recoveryOffset {
		v -= recoveryOffset
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return nil, fmt.Errorf("%w: values out of range", ErrInvalidSignature)
	}
	out := make([]byte, SignatureLength)
	copy(out, sig)
	out[crypto.RecoveryIDOffset] = v
	return out, nil
}

// SignTypedData signs keccak256(0x1901 ‖ domainSeparator ‖ structHash).
func SignTypedData(key *ecdsa.PrivateKey, domainSeparator, structHash common.Hash) ([]byte, error) {
	return Sign(key, typedhash.TypedDataDigest(domainSeparator, structHash))
}

// RecoverTypedData is the verifier side of SignTypedData.
func RecoverTypedData(domainSeparator, structHash common.Hash, sig []byte) (common.Address, error) {
	return Recover(typedhash.TypedDataDigest(domainSeparator, structHash), sig)
}

// SignAttestation signs a content attestation message with no domain or
// struct wrapping.
func SignAttestation(key *ecdsa.PrivateKey, message common.Hash) ([]byte, error) {
	return Sign(key, message)
}

func Address(key *ecdsa.PrivateKey) (common.Address, error) {
	if key == nil || key.D == nil {
		return common.Address{}, ErrKeyUnavailable
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

func DecodeSignature(raw string) ([]byte, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	return sig, nil
}
