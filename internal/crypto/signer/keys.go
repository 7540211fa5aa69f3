package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"provenance/go-backend/internal/securestore"
)

const (
	RoleRoot         = "root"
	RoleIntermediate = "intermediate"

	hkdfInfoWallet   = "provenance/wallet/secp256k1/v1/"
	maxDeriveRetries = 16
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// KeySource names where a wallet key comes from. The first non-empty field
// among Hex, Mnemonic and File wins.
type KeySource struct {
	Role       string
	Hex        string
	Mnemonic   string
	File       string
	Passphrase string
}

// LoadKey resolves a key source. Every failure wraps ErrKeyUnavailable.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(src.Hex) != "":
		return keyFromHex(src.Hex)
	case strings.TrimSpace(src.Mnemonic) != "":
		return KeyFromMnemonic(src.Mnemonic, src.Role)
	case strings.TrimSpace(src.File) != "":
		return LoadEncryptedKey(src.File, src.Passphrase)
	default:
		return nil, fmt.Errorf("%w: no %s key configured", ErrKeyUnavailable, roleLabel(src.Role))
	}
}

func keyFromHex(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return key, nil
}

// KeyFromMnemonic expands the BIP-39 seed into a secp256k1 scalar bound to
// role, so one mnemonic can back both root and intermediate wallets.
func KeyFromMnemonic(mnemonic, role string) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, ErrInvalidMnemonic)
	}
	seed := bip39.NewSeed(mnemonic, "")
	reader := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfoWallet+roleLabel(role)))
	scalar := make([]byte, 32)
	for i := 0; i < maxDeriveRetries; i++ {
		if _, err := io.ReadFull(reader, scalar); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		if key, err := crypto.ToECDSA(scalar); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: key derivation exhausted", ErrKeyUnavailable)
}

// GenerateWallet creates a fresh 24-word mnemonic and its key for role.
func GenerateWallet(role string) (string, *ecdsa.PrivateKey, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	key, err := KeyFromMnemonic(mnemonic, role)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, key, nil
}

func SaveEncryptedKey(path, passphrase string, key *ecdsa.PrivateKey) error {
	if strings.TrimSpace(passphrase) == "" {
		return errors.New("passphrase is required")
	}
	if key == nil {
		return ErrKeyUnavailable
	}
	return securestore.WriteSealedFile(path, passphrase, securestore.PurposeSigningKey, []byte(hexutil.Encode(crypto.FromECDSA(key))))
}

func LoadEncryptedKey(path, passphrase string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("%w: passphrase is required for %s", ErrKeyUnavailable, path)
	}
	plain, err := securestore.ReadSealedFile(path, passphrase, securestore.PurposeSigningKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return keyFromHex(string(plain))
}

func roleLabel(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return "wallet"
	}
	return role
}
