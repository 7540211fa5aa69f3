package securestore

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Purpose is bound into the AEAD associated data so a sealed signing key can
// never be opened as a content blob and vice versa.
type Purpose string

const (
	PurposeSigningKey Purpose = "signing-key"
	PurposeContent    Purpose = "content"
)

const (
	envelopeVersion = 2
	magic           = "PROVENC1\n"
	saltSize        = 16

	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1
)

var (
	ErrAuthFailed      = errors.New("securestore authentication failed")
	ErrInvalid         = errors.New("securestore envelope is invalid")
	ErrPlaintext       = errors.New("securestore data is not encrypted")
	ErrPurposeMismatch = errors.New("securestore envelope sealed for another purpose")
)

type envelope struct {
	Version    uint32  `json:"v"`
	Purpose    Purpose `json:"purpose"`
	Time       uint32  `json:"argon2_t"`
	MemoryKB   uint32  `json:"argon2_m"`
	Threads    uint8   `json:"argon2_p"`
	Salt       []byte  `json:"salt"`
	Nonce      []byte  `json:"nonce"`
	Ciphertext []byte  `json:"ct"`
}

// Encrypt seals plaintext under an argon2id-derived XChaCha20-Poly1305 key.
// The output starts with a fixed magic line so IsEncrypted can tell sealed
// data from legacy plaintext.
func Encrypt(secret string, purpose Purpose, plaintext []byte) ([]byte, error) {
	env := envelope{
		Version:  envelopeVersion,
		Purpose:  purpose,
		Time:     kdfTime,
		MemoryKB: kdfMemoryKB,
		Threads:  kdfThreads,
		Salt:     make([]byte, saltSize),
		Nonce:    make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, err
	}
	aead, err := env.aead(secret)
	if err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, plaintext, env.associatedData())

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(magic), raw...), nil
}

func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magic))
}

func Decrypt(secret string, purpose Purpose, data []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, ErrPlaintext
	}
	var env envelope
	if err := json.Unmarshal(data[len(magic):], &env); err != nil {
		return nil, ErrInvalid
	}
	if env.Version != envelopeVersion || env.Time == 0 || env.MemoryKB == 0 || env.Threads == 0 {
		return nil, ErrInvalid
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX || len(env.Salt) == 0 {
		return nil, ErrInvalid
	}
	if env.Purpose != purpose {
		return nil, ErrPurposeMismatch
	}
	aead, err := env.aead(secret)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.associatedData())
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e envelope) associatedData() []byte {
	return []byte(magic + string(e.Purpose))
}

func (e envelope) aead(secret string) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(secret), e.Salt, e.Time, e.MemoryKB, e.Threads, chacha20poly1305.KeySize)
	defer clear(key)
	return chacha20poly1305.NewX(key)
}
