package provenanceconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/pkg/models"
)

// Config is the merged runtime configuration shared by the registry node
// and the CLI.
type Config struct {
	LogLevel   string
	Registry   RegistryConfig
	Content    ContentConfig
	Delegation DelegationConfig
	Keys       KeysConfig
}

type RegistryConfig struct {
	Endpoint          string
	Listen            string
	Token             string
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract string
	DBPath            string
	RateLimitRPS      float64
	RateLimitBurst    int
	RequestTimeout    time.Duration
}

type ContentConfig struct {
	Dir    string
	Secret string
	// Encrypt seals blobs even without a configured secret by generating a
	// storage.key next to them.
	Encrypt      bool
	MaxBlobBytes int64
	// CIDVersion is 0 for Qm… locators or 1 for raw bafk… locators.
	CIDVersion  int
	Description string
}

type DelegationConfig struct {
	ExpiryWindow   time.Duration
	DeadlineWindow time.Duration
	ExpiryOrdering string
}

type KeysConfig struct {
	Root         KeyConfig
	Intermediate KeyConfig
}

type KeyConfig struct {
	Hex        string
	Mnemonic   string
	File       string
	Passphrase string
}

// FileConfig mirrors the YAML layout. Pointer and zero values mean "unset".
type FileConfig struct {
	LogLevel   string               `yaml:"logLevel"`
	Registry   FileRegistryConfig   `yaml:"registry"`
	Content    FileContentConfig    `yaml:"content"`
	Delegation FileDelegationConfig `yaml:"delegation"`
	Keys       FileKeysConfig       `yaml:"keys"`
}

type FileRegistryConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Listen            string        `yaml:"listen"`
	Token             string        `yaml:"token"`
	Name              string        `yaml:"name"`
	Version           string        `yaml:"version"`
	ChainID           uint64        `yaml:"chainId"`
	VerifyingContract string        `yaml:"verifyingContract"`
	DBPath            string        `yaml:"dbPath"`
	RateLimitRPS      *float64      `yaml:"rateLimitRps"`
	RateLimitBurst    *int          `yaml:"rateLimitBurst"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
}

type FileContentConfig struct {
	Dir          string `yaml:"dir"`
	Secret       string `yaml:"secret"`
	Encrypt      *bool  `yaml:"encrypt"`
	MaxBlobBytes int64  `yaml:"maxBlobBytes"`
	CIDVersion   *int   `yaml:"cidVersion"`
	Description  string `yaml:"description"`
}

type FileDelegationConfig struct {
	ExpiryWindow   time.Duration `yaml:"expiryWindow"`
	DeadlineWindow time.Duration `yaml:"deadlineWindow"`
	ExpiryOrdering string        `yaml:"expiryOrdering"`
}

type FileKeysConfig struct {
	Root         KeyConfig `yaml:"root"`
	Intermediate KeyConfig `yaml:"intermediate"`
}

var ErrInvalidConfig = errors.New("invalid config")

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Registry: RegistryConfig{
			Endpoint:          "http://127.0.0.1:8787",
			Listen:            "/ip4/127.0.0.1/tcp/8787",
			Name:              "ContentGraphIdentityRegistry",
			Version:           "1",
			ChainID:           31337,
			VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			DBPath:            "data/registry.sqlite",
			RateLimitRPS:      30,
			RateLimitBurst:    60,
			RequestTimeout:    15 * time.Second,
		},
		Content: ContentConfig{
			Dir:          "data/content",
			MaxBlobBytes: 8 << 20,
			CIDVersion:   1,
		},
		Delegation: DelegationConfig{
			ExpiryWindow:   72 * time.Hour,
			DeadlineWindow: 24 * time.Hour,
			ExpiryOrdering: "warn",
		},
	}
}

// LoadFromPath merges the first readable config file onto DefaultConfig and
// applies env overrides. An explicit path must exist and parse; the default
// candidates are skipped when missing.
func LoadFromPath(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(configPath) != ""
	if explicit {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return Config{}, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
			}
			continue
		}

		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	mergeRegistry(&dst.Registry, src.Registry)
	if src.Content.Dir != "" {
		dst.Content.Dir = src.Content.Dir
	}
	if src.Content.Secret != "" {
		dst.Content.Secret = src.Content.Secret
	}
	if src.Content.Encrypt != nil {
		dst.Content.Encrypt = *src.Content.Encrypt
	}
	if src.Content.MaxBlobBytes != 0 {
		dst.Content.MaxBlobBytes = src.Content.MaxBlobBytes
	}
	if src.Content.CIDVersion != nil {
		dst.Content.CIDVersion = *src.Content.CIDVersion
	}
	if src.Content.Description != "" {
		dst.Content.Description = src.Content.Description
	}
	if src.Delegation.ExpiryWindow != 0 {
		dst.Delegation.ExpiryWindow = src.Delegation.ExpiryWindow
	}
	if src.Delegation.DeadlineWindow != 0 {
		dst.Delegation.DeadlineWindow = src.Delegation.DeadlineWindow
	}
	if src.Delegation.ExpiryOrdering != "" {
		dst.Delegation.ExpiryOrdering = src.Delegation.ExpiryOrdering
	}
	mergeKey(&dst.Keys.Root, src.Keys.Root)
	mergeKey(&dst.Keys.Intermediate, src.Keys.Intermediate)
}

func mergeRegistry(dst *RegistryConfig, src FileRegistryConfig) {
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.Listen != "" {
		dst.Listen = src.Listen
	}
	if src.Token != "" {
		dst.Token = src.Token
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	if src.ChainID != 0 {
		dst.ChainID = src.ChainID
	}
	if src.VerifyingContract != "" {
		dst.VerifyingContract = src.VerifyingContract
	}
	if src.DBPath != "" {
		dst.DBPath = src.DBPath
	}
	if src.RateLimitRPS != nil {
		dst.RateLimitRPS = *src.RateLimitRPS
	}
	if src.RateLimitBurst != nil {
		dst.RateLimitBurst = *src.RateLimitBurst
	}
	if src.RequestTimeout != 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
}

func mergeKey(dst *KeyConfig, src KeyConfig) {
	if src.Hex != "" {
		dst.Hex = src.Hex
	}
	if src.Mnemonic != "" {
		dst.Mnemonic = src.Mnemonic
	}
	if src.File != "" {
		dst.File = src.File
	}
	if src.Passphrase != "" {
		dst.Passphrase = src.Passphrase
	}
}

// ApplyEnvOverrides reads PROVENANCE_* variables and the wallet variables
// ROOT_WALLET, INTER_WALLET and CONTENT.
func ApplyEnvOverrides(cfg *Config) {
	setString(&cfg.LogLevel, "PROVENANCE_LOG_LEVEL")
	setString(&cfg.Registry.Endpoint, "PROVENANCE_REGISTRY_ENDPOINT")
	setString(&cfg.Registry.Listen, "PROVENANCE_REGISTRY_LISTEN")
	setString(&cfg.Registry.Token, "PROVENANCE_RPC_TOKEN")
	setString(&cfg.Registry.DBPath, "PROVENANCE_REGISTRY_DB")
	setString(&cfg.Registry.VerifyingContract, "PROVENANCE_VERIFYING_CONTRACT")
	if raw := strings.TrimSpace(os.Getenv("PROVENANCE_CHAIN_ID")); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil && v > 0 {
			cfg.Registry.ChainID = v
		}
	}
	setString(&cfg.Content.Dir, "PROVENANCE_CONTENT_DIR")
	setString(&cfg.Content.Secret, "PROVENANCE_CONTENT_SECRET")
	if v, ok := parseBoolEnv("PROVENANCE_CONTENT_ENCRYPT"); ok {
		cfg.Content.Encrypt = v
	}
	setString(&cfg.Content.Description, "CONTENT")
	setString(&cfg.Delegation.ExpiryOrdering, "PROVENANCE_EXPIRY_ORDERING")

	setString(&cfg.Keys.Root.Hex, "ROOT_WALLET")
	setString(&cfg.Keys.Intermediate.Hex, "INTER_WALLET")
	setString(&cfg.Keys.Root.Mnemonic, "PROVENANCE_ROOT_MNEMONIC")
	setString(&cfg.Keys.Intermediate.Mnemonic, "PROVENANCE_INTER_MNEMONIC")
	setString(&cfg.Keys.Root.Passphrase, "PROVENANCE_KEY_PASSPHRASE")
	setString(&cfg.Keys.Intermediate.Passphrase, "PROVENANCE_KEY_PASSPHRASE")
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func parseBoolEnv(name string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func (c Config) Validate() error {
	if c.Registry.ChainID == 0 {
		return fmt.Errorf("%w: registry.chainId must be positive", ErrInvalidConfig)
	}
	if !common.IsHexAddress(c.Registry.VerifyingContract) {
		return fmt.Errorf("%w: registry.verifyingContract %q is not an address", ErrInvalidConfig, c.Registry.VerifyingContract)
	}
	if c.Delegation.ExpiryWindow < 0 || c.Delegation.DeadlineWindow < 0 {
		return fmt.Errorf("%w: delegation windows must not be negative", ErrInvalidConfig)
	}
	if c.Content.MaxBlobBytes < 0 {
		return fmt.Errorf("%w: content.maxBlobBytes must not be negative", ErrInvalidConfig)
	}
	if c.Content.CIDVersion != 0 && c.Content.CIDVersion != 1 {
		return fmt.Errorf("%w: content.cidVersion must be 0 or 1, got %d", ErrInvalidConfig, c.Content.CIDVersion)
	}
	return nil
}

// Domain is the EIP-712 domain a local registry node serves.
func (c Config) Domain() models.DomainMetadata {
	return models.DomainMetadata{
		Name:              c.Registry.Name,
		Version:           c.Registry.Version,
		ChainID:           c.Registry.ChainID,
		VerifyingContract: common.HexToAddress(c.Registry.VerifyingContract),
	}
}

func (k KeyConfig) Source(role string) signer.KeySource {
	return signer.KeySource{
		Role:       role,
		Hex:        k.Hex,
		Mnemonic:   k.Mnemonic,
		File:       k.File,
		Passphrase: k.Passphrase,
	}
}
