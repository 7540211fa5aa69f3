package provenanceconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPathMergesFileOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
registry:
  chainId: 11155111
  verifyingContract: "0x00000000000000000000000000000000000000aa"
  rateLimitBurst: 0
delegation:
  expiryWindow: 48h
  expiryOrdering: reject
content:
  encrypt: true
keys:
  intermediate:
    file: keys/inter.key
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registry.ChainID != 11155111 {
		t.Fatalf("expected chain id from file, got %d", cfg.Registry.ChainID)
	}
	if cfg.Registry.RateLimitBurst != 0 {
		t.Fatalf("explicit zero burst must override default, got %d", cfg.Registry.RateLimitBurst)
	}
	if cfg.Registry.RateLimitRPS != 30 {
		t.Fatalf("unset rps must keep default, got %v", cfg.Registry.RateLimitRPS)
	}
	if !cfg.Content.Encrypt {
		t.Fatal("expected content.encrypt from file")
	}
	if cfg.Delegation.ExpiryWindow != 48*time.Hour || cfg.Delegation.DeadlineWindow != 24*time.Hour {
		t.Fatalf("unexpected windows: %+v", cfg.Delegation)
	}
	if cfg.Delegation.ExpiryOrdering != "reject" {
		t.Fatalf("expected reject ordering, got %q", cfg.Delegation.ExpiryOrdering)
	}
	if src := cfg.Keys.Intermediate.Source("intermediate"); src.File != "keys/inter.key" || src.Role != "intermediate" {
		t.Fatalf("unexpected key source: %+v", src)
	}
	if got := cfg.Domain(); got.ChainID != 11155111 || got.VerifyingContract != common.HexToAddress("0xaa") {
		t.Fatalf("unexpected domain: %+v", got)
	}
}

func TestLoadFromPathExplicitPathErrors(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing explicit config must fail")
	}
	if _, err := LoadFromPath(writeConfig(t, "registry: [")); err == nil {
		t.Fatal("malformed config must fail")
	}
	_, err := LoadFromPath(writeConfig(t, "registry:\n  verifyingContract: nope\n"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ROOT_WALLET", "0xabc")
	t.Setenv("INTER_WALLET", "0xdef")
	t.Setenv("CONTENT", "press release")
	t.Setenv("PROVENANCE_CHAIN_ID", "11155111")
	t.Setenv("PROVENANCE_REGISTRY_ENDPOINT", "/ip4/10.0.0.2/tcp/8787")
	t.Setenv("PROVENANCE_KEY_PASSPHRASE", "pw")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if cfg.Keys.Root.Hex != "0xabc" || cfg.Keys.Intermediate.Hex != "0xdef" {
		t.Fatalf("wallet env not applied: %+v", cfg.Keys)
	}
	if cfg.Content.Description != "press release" {
		t.Fatalf("CONTENT env not applied: %q", cfg.Content.Description)
	}
	if cfg.Registry.ChainID != 11155111 || cfg.Registry.Endpoint != "/ip4/10.0.0.2/tcp/8787" {
		t.Fatalf("registry env not applied: %+v", cfg.Registry)
	}
	if cfg.Keys.Root.Passphrase != "pw" || cfg.Keys.Intermediate.Passphrase != "pw" {
		t.Fatal("passphrase env must apply to both roles")
	}
}

func TestApplyEnvOverridesIgnoresInvalidChainID(t *testing.T) {
	t.Setenv("PROVENANCE_CHAIN_ID", "zero")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.Registry.ChainID != DefaultConfig().Registry.ChainID {
		t.Fatalf("invalid chain id must be ignored, got %d", cfg.Registry.ChainID)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestMergeKeepsUnsetValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Content.Encrypt = true
	encrypt := false
	Merge(&cfg, FileConfig{Content: FileContentConfig{Dir: "blobs"}})
	if !cfg.Content.Encrypt || cfg.Content.Dir != "blobs" {
		t.Fatalf("unset encrypt must not override: %+v", cfg.Content)
	}
	Merge(&cfg, FileConfig{Content: FileContentConfig{Encrypt: &encrypt}})
	if cfg.Content.Encrypt {
		t.Fatal("explicit false must override")
	}
	if cfg.Registry.Name != "ContentGraphIdentityRegistry" {
		t.Fatalf("registry name must keep default, got %q", cfg.Registry.Name)
	}
}

func TestApplyEnvOverridesContentEncrypt(t *testing.T) {
	t.Setenv("PROVENANCE_CONTENT_ENCRYPT", "yes")
	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if !cfg.Content.Encrypt {
		t.Fatal("expected encrypt from env")
	}
	t.Setenv("PROVENANCE_CONTENT_ENCRYPT", "maybe")
	cfg = DefaultConfig()
	ApplyEnvOverrides(&cfg)
	if cfg.Content.Encrypt {
		t.Fatal("unparseable bool must be ignored")
	}
}

func TestContentCIDVersion(t *testing.T) {
	if got := DefaultConfig().Content.CIDVersion; got != 1 {
		t.Fatalf("default cid version=%d, want 1", got)
	}
	cfg, err := LoadFromPath(writeConfig(t, "content:\n  cidVersion: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Content.CIDVersion != 0 {
		t.Fatalf("explicit zero cid version must override default, got %d", cfg.Content.CIDVersion)
	}
	cfg.Content.CIDVersion = 2
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for cid version 2, got %v", err)
	}
}
