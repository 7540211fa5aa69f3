package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/composition/registrynode"
	"provenance/go-backend/internal/domains/contracts"
)

func clearWalletEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ROOT_WALLET", "INTER_WALLET", "CONTENT",
		"PROVENANCE_REGISTRY_ENDPOINT", "PROVENANCE_ROOT_MNEMONIC", "PROVENANCE_INTER_MNEMONIC",
	} {
		t.Setenv(name, "")
	}
}

func startNode(t *testing.T) string {
	t.Helper()
	cfg := provenanceconfig.DefaultConfig()
	cfg.Registry.DBPath = ""
	cfg.Content.Dir = ""
	node, err := registrynode.NewNode(cfg, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	hs := httptest.NewServer(node.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = node.Close()
	})
	return hs.URL
}

func writeCLIConfig(t *testing.T, endpoint string) string {
	t.Helper()
	rootKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("root key: %v", err)
	}
	interKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("intermediate key: %v", err)
	}
	body := fmt.Sprintf(`logLevel: error
registry:
  endpoint: %s
content:
  description: cli test
keys:
  root:
    hex: %s
  intermediate:
    hex: %s
`, endpoint, hexutil.Encode(crypto.FromECDSA(rootKey)), hexutil.Encode(crypto.FromECDSA(interKey)))
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, map[string]any, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	var out map[string]any
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
			t.Fatalf("decode output %q: %v", stdout.String(), err)
		}
	}
	return code, out, stderr.String()
}

func TestCLIEndToEnd(t *testing.T) {
	clearWalletEnv(t)
	cfgPath := writeCLIConfig(t, startNode(t))

	code, out, stderr := runCLI(t, "--config", cfgPath, "register-root", "--label", "newsroom")
	if code != exitOK || out["label"] != "newsroom" {
		t.Fatalf("register-root: code=%d out=%v stderr=%s", code, out, stderr)
	}
	root := out["root"]

	code, _, _ = runCLI(t, "--config", cfgPath, "register-root")
	if code != exitRejected {
		t.Fatalf("duplicate root must exit %d, got %d", exitRejected, code)
	}

	code, out, stderr = runCLI(t, "--config", cfgPath, "register-intermediate")
	if code != exitOK || out["resolved_root"] != root || out["state"] != "intermediate_active" {
		t.Fatalf("register-intermediate: code=%d out=%v stderr=%s", code, out, stderr)
	}

	code, out, _ = runCLI(t, "--config", cfgPath, "whois")
	if code != exitOK || out["root"] != root || out["registered"] != true {
		t.Fatalf("whois: code=%d out=%v", code, out)
	}

	code, out, stderr = runCLI(t, "--config", cfgPath, "publish", "--text", "hello")
	if code != exitOK {
		t.Fatalf("publish: code=%d stderr=%s", code, stderr)
	}
	assetID, _ := out["asset_id"].(string)
	if assetID != "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8" {
		t.Fatalf("unexpected asset id %q", assetID)
	}

	code, out, stderr = runCLI(t, "--config", cfgPath, "consume", assetID)
	if code != exitOK || out["root"] != root {
		t.Fatalf("consume: code=%d out=%v stderr=%s", code, out, stderr)
	}

	code, out, stderr = runCLI(t, "--config", cfgPath, "children")
	if children, _ := out["children"].([]any); code != exitOK || len(children) != 1 || children[0] != assetID {
		t.Fatalf("children: code=%d out=%v stderr=%s", code, out, stderr)
	}
	code, out, _ = runCLI(t, "--config", cfgPath, "children", assetID)
	if children, _ := out["children"].([]any); code != exitOK || len(children) != 0 {
		t.Fatalf("leaf children: code=%d out=%v", code, out)
	}
	if code, _, _ = runCLI(t, "--config", cfgPath, "children", "0x12"); code != exitInvalidInput {
		t.Fatalf("bad parent id must exit %d, got %d", exitInvalidInput, code)
	}

	code, out, _ = runCLI(t, "--config", cfgPath, "publish", "--random", "12")
	if code != exitOK || out["payload_bytes"] != float64(12) {
		t.Fatalf("random publish: code=%d out=%v", code, out)
	}
}

func TestCLIInputErrors(t *testing.T) {
	clearWalletEnv(t)
	cfgPath := writeCLIConfig(t, startNode(t))

	cases := [][]string{
		{"--config", cfgPath, "whois", "nope"},
		{"--config", cfgPath, "consume", "0x1234"},
		{"--config", cfgPath, "consume", "0x0000000000000000000000000000000000000000000000000000000000000001"},
		{"--config", cfgPath, "publish", "--random", "0"},
		{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "whois"},
		{"keygen", "--role", "admin"},
		{"keygen", "--out", filepath.Join(t.TempDir(), "k.enc")},
	}
	t.Setenv("PROVENANCE_KEY_PASSPHRASE", "")
	for _, args := range cases {
		if code, _, stderr := runCLI(t, args...); code != exitInvalidInput {
			t.Fatalf("%v: expected exit %d, got %d (%s)", args, exitInvalidInput, code, stderr)
		}
	}
}

func TestCLIConsumeUnverified(t *testing.T) {
	clearWalletEnv(t)
	cfgPath := writeCLIConfig(t, startNode(t))

	code, out, stderr := runCLI(t, "--config", cfgPath, "publish", "--text", "unregistered signer")
	if code != exitOK {
		t.Fatalf("publish: code=%d stderr=%s", code, stderr)
	}
	code, out, _ = runCLI(t, "--config", cfgPath, "consume", out["asset_id"].(string))
	if code != exitVerificationFailed {
		t.Fatalf("expected exit %d, got %d", exitVerificationFailed, code)
	}
	chain, _ := out["delegation_chain"].(map[string]any)
	if chain["passed"] == true {
		t.Fatalf("delegation chain must not pass: %v", out)
	}
}

func TestCLIRegistryDown(t *testing.T) {
	clearWalletEnv(t)
	hs := httptest.NewServer(nil)
	endpoint := hs.URL
	hs.Close()
	cfgPath := writeCLIConfig(t, endpoint)
	if code, _, _ := runCLI(t, "--config", cfgPath, "--timeout", "2s", "whois", "0x00000000000000000000000000000000000000b1"); code != exitNetworkFailed {
		t.Fatalf("expected exit %d, got %d", exitNetworkFailed, code)
	}
}

func TestDoctor(t *testing.T) {
	clearWalletEnv(t)
	cfgPath := writeCLIConfig(t, startNode(t))

	code, out, _ := runCLI(t, "--config", cfgPath, "doctor")
	if code != exitNotReady || out["ready"] != false {
		t.Fatalf("doctor before registration: code=%d out=%v", code, out)
	}
	if code, _, stderr := runCLI(t, "--config", cfgPath, "register-root"); code != exitOK {
		t.Fatalf("register-root: %s", stderr)
	}
	if code, _, stderr := runCLI(t, "--config", cfgPath, "register-intermediate"); code != exitOK {
		t.Fatalf("register-intermediate: %s", stderr)
	}
	code, out, _ = runCLI(t, "--config", cfgPath, "doctor")
	if code != exitOK || out["ready"] != true {
		t.Fatalf("doctor after registration: code=%d out=%v", code, out)
	}
}

func TestKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "root.key")
	code, out, stderr := runCLI(t, "keygen", "--role", "root", "--out", path, "--passphrase", "pw")
	if code != exitOK || out["file"] != path || out["role"] != "root" {
		t.Fatalf("keygen: code=%d out=%v stderr=%s", code, out, stderr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sealed key missing: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{contracts.ErrRegistryUnavailable, exitNetworkFailed},
		{contracts.ErrRegistryRejected, exitRejected},
		{contracts.ErrContentMismatch, exitVerificationFailed},
		{errors.Join(contracts.ErrUnresolvedSigner), exitVerificationFailed},
		{contracts.ErrNodeNotFound, exitInvalidInput},
		{fmt.Errorf("fetch envelope: %w", contracts.ErrMalformedLocator), exitInvalidInput},
		{fmt.Errorf("store payload: %w", contracts.ErrContentTooLarge), exitInvalidInput},
		{fmt.Errorf("fetch envelope: %w", contracts.ErrContentCorrupted), exitVerificationFailed},
		{provenanceconfig.ErrInvalidConfig, exitInvalidInput},
		{errors.New("disk on fire"), exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
