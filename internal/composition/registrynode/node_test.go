package registrynode

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/adapters/rpc"
	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/securestore"
	"provenance/go-backend/internal/testutil/fsperm"
)

func testConfig(t *testing.T) provenanceconfig.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := provenanceconfig.DefaultConfig()
	cfg.LogLevel = "error"
	cfg.Registry.DBPath = filepath.Join(dir, "registry.sqlite")
	cfg.Registry.Listen = "127.0.0.1:0"
	cfg.Content.Dir = filepath.Join(dir, "content")
	cfg.Content.Encrypt = true
	return cfg
}

func serve(t *testing.T, cfg provenanceconfig.Config) (*Node, *rpc.Client, func()) {
	t.Helper()
	node, err := NewNode(cfg, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	hs := httptest.NewServer(node.Handler())
	client, err := rpc.NewClient(hs.URL, rpc.ClientOptions{ReadRetries: -1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return node, client, func() {
		hs.Close()
		if err := node.Close(); err != nil {
			t.Fatalf("close node: %v", err)
		}
	}
}

func TestNodePersistsAcrossRestart(t *testing.T) {
	t.Setenv("PROVENANCE_ENV", "")
	ctx := context.Background()
	cfg := testConfig(t)
	root := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	_, client, stop := serve(t, cfg)
	if _, err := client.RegisterRoot(ctx, root, "newsroom"); err != nil {
		t.Fatalf("register root: %v", err)
	}
	locator, err := client.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := client.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	stop()

	fsperm.AssertPrivateDirPerm(t, cfg.Content.Dir)
	fsperm.AssertPrivateFilePerm(t, filepath.Join(cfg.Content.Dir, storageKeyFile))
	rawIndex, err := os.ReadFile(filepath.Join(cfg.Content.Dir, contentIndex))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !securestore.IsEncrypted(rawIndex) {
		t.Fatal("content index must be sealed when encrypt is set")
	}

	node, client, stop := serve(t, cfg)
	defer stop()
	resolved, err := client.WhoIs(ctx, root)
	if err != nil || resolved != root {
		t.Fatalf("root must survive restart: %s, %v", resolved.Hex(), err)
	}
	data, err := client.Get(ctx, locator)
	if err != nil || string(data) != "hello" {
		t.Fatalf("blob must survive restart: %q, %v", data, err)
	}
	stats, err := node.Storage.Ledger.Stats(ctx)
	if err != nil || stats.Roots != 1 {
		t.Fatalf("unexpected stats %+v, %v", stats, err)
	}
}

func TestNodeRejectsInvalidListenAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.Listen = "/ip4/127.0.0.1/udp/8787"
	if _, err := NewNode(cfg, nil); !errors.Is(err, rpc.ErrInvalidAddr) {
		t.Fatalf("expected ErrInvalidAddr, got %v", err)
	}
}

func TestNodeServesInMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.DBPath = ""
	cfg.Content.Dir = ""
	_, client, stop := serve(t, cfg)
	defer stop()
	meta, err := client.DomainMetadata(context.Background())
	if err != nil {
		t.Fatalf("domain: %v", err)
	}
	if meta != cfg.Domain() {
		t.Fatalf("unexpected domain %+v", meta)
	}
}
