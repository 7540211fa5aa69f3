package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/internal/securestore"
	"provenance/go-backend/internal/testutil/fsperm"
)

func TestCIDKnownValues(t *testing.T) {
	if got := CIDv0(nil); got != "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n" {
		t.Fatalf("unexpected cid for empty payload: %s", got)
	}
	if got := CIDv0([]byte("hello")); got != "QmRN6wdp1S2A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5" {
		t.Fatalf("unexpected cid for hello: %s", got)
	}
	if got := CIDv1([]byte("hello")); got != "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq" {
		t.Fatalf("unexpected v1 cid for hello: %s", got)
	}
}

func TestParseLocator(t *testing.T) {
	c, err := ParseLocator("ipfs://QmRN6wdp1S2A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5")
	if err != nil || c.String() != "QmRN6wdp1S2A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5" || c.Version() != 0 {
		t.Fatalf("parse locator: cid=%s err=%v", c, err)
	}
	if _, err := ParseLocator("QmRN6wdp1S2A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5"); err != nil {
		t.Fatalf("bare cid must parse: %v", err)
	}
	v1 := "ipfs://" + CIDv1([]byte("hello"))
	c, err = ParseLocator(v1)
	if err != nil || c.Version() != 1 {
		t.Fatalf("v1 locator must parse: cid=%s err=%v", c, err)
	}
	if blobKey(c.Hash()) != CIDv0([]byte("hello")) {
		t.Fatalf("v0 and v1 must share a blob key, got %s", blobKey(c.Hash()))
	}
	for _, bad := range []string{
		"", "ipfs://", "ipfs://0OIl", "ipfs://Qm/../x", "ipfs://3mJr7AoUXx2Wqd",
		// dag-cbor codec
		"ipfs://bafyreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq",
		// sha3-512 raw
		"ipfs://bafkriqdv2ut4g2hs57uer3hwwbz2gz3hqaeal2po6kyyk7k7tbhqg3vw36er25pxfwnrkriyyhgvra2sq3i5vgry325d32mlljj6l3lyvbexm",
	} {
		if _, err := ParseLocator(bad); !errors.Is(err, ErrInvalidLocator) {
			t.Fatalf("ParseLocator(%q): expected ErrInvalidLocator, got %v", bad, err)
		}
	}
}

func TestContentStoreCIDVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryContentStore()
	if err := store.SetCIDVersion(2); !errors.Is(err, ErrUnsupportedCIDVersion) {
		t.Fatalf("expected ErrUnsupportedCIDVersion, got %v", err)
	}
	if err := store.SetCIDVersion(1); err != nil {
		t.Fatalf("set cid version: %v", err)
	}
	v1, err := store.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if v1 != "ipfs://"+CIDv1([]byte("hello")) {
		t.Fatalf("expected v1 locator, got %s", v1)
	}
	if err := store.SetCIDVersion(0); err != nil {
		t.Fatalf("set cid version: %v", err)
	}
	v0, err := store.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if v0 != "ipfs://"+CIDv0([]byte("hello")) {
		t.Fatalf("expected v0 locator, got %s", v0)
	}
	if len(store.List()) != 1 {
		t.Fatalf("v0 and v1 puts of the same bytes must share one blob, got %d", len(store.List()))
	}
	for _, locator := range []string{v0, v1} {
		data, err := store.Get(ctx, locator)
		if err != nil || string(data) != "hello" {
			t.Fatalf("get %s: %q %v", locator, data, err)
		}
	}
}

func TestContentStoreMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryContentStore()
	locator, err := store.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if locator != "ipfs://QmRN6wdp1S2A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5" {
		t.Fatalf("unexpected locator %s", locator)
	}
	again, err := store.Put(ctx, []byte("hello"))
	if err != nil || again != locator {
		t.Fatalf("second put must be idempotent: %s %v", again, err)
	}
	if len(store.List()) != 1 {
		t.Fatalf("expected one blob, got %d", len(store.List()))
	}
	data, err := store.Get(ctx, locator)
	if err != nil || string(data) != "hello" {
		t.Fatalf("get failed: %q %v", data, err)
	}

	empty, err := store.Put(ctx, nil)
	if err != nil {
		t.Fatalf("empty put failed: %v", err)
	}
	data, err = store.Get(ctx, empty)
	if err != nil || len(data) != 0 {
		t.Fatalf("empty get failed: %q %v", data, err)
	}

	_, err = store.Get(ctx, "ipfs://"+CIDv0([]byte("missing")))
	if !errors.Is(err, contracts.ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestContentStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryContentStore()
	if _, err := store.Put(ctx, []byte("x")); !errors.Is(err, contracts.ErrContentStoreUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected unavailable+canceled, got %v", err)
	}
	if _, err := store.Get(ctx, "ipfs://"+CIDv0([]byte("x"))); !contracts.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestContentStoreMaxBlobBytes(t *testing.T) {
	store := NewMemoryContentStore()
	store.SetMaxBlobBytes(4)
	_, err := store.Put(context.Background(), []byte("12345"))
	if !errors.Is(err, ErrBlobTooLarge) || !errors.Is(err, contracts.ErrContentTooLarge) {
		t.Fatalf("expected ErrBlobTooLarge, got %v", err)
	}
	if contracts.Retryable(err) {
		t.Fatalf("oversize blobs must not be retryable: %v", err)
	}
	if _, err := store.Put(context.Background(), []byte("1234")); err != nil {
		t.Fatalf("blob at the limit must be accepted: %v", err)
	}
}

func TestContentStorePutRollbackOnPersistError(t *testing.T) {
	dir := t.TempDir()
	indexAsDir := filepath.Join(dir, "index-as-dir")
	if err := os.MkdirAll(indexAsDir, 0o700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	store := &ContentStore{
		dir:       dir,
		indexPath: indexAsDir, // directory path forces os.WriteFile error
		items:     make(map[string]BlobMeta),
		blobs:     make(map[string][]byte),
		now:       NewMemoryContentStore().now,
	}

	if _, err := store.Put(context.Background(), []byte("hello")); err == nil {
		t.Fatal("expected put error")
	}
	if len(store.items) != 0 {
		t.Fatalf("items map must stay unchanged after persist failure, got %d", len(store.items))
	}
	files, err := filepath.Glob(filepath.Join(dir, "Qm*.bin"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("blob file should be cleaned up on persist failure, found %d", len(files))
	}
}

func TestContentStorePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secure", "content")
	store, err := NewContentStore(dir)
	if err != nil {
		t.Fatalf("new content store failed: %v", err)
	}
	locator, err := store.Put(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	fsperm.AssertPrivateDirPerm(t, dir)

	reopened, err := NewContentStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	data, err := reopened.Get(context.Background(), locator)
	if err != nil || string(data) != "hello" {
		t.Fatalf("get after reopen: %q %v", data, err)
	}
}

func TestContentStoreDetectsCorruptedBlob(t *testing.T) {
	dir := t.TempDir()
	store, err := NewContentStore(dir)
	if err != nil {
		t.Fatalf("new content store failed: %v", err)
	}
	locator, err := store.Put(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	cid := strings.TrimPrefix(locator, LocatorScheme)
	if err := os.WriteFile(filepath.Join(dir, cid+".bin"), []byte("jello"), 0o600); err != nil {
		t.Fatalf("overwrite blob: %v", err)
	}
	_, err = store.Get(context.Background(), locator)
	if !errors.Is(err, ErrBlobCorrupted) {
		t.Fatalf("expected ErrBlobCorrupted, got %v", err)
	}
	if contracts.Retryable(err) {
		t.Fatalf("corruption must not be retryable: %v", err)
	}
	if _, err := store.Get(context.Background(), "ipfs://"+CIDv1([]byte("hello"))); !errors.Is(err, ErrBlobCorrupted) {
		t.Fatalf("v1 locator must detect the same corruption, got %v", err)
	}
}

func TestContentStoreWithSecretEncryptsAndReadsBlob(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "content")
	store, err := NewContentStoreWithSecret(dir, "test-secret")
	if err != nil {
		t.Fatalf("new content store failed: %v", err)
	}
	locator, err := store.Put(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	cid := strings.TrimPrefix(locator, LocatorScheme)
	raw, err := os.ReadFile(filepath.Join(dir, cid+".bin"))
	if err != nil {
		t.Fatalf("read raw blob failed: %v", err)
	}
	if strings.Contains(string(raw), "hello") {
		t.Fatal("blob must not be stored in plaintext when secret is set")
	}
	if !securestore.IsEncrypted(raw) {
		t.Fatal("blob must be stored in encrypted envelope format")
	}
	data, err := store.Get(context.Background(), locator)
	if err != nil || string(data) != "hello" {
		t.Fatalf("get failed: %q %v", data, err)
	}
}

func TestContentStoreWithSecretSealsPlaintextStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "content")
	plain, err := NewContentStore(dir)
	if err != nil {
		t.Fatalf("new plain store failed: %v", err)
	}
	locator, err := plain.Put(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("plain put failed: %v", err)
	}

	store, err := NewContentStoreWithSecret(dir, "test-secret")
	if err != nil {
		t.Fatalf("new protected store failed: %v", err)
	}
	data, err := store.Get(context.Background(), locator)
	if err != nil || string(data) != "hello" {
		t.Fatalf("get after sealing: %q %v", data, err)
	}
	rawIndex, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("read index failed: %v", err)
	}
	if !securestore.IsEncrypted(rawIndex) {
		t.Fatal("index must be sealed")
	}
	rawBlob, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(locator, LocatorScheme)+".bin"))
	if err != nil {
		t.Fatalf("read blob failed: %v", err)
	}
	if !securestore.IsEncrypted(rawBlob) {
		t.Fatal("blob must be sealed")
	}
}

func TestContentStoreWithSecretFailsOnTamperedCiphertext(t *testing.T) {
	dir := t.TempDir()
	store, err := NewContentStoreWithSecret(dir, "test-secret")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	locator, err := store.Put(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	path := filepath.Join(dir, strings.TrimPrefix(locator, LocatorScheme)+".bin")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read blob failed: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write tampered blob failed: %v", err)
	}

	_, err = store.Get(context.Background(), locator)
	if !errors.Is(err, securestore.ErrAuthFailed) && !errors.Is(err, securestore.ErrInvalid) {
		t.Fatalf("expected securestore auth/invalid error, got: %v", err)
	}
}

func TestContentStoreRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte(`{"schema_version":99,"items":{}}`), 0o600); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if _, err := NewContentStore(dir); !errors.Is(err, ErrUnsupportedStorageSchema) {
		t.Fatalf("expected ErrUnsupportedStorageSchema, got %v", err)
	}
}
