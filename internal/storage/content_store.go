package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/mr-tron/base58"
	mh "github.com/multiformats/go-multihash"

	"provenance/go-backend/internal/domains/contracts"
	"provenance/go-backend/internal/securestore"
)

const (
	LocatorScheme = "ipfs://"

	contentIndexSchemaVersion = 1
)

var (
	ErrInvalidLocator           = contracts.ErrMalformedLocator
	ErrBlobTooLarge             = contracts.ErrContentTooLarge
	ErrBlobCorrupted            = contracts.ErrContentCorrupted
	ErrUnsupportedStorageSchema = errors.New("unsupported storage schema version")
	ErrUnsupportedCIDVersion    = errors.New("unsupported cid version")
)

// BlobMeta describes one stored blob. CID is the base58 sha2-256 multihash,
// which is also the CIDv0 form, so v0 and v1 locators share one entry.
type BlobMeta struct {
	CID       string    `json:"cid"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentStore is a content-addressed blob store. Blobs live in dir, one file
// per CID, optionally sealed with securestore; an empty dir keeps everything
// in memory.
type ContentStore struct {
	mu        sync.RWMutex
	dir       string
	indexPath string
	secret    string
	items     map[string]BlobMeta
	blobs     map[string][]byte
	maxBytes  int64
	version   uint64
	now       func() time.Time
}

func NewContentStore(dir string) (*ContentStore, error) {
	return NewContentStoreWithSecret(dir, "")
}

func NewMemoryContentStore() *ContentStore {
	s, _ := NewContentStoreWithSecret("", "")
	return s
}

func NewContentStoreWithSecret(dir, secret string) (*ContentStore, error) {
	s := &ContentStore{
		dir:    strings.TrimSpace(dir),
		secret: strings.TrimSpace(secret),
		items:  make(map[string]BlobMeta),
		blobs:  make(map[string][]byte),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if s.dir != "" {
		s.indexPath = filepath.Join(s.dir, "index.json")
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetMaxBlobBytes caps the size of a single blob. Zero disables the cap.
func (s *ContentStore) SetMaxBlobBytes(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit < 0 {
		limit = 0
	}
	s.maxBytes = limit
}

// SetCIDVersion selects the CID version Put hands out: 0 for Qm… locators,
// 1 for raw-codec bafk… locators. Get accepts both regardless.
func (s *ContentStore) SetCIDVersion(version int) error {
	if version != 0 && version != 1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedCIDVersion, version)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = uint64(version)
	return nil
}

// Put stores data and returns its ipfs:// locator. Storing the same bytes
// twice is a no-op returning the same locator.
func (s *ContentStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", contracts.ErrContentStoreUnavailable, err)
	}
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	key := blobKey(hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	locator := LocatorScheme + newCID(s.version, hash).String()
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d > %d", ErrBlobTooLarge, len(data), s.maxBytes)
	}
	if _, exists := s.items[key]; exists {
		return locator, nil
	}
	meta := BlobMeta{CID: key, Size: int64(len(data)), CreatedAt: s.now()}
	if s.dir == "" {
		s.items[key] = meta
		s.blobs[key] = slices.Clone(data)
		return locator, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", err
	}
	blob := slices.Clone(data)
	if s.secret != "" {
		blob, err = securestore.Encrypt(s.secret, securestore.PurposeContent, blob)
		if err != nil {
			return "", err
		}
	}
	filePath := s.filePath(key)
	if err := os.WriteFile(filePath, blob, 0o600); err != nil {
		return "", err
	}
	nextItems := cloneBlobMetaMap(s.items)
	nextItems[key] = meta
	if err := s.persistItemsLocked(nextItems); err != nil {
		_ = os.Remove(filePath)
		return "", err
	}
	s.items = nextItems
	return locator, nil
}

// Get returns the bytes behind locator after checking they still hash to it.
func (s *ContentStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", contracts.ErrContentStoreUnavailable, err)
	}
	c, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	data, err := s.read(blobKey(c.Hash()))
	if err != nil {
		return nil, err
	}
	sum, err := c.Prefix().Sum(data)
	if err != nil || !sum.Equals(c) {
		return nil, fmt.Errorf("%w: %s", ErrBlobCorrupted, c)
	}
	return data, nil
}

func (s *ContentStore) List() []BlobMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BlobMeta, 0, len(s.items))
	for _, meta := range s.items {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CID < out[j].CID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *ContentStore) read(key string) ([]byte, error) {
	s.mu.RLock()
	_, ok := s.items[key]
	blob, hasBlob := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrContentNotFound, key)
	}
	if hasBlob {
		return slices.Clone(blob), nil
	}
	if s.dir == "" {
		return nil, fmt.Errorf("%w: %s", contracts.ErrContentNotFound, key)
	}
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", contracts.ErrContentNotFound, key)
		}
		return nil, err
	}
	if s.secret == "" {
		return data, nil
	}
	plain, err := securestore.Decrypt(s.secret, securestore.PurposeContent, data)
	if err != nil {
		if errors.Is(err, securestore.ErrPlaintext) {
			return data, nil
		}
		return nil, err
	}
	return plain, nil
}

func (s *ContentStore) filePath(key string) string {
	return filepath.Join(s.dir, key+".bin")
}

type contentIndex struct {
	SchemaVersion int                 `json:"schema_version"`
	Items         map[string]BlobMeta `json:"items"`
}

func (s *ContentStore) load() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	indexWasPlain := false
	if s.secret != "" {
		plain, derr := securestore.Decrypt(s.secret, securestore.PurposeContent, data)
		switch {
		case derr == nil:
			data = plain
		case errors.Is(derr, securestore.ErrPlaintext):
			indexWasPlain = true
		default:
			return derr
		}
	}
	var payload contentIndex
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	if payload.SchemaVersion > contentIndexSchemaVersion {
		return fmt.Errorf("%w: content=%d current=%d", ErrUnsupportedStorageSchema, payload.SchemaVersion, contentIndexSchemaVersion)
	}
	if payload.Items != nil {
		s.items = payload.Items
	}
	if s.secret == "" {
		return nil
	}
	if err := s.sealPlainFiles(); err != nil {
		return err
	}
	if indexWasPlain {
		return s.persistItemsLocked(s.items)
	}
	return nil
}

func (s *ContentStore) persistItemsLocked(items map[string]BlobMeta) error {
	if s.indexPath == "" {
		return nil
	}
	data, err := json.Marshal(contentIndex{
		SchemaVersion: contentIndexSchemaVersion,
		Items:         items,
	})
	if err != nil {
		return err
	}
	if s.secret != "" {
		data, err = securestore.Encrypt(s.secret, securestore.PurposeContent, data)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(s.indexPath, data, 0o600)
}

// sealPlainFiles encrypts blobs written before a secret was configured.
func (s *ContentStore) sealPlainFiles() error {
	for key := range s.items {
		path := s.filePath(key)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if securestore.IsEncrypted(raw) {
			continue
		}
		enc, err := securestore.Encrypt(s.secret, securestore.PurposeContent, raw)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, enc, 0o600); err != nil {
			return err
		}
	}
	return nil
}

func cloneBlobMetaMap(in map[string]BlobMeta) map[string]BlobMeta {
	out := make(map[string]BlobMeta, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CIDv0 returns the v0 identifier of data.
func CIDv0(data []byte) string {
	hash, _ := mh.Sum(data, mh.SHA2_256, -1)
	return cid.NewCidV0(hash).String()
}

// CIDv1 returns the raw-codec v1 identifier of data.
func CIDv1(data []byte) string {
	hash, _ := mh.Sum(data, mh.SHA2_256, -1)
	return cid.NewCidV1(cid.Raw, hash).String()
}

// ParseLocator accepts "ipfs://<cid>" or a bare CID of either version. Only
// sha2-256 identifiers over dag-pb (v0) or raw bytes are addressable here.
func ParseLocator(locator string) (cid.Cid, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(locator), LocatorScheme)
	if raw == "" || strings.ContainsAny(raw, "/?#") {
		return cid.Undef, fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	c, err := cid.Decode(raw)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrInvalidLocator, locator, err)
	}
	prefix := c.Prefix()
	if prefix.MhType != mh.SHA2_256 {
		return cid.Undef, fmt.Errorf("%w: %q is not sha2-256", ErrInvalidLocator, locator)
	}
	if prefix.Version == 1 && prefix.Codec != cid.Raw {
		return cid.Undef, fmt.Errorf("%w: %q has codec %#x, want raw", ErrInvalidLocator, locator, prefix.Codec)
	}
	return c, nil
}

func newCID(version uint64, hash mh.Multihash) cid.Cid {
	if version == 1 {
		return cid.NewCidV1(cid.Raw, hash)
	}
	return cid.NewCidV0(hash)
}

// blobKey names a blob by its multihash so both CID versions resolve to the
// same file.
func blobKey(hash mh.Multihash) string {
	return base58.Encode(hash)
}
