package registrynode

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"provenance/go-backend/internal/securestore"
)

const (
	storageKeyFile = "storage.key"
	contentIndex   = "index.json"
	// storageKeyWrappedEnv marks a storage.key that is provisioned by an
	// external keystore rather than generated here.
	storageKeyWrappedEnv = "PROVENANCE_STORAGE_KEY_WRAPPED"
)

var (
	ErrStorageSecretRequired  = errors.New("content store secret is required")
	ErrInsecureStorageKeyMode = errors.New("insecure storage key mode is forbidden in production")
)

// ContentSecret resolves the passphrase sealing the content directory. A
// configured secret wins. Otherwise an existing storage.key is used, and
// with generate set a fresh one is written. Without either the store stays
// plaintext, unless the directory already holds sealed data.
func ContentSecret(dir, configured string, generate bool) (string, error) {
	if secret := strings.TrimSpace(configured); secret != "" {
		return secret, nil
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", nil
	}
	keyPath := filepath.Join(dir, storageKeyFile)
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			if policyErr := enforceStorageKeyPolicy("file"); policyErr != nil {
				return "", policyErr
			}
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if hasSealedData(dir) {
		return "", fmt.Errorf("%w: %s holds encrypted blobs; set content.secret or PROVENANCE_CONTENT_SECRET", ErrStorageSecretRequired, dir)
	}
	if !generate {
		return "", nil
	}
	if policyErr := enforceStorageKeyPolicy("auto-generate"); policyErr != nil {
		return "", policyErr
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := WriteStorageKey(dir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func WriteStorageKey(dir, secret string) error {
	if policyErr := enforceStorageKeyPolicy("write-file"); policyErr != nil {
		return policyErr
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, storageKeyFile), []byte(secret), 0o600)
}

func hasSealedData(dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, contentIndex))
	if err != nil {
		return false
	}
	return securestore.IsEncrypted(raw)
}

func enforceStorageKeyPolicy(source string) error {
	if !isProductionEnv() {
		return nil
	}
	if source == "auto-generate" {
		return fmt.Errorf(
			"%w: production requires PROVENANCE_CONTENT_SECRET; raw storage.key generation is disabled",
			ErrInsecureStorageKeyMode,
		)
	}
	if wrapped, _ := parseBoolEnv(storageKeyWrappedEnv); wrapped {
		return nil
	}
	return fmt.Errorf(
		"%w: raw storage.key is forbidden in production; set PROVENANCE_CONTENT_SECRET or %s=true",
		ErrInsecureStorageKeyMode,
		storageKeyWrappedEnv,
	)
}

func isProductionEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("PROVENANCE_ENV"))) {
	case "prod", "production":
		return true
	default:
		return false
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
