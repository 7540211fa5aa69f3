package securestore

import (
	"os"
	"path/filepath"
)

// ReadSealedFile reads and opens a file written by WriteSealedFile.
func ReadSealedFile(path, secret string, purpose Purpose) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(secret, purpose, raw)
}

// WriteSealedFile seals payload and replaces path atomically with owner-only
// permissions.
func WriteSealedFile(path, secret string, purpose Purpose, payload []byte) error {
	sealed, err := Encrypt(secret, purpose, payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
