package registrynode

import (
	"errors"
	"log/slog"

	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/ledger"
	"provenance/go-backend/internal/storage"
)

type StorageBundle struct {
	Ledger  *ledger.Ledger
	Content *storage.ContentStore
}

// BuildStorageBundle opens the registry ledger and the content store named
// by cfg. Empty paths keep the respective store in memory.
func BuildStorageBundle(cfg provenanceconfig.Config, metrics *ledger.Metrics, logger *slog.Logger) (StorageBundle, error) {
	secret, err := ContentSecret(cfg.Content.Dir, cfg.Content.Secret, cfg.Content.Encrypt)
	if err != nil {
		return StorageBundle{}, err
	}
	content, err := storage.NewContentStoreWithSecret(cfg.Content.Dir, secret)
	if err != nil {
		return StorageBundle{}, err
	}
	content.SetMaxBlobBytes(cfg.Content.MaxBlobBytes)
	if err := content.SetCIDVersion(cfg.Content.CIDVersion); err != nil {
		return StorageBundle{}, err
	}

	l, err := ledger.Open(cfg.Registry.DBPath, ledger.Options{
		Domain:  cfg.Domain(),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return StorageBundle{}, err
	}
	return StorageBundle{Ledger: l, Content: content}, nil
}

func (b StorageBundle) Close() error {
	var errs []error
	if b.Ledger != nil {
		errs = append(errs, b.Ledger.Close())
	}
	return errors.Join(errs...)
}
