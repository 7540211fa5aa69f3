//goland:noinspection GoNameStartsWithPackageName
package identity

import (
	"log/slog"

	"provenance/go-backend/internal/domains/contracts"
	identityusecase "provenance/go-backend/internal/domains/identity/usecase"
)

type Service = identityusecase.Service
type Options = identityusecase.Options

func NewService(registry contracts.IdentityRegistry, opts Options, logger *slog.Logger) *Service {
	return identityusecase.NewService(registry, opts, logger)
}
