package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	contentusecase "provenance/go-backend/internal/domains/content/usecase"
	identitypolicy "provenance/go-backend/internal/domains/identity/policy"
	identityusecase "provenance/go-backend/internal/domains/identity/usecase"
	"provenance/go-backend/internal/ledger"
	"provenance/go-backend/internal/storage"
	"provenance/go-backend/pkg/models"
)

func TestPublishConsumeThroughLedger(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	reg, err := ledger.OpenMemory(ledger.Options{
		Domain: models.DomainMetadata{
			Name:              "ContentGraphIdentityRegistry",
			Version:           "1",
			ChainID:           11155111,
			VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		},
		Now: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	identity := identityusecase.NewService(reg, identityusecase.Options{Now: clock}, nil)
	content := contentusecase.NewService(reg, storage.NewMemoryContentStore(), identity, nil)

	rootKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	interKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	root := crypto.PubkeyToAddress(rootKey.PublicKey)
	inter := crypto.PubkeyToAddress(interKey.PublicKey)

	_, err = identity.RegisterRoot(ctx, root, "newsroom")
	require.NoError(t, err)
	expiry, deadline := identitypolicy.DefaultWindows(now)
	_, _, err = identity.Delegate(ctx, rootKey, inter, expiry, 0, deadline)
	require.NoError(t, err)

	state, err := identity.State(ctx, root, inter)
	require.NoError(t, err)
	require.Equal(t, models.DelegationStateIntermediateActive, state)

	asset, err := content.Publish(ctx, contentusecase.PublishRequest{
		Payload:     []byte("hello"),
		Description: "greeting",
	}, interKey)
	require.NoError(t, err)
	require.Equal(t, "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8", asset.ID.Hex())

	result, err := content.Consume(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, result.Verified(), "failed checks: %v", result.Failed())
	require.Equal(t, inter, result.Signer)
	require.Equal(t, root, result.Root)
	require.NoError(t, contentusecase.ResultError(result))

	_, err = content.Publish(ctx, contentusecase.PublishRequest{Payload: []byte("hello")}, interKey)
	require.Error(t, err, "republishing the same payload must be rejected by the graph")
}

func TestConsumeAfterDelegationRotation(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	reg, err := ledger.OpenMemory(ledger.Options{
		Domain: models.DomainMetadata{
			Name:              "ContentGraphIdentityRegistry",
			Version:           "1",
			ChainID:           31337,
			VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		},
		Now: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	identity := identityusecase.NewService(reg, identityusecase.Options{Now: clock}, nil)
	content := contentusecase.NewService(reg, storage.NewMemoryContentStore(), identity, nil)

	rootKey, _ := crypto.GenerateKey()
	oldKey, _ := crypto.GenerateKey()
	newKey, _ := crypto.GenerateKey()
	root := crypto.PubkeyToAddress(rootKey.PublicKey)

	_, err = identity.RegisterRoot(ctx, root, "newsroom")
	require.NoError(t, err)
	expiry, deadline := identitypolicy.DefaultWindows(now)
	_, _, err = identity.Delegate(ctx, rootKey, crypto.PubkeyToAddress(oldKey.PublicKey), expiry, 0, deadline)
	require.NoError(t, err)

	asset, err := content.Publish(ctx, contentusecase.PublishRequest{Payload: []byte("before rotation")}, oldKey)
	require.NoError(t, err)

	_, _, err = identity.Delegate(ctx, rootKey, crypto.PubkeyToAddress(newKey.PublicKey), expiry, 0, deadline)
	require.NoError(t, err)

	result, err := content.Consume(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, result.ContentBinding.Passed)
	require.True(t, result.MessageIntegrity.Passed)
	require.False(t, result.DelegationChain.Passed, "a replaced intermediate no longer resolves")
	require.Equal(t, []string{models.CheckDelegationChain}, result.Failed())
}
