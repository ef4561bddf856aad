package postgres_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-keeper/internal/domain"
	"vault-keeper/internal/storage"
	"vault-keeper/internal/storage/postgres"
)

var (
	ownerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	asset  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func outcome(cycleID string, owner common.Address, state domain.State, at int64) *domain.Outcome {
	return &domain.Outcome{
		CycleID:         cycleID,
		Owner:           owner,
		CollateralAsset: asset,
		State:           state,
		DebtAmount:      big.NewInt(3000),
		ProcessedAt:     at,
	}
}

func TestOutcomeStore_RoundTripsAmounts(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOutcomeStore(pool)
	ctx := context.Background()

	maxUint256, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)

	submitted := outcome("c1", ownerA, domain.StateSubmittedSuccess, 2000)
	submitted.CollateralValue = maxUint256
	submitted.HealthFactor = big.NewInt(160)
	submitted.TxHash = "0xabc"

	unpriced := outcome("c1", ownerB, domain.StatePriceUnavailable, 1000)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Outcome{submitted, unpriced}))

	got, err := store.GetByCycleID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, ownerB, got[0].Owner)
	assert.Nil(t, got[0].CollateralValue)
	assert.Nil(t, got[0].HealthFactor)
	assert.Empty(t, got[0].TxHash)

	assert.Equal(t, ownerA, got[1].Owner)
	assert.Equal(t, asset, got[1].CollateralAsset)
	assert.Equal(t, domain.StateSubmittedSuccess, got[1].State)
	assert.Equal(t, maxUint256.String(), got[1].CollateralValue.String())
	assert.Equal(t, "3000", got[1].DebtAmount.String())
	assert.Equal(t, "160", got[1].HealthFactor.String())
	assert.Equal(t, "0xabc", got[1].TxHash)
}

func TestOutcomeStore_BatchIsAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOutcomeStore(pool)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.Outcome{outcome("c1", ownerA, domain.StateLowHealth, 1)}))

	err := store.InsertBulk(ctx, []*domain.Outcome{
		outcome("c1", ownerB, domain.StateLowHealth, 2),
		outcome("c1", ownerA, domain.StateLowHealth, 3),
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	got, err := store.GetByOwner(ctx, ownerB)
	require.NoError(t, err)
	assert.Empty(t, got, "rolled back batch must leave no rows")
}

func TestOutcomeStore_GetByOwner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewOutcomeStore(pool)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.Outcome{outcome("c2", ownerA, domain.StateError, 20)}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.Outcome{outcome("c1", ownerA, domain.StateLowHealth, 10)}))

	got, err := store.GetByOwner(ctx, ownerA)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].CycleID)
	assert.Equal(t, "c2", got[1].CycleID)
}

func TestOutcomeStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := postgres.NewOutcomeStore(pool).InsertBulk(context.Background(), []*domain.Outcome{{Owner: ownerA}})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}
