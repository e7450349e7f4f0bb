package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))

	cleanup := func() {
		_ = db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func TestGetCart_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	cart, err := repo.GetCart(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestIncrementItem_CreatesCart(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2))

	cart, err := repo.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p1", cart.Items[0].ProductID)
	assert.Equal(t, 1, cart.Items[0].Quantity)
	assert.False(t, cart.CreatedAt.IsZero())
}

func TestIncrementItem_IncrementsExistingLine(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2))
	require.NoError(t, repo.IncrementItem(ctx, "user123", "p2", 1, 2))
	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2))

	cart, err := repo.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	item, ok := cart.Item("p1")
	require.True(t, ok)
	assert.Equal(t, 2, item.Quantity)
}

func TestIncrementItem_RespectsLimit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 2, 2))
	assert.ErrorIs(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2), domain.ErrQuantityLimit)
	assert.ErrorIs(t, repo.IncrementItem(ctx, "user123", "p9", 3, 2), domain.ErrQuantityLimit)

	cart, err := repo.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
}

func TestIncrementItem_ConcurrentAddsKeepOneLine(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.IncrementItem(ctx, "user123", "p1", 1, 2)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrQuantityLimit)
			}
		}()
	}
	wg.Wait()

	cart, err := repo.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
}

func TestSetItemQuantity(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2))
	require.NoError(t, repo.SetItemQuantity(ctx, "user123", "p1", 2))

	cart, err := repo.GetCart(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	assert.ErrorIs(t, repo.SetItemQuantity(ctx, "user123", "missing", 1), domain.ErrItemNotFound)
	assert.ErrorIs(t, repo.SetItemQuantity(ctx, "nobody", "p1", 1), domain.ErrItemNotFound)
}

func TestRemoveItems_Idempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2))
	require.NoError(t, repo.IncrementItem(ctx, "user123", "p2", 1, 2))

	require.NoError(t, repo.RemoveItems(ctx, "user123", "p1"))
	require.NoError(t, repo.RemoveItems(ctx, "user123", "p1"))
	require.NoError(t, repo.RemoveItems(ctx, "nobody", "p1"))

	cart, err := repo.GetCart(ctx, "user123")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p2", cart.Items[0].ProductID)
}

func TestClearCart_Idempotent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.IncrementItem(ctx, "user123", "p1", 1, 2))
	require.NoError(t, repo.ClearCart(ctx, "user123"))
	require.NoError(t, repo.ClearCart(ctx, "user123"))

	_, err := repo.GetCart(ctx, "user123")
	assert.ErrorIs(t, err, ErrCartNotFound)
}
