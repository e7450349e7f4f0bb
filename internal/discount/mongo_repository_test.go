package discount

import (
	"context"
	"testing"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/cart/repository"
	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := repository.ConnectMongoDB(ctx, uri, "testdb")
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

func TestMongoRepository_UpsertAndResolve(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.DiscountCode{Code: " HALF ", Percentage: 50, Active: true}))
	require.NoError(t, repo.Upsert(ctx, domain.DiscountCode{Code: "HALF", Percentage: 40, Active: true}))
	assert.ErrorIs(t, repo.Upsert(ctx, domain.DiscountCode{Code: "BAD", Percentage: 0}), domain.ErrDataIntegrity)

	evaluator := NewEvaluator(repo)
	pct, err := evaluator.Resolve(ctx, "HALF")
	require.NoError(t, err)
	assert.Equal(t, 40, pct)

	pct, err = evaluator.Resolve(ctx, "NOPE")
	require.NoError(t, err)
	assert.Equal(t, 0, pct)
}

func TestMongoRepository_MalformedRecord(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.collection.InsertOne(ctx, bson.M{"code": "TEXT", "percentage": "fifty", "active": true})
	require.NoError(t, err)

	_, err = repo.FindByCode(ctx, "TEXT")
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}
