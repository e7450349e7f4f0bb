package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartTTL = 90 * 24 * time.Hour

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("%w: get cart: %v", domain.ErrUpstream, err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}

	return &cart, nil
}

// IncrementItem never reads before writing. The positional $inc only matches
// a line with room for delta more units; the $push only matches a cart
// without the product and upserts a new cart otherwise. When both miss, the
// upsert collides with the unique user_id index, meaning the line exists and
// is already at its cap.
func (m *MongoRepository) IncrementItem(ctx context.Context, userID, productID string, delta, limit int) error {
	if delta > limit {
		return domain.ErrQuantityLimit
	}

	for attempt := 0; attempt < 2; attempt++ {
		now := time.Now().UTC()

		filter := bson.M{
			"user_id": userID,
			"items": bson.M{"$elemMatch": bson.M{
				"product_id": productID,
				"quantity":   bson.M{"$lte": limit - delta},
			}},
		}
		update := bson.M{
			"$inc": bson.M{"items.$.quantity": delta},
			"$set": bson.M{"updated_at": now},
		}
		res, err := m.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("%w: increment item: %v", domain.ErrUpstream, err)
		}
		if res.MatchedCount > 0 {
			return nil
		}

		filter = bson.M{
			"user_id":          userID,
			"items.product_id": bson.M{"$ne": productID},
		}
		update = bson.M{
			"$push": bson.M{"items": domain.CartItem{
				ProductID: productID,
				Quantity:  delta,
				AddedAt:   now,
			}},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		}
		_, err = m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: add item: %v", domain.ErrUpstream, err)
		}
	}

	return domain.ErrQuantityLimit
}

func (m *MongoRepository) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) error {
	filter := bson.M{
		"user_id":          userID,
		"items.product_id": productID,
	}

	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             time.Now().UTC(),
		},
	}

	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("%w: update item quantity: %v", domain.ErrUpstream, err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// RemoveItems is idempotent: missing carts and missing lines are not errors.
func (m *MongoRepository) RemoveItems(ctx context.Context, userID string, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}

	update := bson.M{
		"$pull": bson.M{
			"items": bson.M{"product_id": bson.M{"$in": productIDs}},
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	if _, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update); err != nil {
		return fmt.Errorf("%w: remove items: %v", domain.ErrUpstream, err)
	}
	return nil
}

func (m *MongoRepository) ClearCart(ctx context.Context, userID string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("%w: delete cart: %v", domain.ErrUpstream, err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL.Seconds())),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
