package discount

import (
	"context"
	"errors"
	"fmt"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("discount_codes"),
	}
}

func (m *MongoRepository) FindByCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	res := m.collection.FindOne(ctx, bson.M{"code": code})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("%w: find discount code: %v", domain.ErrUpstream, err)
	}

	var dc domain.DiscountCode
	if err := res.Decode(&dc); err != nil {
		return nil, fmt.Errorf("%w: decode discount code %q: %v", domain.ErrDataIntegrity, code, err)
	}
	return &dc, nil
}

// Upsert creates or replaces a code. Used to seed codes from configuration.
func (m *MongoRepository) Upsert(ctx context.Context, dc domain.DiscountCode) error {
	dc.Code = domain.NormalizeCode(dc.Code)
	if err := dc.Validate(); err != nil {
		return err
	}

	_, err := m.collection.UpdateOne(ctx,
		bson.M{"code": dc.Code},
		bson.M{"$set": dc},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert discount code %q: %w", dc.Code, err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
