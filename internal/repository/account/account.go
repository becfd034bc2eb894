package account

import (
	"context"
	"errors"

	"cosigner/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	AccountRepo struct {
		collection *mongo.Collection
	}
)

func NewAccountRepo(db *mongo.Database) *AccountRepo {
	return &AccountRepo{
		collection: db.Collection("accounts"),
	}
}

// EnsureIndexes makes (currency, address) unique.
func (r *AccountRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "currency", Value: 1}, {Key: "address", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// GetByAddress returns nil, nil when no account matches.
func (r *AccountRepo) GetByAddress(ctx context.Context, currency, address string) (*model.Account, error) {
	filter := bson.M{
		"currency": currency,
		"address":  address,
	}

	var account model.Account
	err := r.collection.FindOne(ctx, filter).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &account, nil
}

func (r *AccountRepo) Create(ctx context.Context, account *model.Account) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, account)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	account.ID = id
	return id, nil
}
