package user

import (
	"context"
	"errors"

	"hybrid_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// Get returns nil, nil when the user does not exist.
func (r *UserRepo) Get(ctx context.Context, id string) (*model.User, error) {
	filter := bson.M{
		"_id": id,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) List(ctx context.Context) ([]*model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}

	var users []*model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Upsert creates the profile or refreshes its display fields.
func (r *UserRepo) Upsert(ctx context.Context, user *model.User) error {
	update := bson.M{
		"$set": bson.M{
			"username": user.Username,
			"picture":  user.Picture,
			"email":    user.Email,
		},
	}
	_, err := r.collection.UpdateByID(ctx, user.ID, update, options.Update().SetUpsert(true))
	return err
}
