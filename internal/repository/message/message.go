package message

import (
	"context"
	"fmt"

	"hybrid_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MessageRepo struct {
		collection *mongo.Collection
	}
)

func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// EnsureIndexes creates the chat_id index used by History.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

func (r *MessageRepo) Append(ctx context.Context, msg *model.ChatMessage) error {
	if _, err := r.collection.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns the messages of chatID in insertion order. ObjectIDs are
// monotonic per process, which is what the relay's single writer needs.
func (r *MessageRepo) History(ctx context.Context, chatID string) ([]*model.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	res := make([]*model.ChatMessage, 0)
	if err := cur.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return res, nil
}
