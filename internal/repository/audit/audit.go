package audit

import (
	"context"

	"hybrid_chat/internal/model"

	"go.mongodb.org/mongo-driver/mongo"
)

// AuditRepo is a write-only audit sink backed by the audit_log collection.
type AuditRepo struct {
	collection *mongo.Collection
}

func NewAuditRepo(db *mongo.Database) *AuditRepo {
	return &AuditRepo{
		collection: db.Collection("audit_log"),
	}
}

func (r *AuditRepo) Write(ctx context.Context, rec *model.AuditRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}
