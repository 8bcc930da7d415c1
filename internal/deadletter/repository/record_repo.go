package repository

import (
	"context"
	"fmt"
	"time"

	"video_transcode_pipeline/internal/deadletter/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RecordRepo archived dead letters
type RecordRepo interface {
	// EnsureIndexes creates the lookup indexes; retention > 0 expires records after it
	EnsureIndexes(ctx context.Context, retention time.Duration) error
	// Upsert stores rec keyed by message id, so archiving twice keeps one record
	Upsert(ctx context.Context, rec domain.Record) error
	// List newest first
	List(ctx context.Context, limit int64) ([]domain.Record, error)
}

type mongoRecordRepo struct {
	coll *mongo.Collection
}

// NewMongoRecordRepo records in the dead_letters collection
func NewMongoRecordRepo(db *mongo.Database) RecordRepo {
	return &mongoRecordRepo{
		coll: db.Collection("dead_letters"),
	}
}

func (r *mongoRecordRepo) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "video_id", Value: 1}}},
		{Keys: bson.D{{Key: "dead_lettered_at", Value: -1}}},
	}
	if retention > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "archived_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
		})
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create dead letter indexes: %w", err)
	}
	return nil
}

func (r *mongoRecordRepo) Upsert(ctx context.Context, rec domain.Record) error {
	filter := bson.M{"_id": rec.MessageID}
	_, err := r.coll.ReplaceOne(ctx, filter, rec, options.Replace().SetUpsert(true))
	return err
}

func (r *mongoRecordRepo) List(ctx context.Context, limit int64) ([]domain.Record, error) {
	opts := options.Find()
	opts.SetSort(bson.D{{Key: "dead_lettered_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var records []domain.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
