package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
)

// MongoEventRepository stores correlated events in MongoDB
type MongoEventRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoEventRepository creates the repository and ensures indexes
func NewMongoEventRepository(db *mongo.Database, logger *zap.Logger) (*MongoEventRepository, error) {
	repo := &MongoEventRepository{
		collection: db.Collection("correlated_events"),
		logger:     logger.With(zap.String("repository", "correlated_events")),
	}

	if err := repo.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create event indexes: %w", err)
	}
	return repo, nil
}

func (r *MongoEventRepository) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "rule", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "source_ips", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Store persists a correlated event
func (r *MongoEventRepository) Store(ctx context.Context, event *entity.CorrelatedEvent) error {
	if _, err := r.collection.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to store correlated event: %w", err)
	}
	return nil
}

// GetByID retrieves a correlated event by ID
func (r *MongoEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.CorrelatedEvent, error) {
	var event entity.CorrelatedEvent
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, entity.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correlated event: %w", err)
	}
	return &event, nil
}

// List returns correlated events matching the filter, newest first
func (r *MongoEventRepository) List(ctx context.Context, filter repository.EventFilter) ([]*entity.CorrelatedEvent, error) {
	query := bson.M{}
	if filter.Rule != "" {
		query["rule"] = filter.Rule
	}
	if filter.SourceIP != "" {
		query["source_ips"] = filter.SourceIP
	}
	if !filter.Since.IsZero() {
		query["created_at"] = bson.M{"$gte": filter.Since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlated events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*entity.CorrelatedEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode correlated events: %w", err)
	}
	return events, nil
}

// DeleteOlderThan removes events created before the cutoff
func (r *MongoEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	if result.DeletedCount > 0 {
		r.logger.Debug("Deleted expired correlated events", zap.Int64("count", result.DeletedCount))
	}
	return result.DeletedCount, nil
}

// MongoMatchRepository stores indicator match history in MongoDB
type MongoMatchRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoMatchRepository creates the repository and ensures indexes
func NewMongoMatchRepository(db *mongo.Database, logger *zap.Logger) (*MongoMatchRepository, error) {
	repo := &MongoMatchRepository{
		collection: db.Collection("indicator_matches"),
		logger:     logger.With(zap.String("repository", "indicator_matches")),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "observed_at", Value: -1}}},
	}
	if _, err := repo.collection.Indexes().CreateMany(context.Background(), indexes); err != nil {
		return nil, fmt.Errorf("failed to create match indexes: %w", err)
	}
	return repo, nil
}

// Store persists an indicator match
func (r *MongoMatchRepository) Store(ctx context.Context, match *entity.IndicatorMatch) error {
	if _, err := r.collection.InsertOne(ctx, match); err != nil {
		return fmt.Errorf("failed to store indicator match: %w", err)
	}
	return nil
}

// List returns matches for an indicator type, newest first
func (r *MongoMatchRepository) List(ctx context.Context, indicatorType entity.IndicatorType, limit int) ([]*entity.IndicatorMatch, error) {
	query := bson.M{}
	if indicatorType != "" {
		query["type"] = indicatorType
	}

	opts := options.Find().SetSort(bson.D{{Key: "observed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list indicator matches: %w", err)
	}
	defer cursor.Close(ctx)

	var matches []*entity.IndicatorMatch
	if err := cursor.All(ctx, &matches); err != nil {
		return nil, fmt.Errorf("failed to decode indicator matches: %w", err)
	}
	return matches, nil
}
