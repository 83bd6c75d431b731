package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/domain/entity"
	"github.com/vigilsec/sentinel/domain/repository"
)

// MongoIncidentRepository stores security incidents in MongoDB
type MongoIncidentRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoIncidentRepository creates the repository and ensures indexes
func NewMongoIncidentRepository(db *mongo.Database, logger *zap.Logger) (*MongoIncidentRepository, error) {
	repo := &MongoIncidentRepository{
		collection: db.Collection("incidents"),
		logger:     logger.With(zap.String("repository", "incidents")),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "severity", Value: 1}}},
		{Keys: bson.D{{Key: "sla_deadline", Value: 1}}},
		{Keys: bson.D{{Key: "detected_at", Value: -1}}},
	}
	if _, err := repo.collection.Indexes().CreateMany(context.Background(), indexes); err != nil {
		return nil, fmt.Errorf("failed to create incident indexes: %w", err)
	}
	return repo, nil
}

// Create persists a new incident
func (r *MongoIncidentRepository) Create(ctx context.Context, incident *entity.SecurityIncident) error {
	if _, err := r.collection.InsertOne(ctx, incident); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// Update replaces an existing incident document. The version check
// rejects writes that lost a concurrent update race.
func (r *MongoIncidentRepository) Update(ctx context.Context, incident *entity.SecurityIncident) error {
	filter := bson.M{"_id": incident.ID, "version": bson.M{"$lt": incident.Version}}
	result, err := r.collection.ReplaceOne(ctx, filter, incident)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if result.MatchedCount == 0 {
		// Either the incident is missing or a newer version is stored.
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": incident.ID})
		if err != nil {
			return fmt.Errorf("failed to update incident: %w", err)
		}
		if count == 0 {
			return entity.ErrIncidentNotFound
		}
		return fmt.Errorf("stale incident version %d for %s", incident.Version, incident.ID)
	}
	return nil
}

// GetByID retrieves an incident by ID
func (r *MongoIncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.SecurityIncident, error) {
	var incident entity.SecurityIncident
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&incident)
	if err == mongo.ErrNoDocuments {
		return nil, entity.ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &incident, nil
}

// List returns incidents matching the filter, newest first
func (r *MongoIncidentRepository) List(ctx context.Context, filter repository.IncidentFilter) ([]*entity.SecurityIncident, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Severity != "" {
		query["severity"] = filter.Severity
	}

	opts := options.Find().SetSort(bson.D{{Key: "detected_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer cursor.Close(ctx)

	var incidents []*entity.SecurityIncident
	if err := cursor.All(ctx, &incidents); err != nil {
		return nil, fmt.Errorf("failed to decode incidents: %w", err)
	}
	return incidents, nil
}

// ListOpen returns incidents that have not reached resolution
func (r *MongoIncidentRepository) ListOpen(ctx context.Context) ([]*entity.SecurityIncident, error) {
	query := bson.M{"status": bson.M{"$nin": bson.A{
		entity.IncidentStatusResolved,
		entity.IncidentStatusClosed,
	}}}

	cursor, err := r.collection.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "sla_deadline", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	defer cursor.Close(ctx)

	var incidents []*entity.SecurityIncident
	if err := cursor.All(ctx, &incidents); err != nil {
		return nil, fmt.Errorf("failed to decode open incidents: %w", err)
	}
	return incidents, nil
}
