package store

import (
	"context"
	"time"

	"ticketmind/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TaskFilter narrows List queries. Zero values mean "any".
type TaskFilter struct {
	Status models.TaskStatus
	Kind   models.TaskKind
	From   *time.Time
	To     *time.Time
}

// TaskStore defines the interface for task record persistence.
type TaskStore interface {
	Create(ctx context.Context, task *models.TaskRecord) error
	GetByID(ctx context.Context, id string) (*models.TaskRecord, error)
	GetLatestByTicket(ctx context.Context, ticketID string) (*models.TaskRecord, error)
	// FindActiveByTicket returns a task in {queued, processing, retrying}
	// for the ticket, or nil when none exists. Backs the duplication guard.
	FindActiveByTicket(ctx context.Context, ticketID string) (*models.TaskRecord, error)
	List(ctx context.Context, filter TaskFilter, page, limit int) ([]*models.TaskRecord, error)
	Update(ctx context.Context, task *models.TaskRecord) error
	CountByStatusForTicket(ctx context.Context, ticketID string) (map[models.TaskStatus]int64, error)
	// DismissFailed moves every currently-failed task to dismissed and
	// returns the number of records affected.
	DismissFailed(ctx context.Context) (int64, error)
}

var activeStatuses = []models.TaskStatus{
	models.TaskStatusQueued,
	models.TaskStatusProcessing,
	models.TaskStatusRetrying,
}

// MongoTaskStore is an implementation of TaskStore using MongoDB.
type MongoTaskStore struct {
	collection *mongo.Collection
}

// NewMongoTaskStore creates a new MongoTaskStore.
func NewMongoTaskStore(db *mongo.Database, collectionName string) *MongoTaskStore {
	return &MongoTaskStore{
		collection: db.Collection(collectionName),
	}
}

// EnsureIndexes creates the indexes the store relies on: a sparse unique
// index on correlation_id (many records may lack one) and a compound
// index for per-ticket listing.
func (s *MongoTaskStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "correlation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "ticket_id", Value: 1}, {Key: "submitted_at", Value: -1}},
		},
	})
	return err
}

// Create inserts a new task record into the database.
func (s *MongoTaskStore) Create(ctx context.Context, task *models.TaskRecord) error {
	_, err := s.collection.InsertOne(ctx, task)
	return err
}

// GetByID retrieves a task by its ID.
func (s *MongoTaskStore) GetByID(ctx context.Context, id string) (*models.TaskRecord, error) {
	var task models.TaskRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetLatestByTicket retrieves the most recently submitted task for a ticket.
func (s *MongoTaskStore) GetLatestByTicket(ctx context.Context, ticketID string) (*models.TaskRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "submitted_at", Value: -1}})
	var task models.TaskRecord
	err := s.collection.FindOne(ctx, bson.M{"ticket_id": ticketID}, opts).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// FindActiveByTicket retrieves an in-flight task for the ticket, if any.
func (s *MongoTaskStore) FindActiveByTicket(ctx context.Context, ticketID string) (*models.TaskRecord, error) {
	filter := bson.M{
		"ticket_id": ticketID,
		"status":    bson.M{"$in": activeStatuses},
	}
	var task models.TaskRecord
	err := s.collection.FindOne(ctx, filter).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// List retrieves a filtered, paginated list of tasks, newest first.
func (s *MongoTaskStore) List(ctx context.Context, filter TaskFilter, page, limit int) ([]*models.TaskRecord, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Kind != "" {
		query["kind"] = filter.Kind
	}
	if filter.From != nil || filter.To != nil {
		dateRange := bson.M{}
		if filter.From != nil {
			dateRange["$gte"] = *filter.From
		}
		if filter.To != nil {
			dateRange["$lte"] = *filter.To
		}
		query["submitted_at"] = dateRange
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	opts := options.Find()
	opts.SetSort(bson.D{{Key: "submitted_at", Value: -1}})
	opts.SetSkip(int64((page - 1) * limit))
	opts.SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tasks []*models.TaskRecord
	if err = cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update replaces the stored record with the given one. The record is
// only ever mutated by the worker executing it, so a full replace is safe.
func (s *MongoTaskStore) Update(ctx context.Context, task *models.TaskRecord) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": task.ID}, task)
	return err
}

// CountByStatusForTicket aggregates task counts per status for a ticket.
// Progress is always computed from these counts, never stored separately.
func (s *MongoTaskStore) CountByStatusForTicket(ctx context.Context, ticketID string) (map[models.TaskStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ticket_id": ticketID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := make(map[models.TaskStatus]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status models.TaskStatus `bson:"_id"`
			Count  int64             `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}

// DismissFailed bulk-transitions all failed tasks to dismissed.
// This can race with in-flight workers; last write wins by design.
func (s *MongoTaskStore) DismissFailed(ctx context.Context) (int64, error) {
	res, err := s.collection.UpdateMany(ctx,
		bson.M{"status": models.TaskStatusFailed},
		bson.M{"$set": bson.M{"status": models.TaskStatusDismissed}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
