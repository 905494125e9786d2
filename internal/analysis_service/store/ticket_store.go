package store

import (
	"context"
	"time"

	"ticketmind/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// TicketStore is the collaborator surface the pipeline needs from the
// ticket system: owner lookup, audit trail appends, and the denormalized
// latest-analysis projection. Ticket CRUD itself lives elsewhere.
type TicketStore interface {
	// FindByID returns (nil, nil) when the ticket does not exist — the
	// owner may have been deleted concurrently and that is not an error.
	FindByID(ctx context.Context, id string) (*models.Ticket, error)
	AppendActivity(ctx context.Context, ticketID string, activity models.TicketActivity) error
	// UpdateAnalysisProjection writes the read-side copy of the latest
	// analysis summary onto the ticket. It is a separate step from task
	// record updates so it can fail independently.
	UpdateAnalysisProjection(ctx context.Context, ticketID string, projection *models.AnalysisProjection) error
}

// MongoTicketStore is an implementation of TicketStore using MongoDB.
type MongoTicketStore struct {
	collection *mongo.Collection
}

// NewMongoTicketStore creates a new MongoTicketStore.
func NewMongoTicketStore(db *mongo.Database, collectionName string) *MongoTicketStore {
	return &MongoTicketStore{
		collection: db.Collection(collectionName),
	}
}

// FindByID retrieves a ticket by its ID.
func (s *MongoTicketStore) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&ticket)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

// AppendActivity pushes an audit entry onto the ticket.
func (s *MongoTicketStore) AppendActivity(ctx context.Context, ticketID string, activity models.TicketActivity) error {
	update := bson.M{
		"$push": bson.M{"activities": activity},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": ticketID}, update)
	return err
}

// UpdateAnalysisProjection replaces the cached latest-analysis summary.
func (s *MongoTicketStore) UpdateAnalysisProjection(ctx context.Context, ticketID string, projection *models.AnalysisProjection) error {
	update := bson.M{
		"$set": bson.M{
			"latest_analysis": projection,
			"updated_at":      time.Now(),
		},
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": ticketID}, update)
	return err
}
