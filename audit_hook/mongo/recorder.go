// Package mongo persists Tally audit events in a MongoDB collection.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	audithook "github.com/xraph/tally/audit_hook"
)

// DefaultCollection is the collection audit events are written to.
const DefaultCollection = "audit_logs"

// compile-time interface check
var _ audithook.Recorder = (*Recorder)(nil)

// Recorder implements audithook.Recorder with one document per event.
type Recorder struct {
	col *mongo.Collection
}

// NewRecorder returns a Recorder writing to DefaultCollection in db.
func NewRecorder(db *mongo.Database) *Recorder {
	return NewRecorderWithCollection(db, DefaultCollection)
}

// NewRecorderWithCollection returns a Recorder writing to the named collection.
func NewRecorderWithCollection(db *mongo.Database, collection string) *Recorder {
	return &Recorder{col: db.Collection(collection)}
}

// eventModel is the stored form of an audit event.
type eventModel struct {
	ID                   string `bson:"_id"`
	audithook.AuditEvent `bson:",inline"`
	RecordedAt           time.Time `bson:"recorded_at"`
}

// Migrate creates the indexes used by Find.
func (r *Recorder) Migrate(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource", Value: 1}, {Key: "resource_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("tally/mongo: migrate audit indexes: %w", err)
	}
	return nil
}

// Record implements audithook.Recorder.
func (r *Recorder) Record(ctx context.Context, event *audithook.AuditEvent) error {
	m := eventModel{
		ID:         ulid.Make().String(),
		AuditEvent: *event,
		RecordedAt: time.Now().UTC(),
	}
	if _, err := r.col.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("tally/mongo: insert audit event: %w", err)
	}
	return nil
}

// Query filters audit events. Empty fields match everything.
type Query struct {
	Resource   string
	ResourceID string
	ActorID    string
	Action     string
	Since      time.Time
	Limit      int64
}

// Find returns events matching q, newest first.
func (r *Recorder) Find(ctx context.Context, q Query) ([]*audithook.AuditEvent, error) {
	filter := bson.M{}
	if q.Resource != "" {
		filter["resource"] = q.Resource
	}
	if q.ResourceID != "" {
		filter["resource_id"] = q.ResourceID
	}
	if q.ActorID != "" {
		filter["actor_id"] = q.ActorID
	}
	if q.Action != "" {
		filter["action"] = q.Action
	}
	if !q.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": q.Since.UTC()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: find audit events: %w", err)
	}
	var out []*audithook.AuditEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("tally/mongo: decode audit events: %w", err)
	}
	return out, nil
}
