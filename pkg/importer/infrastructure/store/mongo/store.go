// Package mongo implements the record store contract against a MongoDB
// database, one collection per entity kind. MongoDB offers exactly the
// contract the engine is built for: per-document CRUD plus InsertMany, with
// ordered InsertMany stopping at the first failing document and leaving the
// earlier ones behind, which is the partial bulk-insert mode the compensation
// protocol exists to clean up.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quayside/groupage/pkg/importer/core/config"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

const moduleName = "mongo_store"

const connectTimeout = 10 * time.Second

// Store is the MongoDB-backed record store.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

var _ store.RecordStore = (*Store)(nil)

// NewStore connects to MongoDB and verifies the connection with a ping.
func NewStore(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, exception.NewTransientError(moduleName, "failed to connect to MongoDB", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, exception.NewTransientError(moduleName, "failed to ping MongoDB", err)
	}

	logger.Infof("Connected to MongoDB database '%s'.", cfg.Database)
	return &Store{client: client, database: client.Database(cfg.Database)}, nil
}

// Repository returns the collection-backed repository for the entity kind.
func (s *Store) Repository(kind string) (store.RecordRepository, error) {
	return &Repository{collection: s.database.Collection(kind)}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	disconnectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(disconnectCtx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

// Repository adapts one collection to the record repository contract.
type Repository struct {
	collection *mongo.Collection
}

var _ store.RecordRepository = (*Repository)(nil)

// Create inserts a single document.
func (r *Repository) Create(ctx context.Context, fields store.Fields) (*store.Record, error) {
	res, err := r.collection.InsertOne(ctx, bson.M(fields))
	if err != nil {
		return nil, classify(err)
	}
	return &store.Record{ID: idToString(res.InsertedID), Fields: fields}, nil
}

// BulkCreate inserts many documents with one ordered InsertMany. On a partial
// failure the driver still reports the inserted ids, so the short result is
// returned alongside a nil error only when the store itself did; otherwise the
// created prefix is surfaced through the error-free short-slice contract the
// engine's callers verify.
func (r *Repository) BulkCreate(ctx context.Context, fields []store.Fields) ([]*store.Record, error) {
	docs := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		docs = append(docs, bson.M(f))
	}

	res, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))

	var created []*store.Record
	if res != nil {
		for i, id := range res.InsertedIDs {
			created = append(created, &store.Record{ID: idToString(id), Fields: fields[i]})
		}
	}
	if err != nil {
		// A bulk write error with inserted ids means a partial write; the
		// caller needs the created prefix to compensate, so it is returned
		// together with the classified error.
		return created, classify(err)
	}
	return created, nil
}

// Update modifies the document with the given id via UpdateByID.
func (r *Repository) Update(ctx context.Context, id string, fields store.Fields) (*store.Record, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("malformed record id '%s': %w", id, err)
	}

	res, err := r.collection.UpdateByID(ctx, oid, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return nil, classify(err)
	}
	if res.MatchedCount == 0 {
		return nil, fmt.Errorf("update of id %s: %w", id, store.ErrRecordNotFound)
	}
	return &store.Record{ID: id, Fields: fields}, nil
}

// Delete removes the document with the given id. A zero DeletedCount is
// reported as ErrRecordNotFound; the compensation path relies on this to
// detect deletes that did not take effect.
func (r *Repository) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("malformed record id '%s': %w", id, err)
	}

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete of id %s: %w", id, store.ErrRecordNotFound)
	}
	return nil
}

// Filter returns the documents matching the equality predicate.
func (r *Repository) Filter(ctx context.Context, predicate store.Fields) ([]*store.Record, error) {
	filter := bson.M{}
	for k, v := range predicate {
		filter[k] = v
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, classify(err)
	}
	defer cursor.Close(ctx)

	var out []*store.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		id := idToString(doc["_id"])
		delete(doc, "_id")
		out = append(out, &store.Record{ID: id, Fields: store.Fields(doc)})
	}
	if err := cursor.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// classify maps driver errors onto the engine's error taxonomy so the retry
// policy can tell transient faults from permanent ones.
func classify(err error) error {
	switch {
	case mongo.IsTimeout(err) || mongo.IsNetworkError(err):
		return exception.NewTransientError(moduleName, err.Error(), err)
	case mongo.IsDuplicateKeyError(err):
		return exception.NewDuplicateError(moduleName, err.Error())
	case strings.Contains(err.Error(), "TooManyRequests"):
		return exception.NewTransientError(moduleName, err.Error(), err)
	default:
		return err
	}
}

func idToString(id interface{}) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}
