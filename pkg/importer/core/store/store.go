// Package store defines the interface boundary to the hosted record store.
// The store exposes only per-record CRUD operations plus bulk-insert and has no
// native multi-row transaction support; the engine approximates atomicity on
// top of this contract with compensating deletes.
package store

import (
	"context"
	"errors"

	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

// Fields is the loosely-typed field set of one record.
type Fields map[string]interface{}

// Record is one stored record with its store-assigned id.
type Record struct {
	ID     string
	Fields Fields
}

// ErrRecordNotFound is returned by Delete and Update when the target id does not exist.
// Delete-of-missing is NOT assumed to be a safe no-op: during compensation it is
// treated as a rollback failure unless the backing store documents otherwise.
var ErrRecordNotFound = errors.New("record not found")

func init() {
	exception.RegisterErrorType("ErrRecordNotFound", ErrRecordNotFound)
}

// RecordRepository is the typed per-entity-kind repository interface.
// The engine is generic over this interface; each entity kind (orders,
// order lines, skus, stock levels, suppliers) is bound to one instance at
// wiring time rather than dispatched through a string-keyed client.
type RecordRepository interface {
	// Create inserts a single record and returns it with its assigned id.
	// Failures carry a classifiable error (conflict, rate limit, validation).
	Create(ctx context.Context, fields Fields) (*Record, error)

	// BulkCreate inserts many records in one call and returns the created
	// records. Callers must verify the returned length against the request:
	// a short result without an error indicates partial bulk-insert semantics
	// and must be treated as a failure.
	BulkCreate(ctx context.Context, fields []Fields) ([]*Record, error)

	// Update modifies the record with the given id and returns the updated record.
	Update(ctx context.Context, id string, fields Fields) (*Record, error)

	// Delete removes the record with the given id.
	Delete(ctx context.Context, id string) error

	// Filter returns all records whose fields match the given equality predicate.
	// The engine calls this once per run to pre-load existing-key sets, never per group.
	Filter(ctx context.Context, predicate Fields) ([]*Record, error)
}

// RecordStore resolves the closed set of typed repositories and owns the
// underlying connection.
type RecordStore interface {
	// Repository returns the repository for the named entity kind.
	Repository(kind string) (RecordRepository, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
