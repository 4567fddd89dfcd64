// Package memory provides an in-memory implementation of the record store
// contract, used for local runs and as the fault-injecting store in tests.
// Faults are scripted per repository and operation so tests can reproduce the
// store's documented partial-failure modes: classified errors on any call and
// short results from bulk-insert without an error.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quayside/groupage/pkg/importer/core/store"
)

// Op names one repository operation for fault scripting.
type Op string

const (
	OpCreate     Op = "create"
	OpBulkCreate Op = "bulk_create"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpFilter     Op = "filter"
)

// Store is the in-memory record store. Repositories are created on first use;
// any entity kind name is valid.
type Store struct {
	mu    sync.Mutex
	repos map[string]*Repository
}

var _ store.RecordStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{repos: make(map[string]*Repository)}
}

// Repository returns the repository for the named entity kind, creating it on
// first use.
func (s *Store) Repository(kind string) (store.RecordRepository, error) {
	return s.repo(kind), nil
}

// Repo is the concrete-typed accessor tests use to reach the fault-injection
// and seeding helpers.
func (s *Store) Repo(kind string) *Repository {
	return s.repo(kind)
}

func (s *Store) repo(kind string) *Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[kind]
	if !ok {
		repo = newRepository()
		s.repos[kind] = repo
	}
	return repo
}

// Close releases nothing; it exists to satisfy the store contract.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

// Repository is one entity kind's in-memory record set.
type Repository struct {
	mu      sync.RWMutex
	records map[string]*store.Record
	order   []string

	faults      map[Op][]error
	partialBulk []int
}

var _ store.RecordRepository = (*Repository)(nil)

func newRepository() *Repository {
	return &Repository{
		records: make(map[string]*store.Record),
		faults:  make(map[Op][]error),
	}
}

// FailNext queues an error for the next invocation of the given operation.
// Queued errors are consumed in FIFO order, one per call.
func (r *Repository) FailNext(op Op, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = append(r.faults[op], err)
}

// FailNextBulkPartial scripts the next BulkCreate to persist and return only
// the first n records without reporting an error, reproducing partial
// bulk-insert semantics.
func (r *Repository) FailNextBulkPartial(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partialBulk = append(r.partialBulk, n)
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Seed inserts a record directly, bypassing fault scripting. Tests use it to
// arrange pre-existing store state.
func (r *Repository) Seed(fields store.Fields) *store.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(fields)
}

func (r *Repository) nextFault(op Op) error {
	queue := r.faults[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	r.faults[op] = queue[1:]
	return err
}

// insert assumes the write lock is held.
func (r *Repository) insert(fields store.Fields) *store.Record {
	rec := &store.Record{ID: uuid.NewString(), Fields: cloneFields(fields)}
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return cloneRecord(rec)
}

// Create inserts a single record.
func (r *Repository) Create(ctx context.Context, fields store.Fields) (*store.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.nextFault(OpCreate); err != nil {
		return nil, err
	}
	return r.insert(fields), nil
}

// BulkCreate inserts many records in one call. A scripted partial fault
// persists and returns a short prefix without an error; callers are expected
// to detect the mismatch themselves.
func (r *Repository) BulkCreate(ctx context.Context, fields []store.Fields) ([]*store.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.nextFault(OpBulkCreate); err != nil {
		return nil, err
	}

	limit := len(fields)
	if len(r.partialBulk) > 0 {
		limit = r.partialBulk[0]
		r.partialBulk = r.partialBulk[1:]
		if limit > len(fields) {
			limit = len(fields)
		}
	}

	out := make([]*store.Record, 0, limit)
	for _, f := range fields[:limit] {
		out = append(out, r.insert(f))
	}
	return out, nil
}

// Update modifies the record with the given id.
func (r *Repository) Update(ctx context.Context, id string, fields store.Fields) (*store.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.nextFault(OpUpdate); err != nil {
		return nil, err
	}
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("update of id %s: %w", id, store.ErrRecordNotFound)
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	return cloneRecord(rec), nil
}

// Delete removes the record with the given id. Deleting a missing id returns
// ErrRecordNotFound; it is not a silent no-op.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.nextFault(OpDelete); err != nil {
		return err
	}
	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("delete of id %s: %w", id, store.ErrRecordNotFound)
	}
	delete(r.records, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Filter returns the records matching the equality predicate, in insertion
// order. A nil predicate matches everything.
func (r *Repository) Filter(ctx context.Context, predicate store.Fields) ([]*store.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.nextFault(OpFilter); err != nil {
		return nil, err
	}

	var out []*store.Record
	for _, id := range r.order {
		rec := r.records[id]
		if matches(rec, predicate) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func matches(rec *store.Record, predicate store.Fields) bool {
	for k, want := range predicate {
		if rec.Fields[k] != want {
			return false
		}
	}
	return true
}

// Deep copies keep internal state isolated from callers, matching the
// repository convention used elsewhere in the engine.
func cloneFields(fields store.Fields) store.Fields {
	out := make(store.Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRecord(rec *store.Record) *store.Record {
	return &store.Record{ID: rec.ID, Fields: cloneFields(rec.Fields)}
}
