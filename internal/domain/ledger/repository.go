package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/errors"
)

// EventStore is the append-only log backing both aggregates
type EventStore interface {
	// Load returns the stream ordered by version, empty when the stream does not exist
	Load(ctx context.Context, stream StreamType, id uuid.UUID) ([]Event, error)
	// Append writes events at expectedVersion+1.. and returns a ConflictError
	// when another writer got there first.
	Append(ctx context.Context, stream StreamType, id uuid.UUID, expectedVersion int64, events []Event) error
}

// Transactor runs fn in a transaction carried by ctx. Nested calls open a savepoint.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type BalanceProjection interface {
	SaveBalance(ctx context.Context, state BalanceState, version int64) error
}

type BatchProjection interface {
	SaveBatch(ctx context.Context, state BatchState, version int64) error
}

// root holds identity, committed version and uncommitted events
type root struct {
	id      uuid.UUID
	version int64
	pending []Event
}

func (r *root) ID() uuid.UUID { return r.id }

// Version is the number of committed events
func (r *root) Version() int64 { return r.version }

func (r *root) PendingEvents() []Event { return r.pending }

func (r *root) markCommitted() {
	r.version += int64(len(r.pending))
	r.pending = nil
}

type aggregate interface {
	ID() uuid.UUID
	Version() int64
	PendingEvents() []Event
	StreamType() StreamType
	markCommitted()
}

// persist appends pending events and runs the projection in one transaction
func persist(ctx context.Context, tx Transactor, store EventStore, agg aggregate, project func(ctx context.Context) error) error {
	pending := agg.PendingEvents()
	if len(pending) == 0 {
		return nil
	}
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := store.Append(ctx, agg.StreamType(), agg.ID(), agg.Version(), pending); err != nil {
			return err
		}
		return project(ctx)
	})
	if err != nil {
		return err
	}
	agg.markCommitted()
	return nil
}

// BalanceRepository retrieves and persists DivisionBalance aggregates
type BalanceRepository struct {
	store      EventStore
	projection BalanceProjection
	tx         Transactor
}

func NewBalanceRepository(store EventStore, projection BalanceProjection, tx Transactor) *BalanceRepository {
	return &BalanceRepository{store: store, projection: projection, tx: tx}
}

// Retrieve folds the division's stream; an empty stream yields a zero balance
func (r *BalanceRepository) Retrieve(ctx context.Context, divisionID uuid.UUID) (*DivisionBalance, error) {
	events, err := r.store.Load(ctx, StreamDivisionBalance, divisionID)
	if err != nil {
		return nil, fmt.Errorf("load balance stream %s: %w", divisionID, err)
	}
	b := NewDivisionBalance(divisionID)
	b.Replay(events)
	return b, nil
}

func (r *BalanceRepository) Persist(ctx context.Context, b *DivisionBalance) error {
	return persist(ctx, r.tx, r.store, b, func(ctx context.Context) error {
		return r.projection.SaveBalance(ctx, b.State, b.Version()+int64(len(b.PendingEvents())))
	})
}

// Update retrieves, mutates and persists, retrying once on a concurrency conflict
func (r *BalanceRepository) Update(ctx context.Context, divisionID uuid.UUID, fn func(b *DivisionBalance) error) error {
	return retryOnce(func() error {
		b, err := r.Retrieve(ctx, divisionID)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		return r.Persist(ctx, b)
	})
}

// BatchRepository retrieves and persists GenerationBatch aggregates
type BatchRepository struct {
	store      EventStore
	projection BatchProjection
	tx         Transactor
}

func NewBatchRepository(store EventStore, projection BatchProjection, tx Transactor) *BatchRepository {
	return &BatchRepository{store: store, projection: projection, tx: tx}
}

func (r *BatchRepository) Retrieve(ctx context.Context, batchID uuid.UUID) (*GenerationBatch, error) {
	events, err := r.store.Load(ctx, StreamGenerationBatch, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch stream %s: %w", batchID, err)
	}
	if len(events) == 0 {
		return nil, errors.NewNotFoundError("generation batch")
	}
	g := NewGenerationBatch(batchID)
	g.Replay(events)
	return g, nil
}

func (r *BatchRepository) Persist(ctx context.Context, g *GenerationBatch) error {
	return persist(ctx, r.tx, r.store, g, func(ctx context.Context) error {
		return r.projection.SaveBatch(ctx, g.State, g.Version()+int64(len(g.PendingEvents())))
	})
}

func (r *BatchRepository) Update(ctx context.Context, batchID uuid.UUID, fn func(g *GenerationBatch) error) error {
	return retryOnce(func() error {
		g, err := r.Retrieve(ctx, batchID)
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		return r.Persist(ctx, g)
	})
}

func retryOnce(op func() error) error {
	err := op()
	if err != nil && errors.IsConflict(err) {
		return op()
	}
	return err
}
