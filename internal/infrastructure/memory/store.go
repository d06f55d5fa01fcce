// Package memory keeps every persistence port in process. Transactions snapshot
// the whole state and restore it on failure, so rollback semantics match Postgres
// for a single writer.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
)

type streamKey struct {
	stream ledger.StreamType
	id     uuid.UUID
}

type sequenceKey struct {
	invoiceType billing.InvoiceType
	period      string
}

type balanceRow struct {
	state   ledger.BalanceState
	version int64
}

type batchRow struct {
	state   ledger.BatchState
	version int64
}

type state struct {
	events    map[streamKey][]ledger.Event
	invoices  map[uuid.UUID]*billing.Invoice
	order     []uuid.UUID
	divisions map[uuid.UUID]*billing.Division
	financers map[uuid.UUID]*billing.Financer
	members   []membership
	history   []moduleChange
	sequences map[sequenceKey]int64
	balances  map[uuid.UUID]balanceRow
	batches   map[uuid.UUID]batchRow
}

func newState() *state {
	return &state{
		events:    map[streamKey][]ledger.Event{},
		invoices:  map[uuid.UUID]*billing.Invoice{},
		divisions: map[uuid.UUID]*billing.Division{},
		financers: map[uuid.UUID]*billing.Financer{},
		sequences: map[sequenceKey]int64{},
		balances:  map[uuid.UUID]balanceRow{},
		batches:   map[uuid.UUID]batchRow{},
	}
}

// clone copies every container. Stored values are never mutated in place,
// so sharing them between snapshots is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.events {
		c.events[k] = append([]ledger.Event(nil), v...)
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	c.order = append([]uuid.UUID(nil), s.order...)
	for k, v := range s.divisions {
		c.divisions[k] = v
	}
	for k, v := range s.financers {
		c.financers[k] = v
	}
	c.members = append([]membership(nil), s.members...)
	c.history = append([]moduleChange(nil), s.history...)
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	return c
}

// Store implements the ledger, invoice, payer and collaborator ports in memory
type Store struct {
	mu    sync.RWMutex
	state *state

	// Fault, when set, is consulted before every write; a non-nil result fails the write
	Fault func(op string) error
}

func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTransaction restores the pre-call state when fn fails or panics.
// Nested calls behave like savepoints.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(ctx)
}

func (s *Store) restore(snapshot *state) {
	s.mu.Lock()
	s.state = snapshot
	s.mu.Unlock()
}

func (s *Store) fault(op string) error {
	if s.Fault == nil {
		return nil
	}
	return s.Fault(op)
}
