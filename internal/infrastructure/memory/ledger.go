package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
)

func (s *Store) Load(ctx context.Context, stream ledger.StreamType, id uuid.UUID) ([]ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Event(nil), s.state.events[streamKey{stream, id}]...), nil
}

// Append enforces the same expected-version check as the unique stream key in Postgres
func (s *Store) Append(ctx context.Context, stream ledger.StreamType, id uuid.UUID, expectedVersion int64, events []ledger.Event) error {
	if err := s.fault("append_events"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{stream, id}
	if current := int64(len(s.state.events[key])); current != expectedVersion {
		return apperrors.NewConflictError(fmt.Sprintf("stream %s/%s is at version %d, expected %d",
			stream, id, current, expectedVersion))
	}
	s.state.events[key] = append(s.state.events[key], events...)
	return nil
}

func (s *Store) SaveBalance(ctx context.Context, state ledger.BalanceState, version int64) error {
	if err := s.fault("save_balance"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.state.balances[state.DivisionID]; ok && row.version >= version {
		return nil
	}
	s.state.balances[state.DivisionID] = balanceRow{state: state, version: version}
	return nil
}

// Balance reads the projection; unknown divisions read as zero
func (s *Store) Balance(ctx context.Context, divisionID uuid.UUID) (ledger.BalanceState, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.state.balances[divisionID]
	if !ok {
		return ledger.BalanceState{DivisionID: divisionID}, 0, nil
	}
	return row.state, row.version, nil
}

func (s *Store) SaveBatch(ctx context.Context, state ledger.BatchState, version int64) error {
	if err := s.fault("save_batch"); err != nil {
		return err
	}
	if state.StartedAt == nil {
		return apperrors.NewDomainStateError(apperrors.CodeBatchClosed, "cannot project a batch that has not started")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.state.batches[state.BatchID]; ok && row.version >= version {
		return nil
	}
	s.state.batches[state.BatchID] = batchRow{state: state, version: version}
	return nil
}

func (s *Store) Batch(ctx context.Context, batchID uuid.UUID) (*ledger.BatchState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.state.batches[batchID]
	if !ok {
		return nil, apperrors.NewNotFoundError("generation batch")
	}
	st := row.state
	return &st, nil
}

// EventCount returns the number of events across all streams
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, evs := range s.state.events {
		n += len(evs)
	}
	return n
}
