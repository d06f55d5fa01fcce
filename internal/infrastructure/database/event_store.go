package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
)

// EventStore persists ledger events in stored_events. The unique
// (stream_type, stream_id, version) key is the optimistic concurrency check.
type EventStore struct {
	db QuerierProvider
}

func NewEventStore(db QuerierProvider) *EventStore {
	return &EventStore{db: db}
}

var eventDecoders = map[ledger.EventType]func([]byte) (ledger.Event, error){
	ledger.EventInvoiceGenerated: decodeEvent[ledger.InvoiceGenerated],
	ledger.EventInvoicePaid:      decodeEvent[ledger.InvoicePaid],
	ledger.EventBatchStarted:     decodeEvent[ledger.BatchStarted],
	ledger.EventInvoiceCompleted: decodeEvent[ledger.InvoiceCompleted],
	ledger.EventBatchCompleted:   decodeEvent[ledger.BatchCompleted],
}

func decodeEvent[T ledger.Event](data []byte) (ledger.Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodeEvent rebuilds a typed event from its stored payload
func DecodeEvent(eventType ledger.EventType, payload []byte) (ledger.Event, error) {
	decode, ok := eventDecoders[eventType]
	if !ok {
		return nil, apperrors.NewInternalError(fmt.Sprintf("unknown event type %q", eventType))
	}
	e, err := decode(payload)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to decode %s event", eventType)).WithCause(err)
	}
	return e, nil
}

func (s *EventStore) Load(ctx context.Context, stream ledger.StreamType, id uuid.UUID) ([]ledger.Event, error) {
	rows, err := s.db.Querier(ctx).Query(ctx, `
		SELECT event_type, payload
		FROM stored_events
		WHERE stream_type = $1 AND stream_id = $2
		ORDER BY version ASC
	`, string(stream), id)
	if err != nil {
		return nil, MapError(err, "query events")
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var eventType string
		var payload []byte
		if err := rows.Scan(&eventType, &payload); err != nil {
			return nil, MapError(err, "scan event")
		}
		e, err := DecodeEvent(ledger.EventType(eventType), payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err, "iterate events")
	}
	return events, nil
}

func (s *EventStore) Append(ctx context.Context, stream ledger.StreamType, id uuid.UUID, expectedVersion int64, events []ledger.Event) error {
	q := s.db.Querier(ctx)
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return apperrors.NewInternalError("failed to marshal event").WithCause(err)
		}

		_, err = q.Exec(ctx, `
			INSERT INTO stored_events (stream_type, stream_id, version, event_type, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, string(stream), id, expectedVersion+int64(i)+1, string(e.EventType()), payload, e.OccurredAt())
		if err != nil {
			if IsUniqueViolation(err) {
				return apperrors.NewConflictError(fmt.Sprintf("stream %s/%s moved past version %d", stream, id, expectedVersion)).
					WithCause(err)
			}
			return MapError(err, "append event")
		}
	}
	return nil
}
