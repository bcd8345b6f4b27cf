package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS node_events (
	stream_id    text        NOT NULL,
	seq          bigint      NOT NULL,
	event_id     uuid        NOT NULL,
	event_type   text        NOT NULL,
	node_ref     text        NOT NULL,
	ctx_user_ref text        NOT NULL,
	occurred_at  timestamptz NOT NULL,
	payload      jsonb       NOT NULL,
	PRIMARY KEY (stream_id, seq)
);
CREATE INDEX IF NOT EXISTS node_events_occurred_at ON node_events (stream_id, occurred_at);
`

// PostgresStore is the durable event log over a shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed event log on the shared pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the event log table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, eventsSchema); err != nil {
		return fmt.Errorf("migrate node_events: %w", err)
	}
	return nil
}

// Append implements Store. The batch is written inside one transaction;
// the per-stream head row is locked so concurrent appenders serialize.
func (s *PostgresStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion *int64) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"begin append transaction (table=node_events)")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Transaction-scoped advisory lock keyed by stream id serializes
	// concurrent appenders to the same stream.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, streamID); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"lock stream for append (table=node_events)")
	}

	var head int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM node_events WHERE stream_id = $1`,
		streamID,
	).Scan(&head); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"read stream head (table=node_events)")
	}

	if expectedVersion != nil && head != *expectedVersion {
		return apperrors.Conflict(apperrors.CodeEventStoreFailure, "stream version mismatch").
			WithParams(map[string]interface{}{
				"stream_id":        streamID,
				"expected_version": *expectedVersion,
				"actual_version":   head,
			})
	}

	for i := range events {
		evt := &events[i]
		payload, err := domain.EncodePayload(evt.Payload)
		if err != nil {
			return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
				"encode event payload (table=node_events)")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO node_events
				(stream_id, seq, event_id, event_type, node_ref, ctx_user_ref, occurred_at, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			streamID, head+int64(i)+1, evt.ID, string(evt.Type),
			evt.NodeRef.String(), evt.CtxUserRef, evt.OccurredAt, payload,
		); err != nil {
			return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
				"append event (table=node_events)")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"commit append (table=node_events)")
	}
	return nil
}

// ReadSlice implements Store.
func (s *PostgresStore) ReadSlice(ctx context.Context, streamID string, since *time.Time, count int, forward, consistent bool) (Slice, error) {
	order := "ASC"
	if !forward {
		order = "DESC"
	}
	limit := count
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT event_id, event_type, node_ref, ctx_user_ref, occurred_at, payload
		 FROM node_events
		 WHERE stream_id = $1 AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		 ORDER BY seq %s
		 LIMIT $3`, order),
		streamID, since, limit+1,
	)
	if err != nil {
		return Slice{}, apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"read slice (table=node_events)")
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return Slice{}, err
	}

	slice := Slice{Events: events}
	if len(events) > limit {
		slice.Events = events[:limit]
		slice.HasMore = true
	}
	if n := len(slice.Events); n > 0 {
		last := slice.Events[n-1].OccurredAt
		slice.LastOccurredAt = &last
	}
	return slice, nil
}

// PipeAll implements Store with a batched, seq-cursored iterator.
func (s *PostgresStore) PipeAll(ctx context.Context, streamID string, since *time.Time) Iterator {
	return &postgresIterator{
		store:    s,
		streamID: streamID,
		since:    since,
		batch:    200,
		pos:      -1,
	}
}

type postgresIterator struct {
	store    *PostgresStore
	streamID string
	since    *time.Time

	batch   int
	lastSeq int64
	buf     []domain.Event
	pos     int
	done    bool
	err     error
}

func (it *postgresIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos < len(it.buf) {
		return true
	}
	if it.done {
		return false
	}

	rows, err := it.store.pool.Query(ctx,
		`SELECT seq, event_id, event_type, node_ref, ctx_user_ref, occurred_at, payload
		 FROM node_events
		 WHERE stream_id = $1 AND seq > $2
		   AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		 ORDER BY seq ASC
		 LIMIT $4`,
		it.streamID, it.lastSeq, it.since, it.batch,
	)
	if err != nil {
		it.err = apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"pipe stream (table=node_events)")
		return false
	}
	defer rows.Close()

	it.buf = it.buf[:0]
	for rows.Next() {
		var (
			seq        int64
			evt        domain.Event
			eventType  string
			nodeRefStr string
			payload    []byte
		)
		if err := rows.Scan(&seq, &evt.ID, &eventType, &nodeRefStr, &evt.CtxUserRef, &evt.OccurredAt, &payload); err != nil {
			it.err = apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
				"scan piped event (table=node_events)")
			return false
		}
		if err := hydrateEvent(&evt, eventType, nodeRefStr, payload); err != nil {
			it.err = err
			return false
		}
		it.lastSeq = seq
		it.buf = append(it.buf, evt)
	}
	if err := rows.Err(); err != nil {
		it.err = apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"pipe stream rows (table=node_events)")
		return false
	}

	if len(it.buf) < it.batch {
		it.done = true
	}
	it.pos = 0
	return len(it.buf) > 0
}

func (it *postgresIterator) Event() *domain.Event {
	evt := it.buf[it.pos]
	return &evt
}

func (it *postgresIterator) Err() error { return it.err }

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			evt        domain.Event
			eventType  string
			nodeRefStr string
			payload    []byte
		)
		if err := rows.Scan(&evt.ID, &eventType, &nodeRefStr, &evt.CtxUserRef, &evt.OccurredAt, &payload); err != nil {
			return nil, apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
				"scan event (table=node_events)")
		}
		if err := hydrateEvent(&evt, eventType, nodeRefStr, payload); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"read events (table=node_events)")
	}
	return events, nil
}

func hydrateEvent(evt *domain.Event, eventType, nodeRefStr string, payload []byte) error {
	ref, err := domain.ParseNodeRef(nodeRefStr)
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"parse stored node ref (table=node_events)")
	}
	evt.NodeRef = ref
	evt.Type = domain.EventType(eventType)

	p, err := domain.DecodePayload(evt.Type, payload)
	if err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeEventStoreFailure,
			"decode stored payload (table=node_events)")
	}
	evt.SetPayload(p)
	evt.Freeze()
	return nil
}
