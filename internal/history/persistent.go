package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" sql.DB driver

	"github.com/hdds-go/hdds/internal/ddsid"
)

// PersistentStore backs Durability=Persistent / DurabilityService QoS
// (§3) with a real external store instead of the in-memory Cache's
// TransientLocal replay. It offers append and snapshot operations like
// Cache's, but with a context and an error return (Append,
// SnapshotPayloads(ctx)), so it does not share Cache's method set; no
// writer in this repository uses it.
type PersistentStore struct {
	db    *sql.DB
	topic string
}

// NewPersistentStore opens (and, if necessary, provisions) the samples
// table for a topic. dsn is a standard "postgres://" connection string,
// consumed by lib/pq exactly as the reference codebase's database layer
// does for its own tables.
func NewPersistentStore(ctx context.Context, dsn, topic string) (*PersistentStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	ps := &PersistentStore{db: db, topic: topic}
	if err := ps.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PersistentStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS hdds_history (
	topic        TEXT NOT NULL,
	seq          BIGINT NOT NULL,
	instance     BYTEA NOT NULL,
	payload      BYTEA NOT NULL,
	timestamp_ns BIGINT NOT NULL,
	PRIMARY KEY (topic, seq)
)`
	_, err := ps.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

// Append persists one sample. Matches Cache.Insert's shape but never
// evicts — Persistent durability keeps everything the ResourceLimits QoS
// allows, enforced by the caller before Append is reached.
func (ps *PersistentStore) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO hdds_history (topic, seq, instance, payload, timestamp_ns)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (topic, seq) DO NOTHING`
	_, err := ps.db.ExecContext(ctx, q, ps.topic, int64(e.Seq), e.Instance[:], e.Payload, int64(e.TimestampNs))
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// SnapshotPayloads returns every persisted sample for this topic ordered
// by sequence number, for Persistent-durability replay to a newly joined
// reader (the Persistent analogue of Cache.SnapshotPayloads, §4.8).
func (ps *PersistentStore) SnapshotPayloads(ctx context.Context) ([]Entry, error) {
	const q = `
SELECT seq, instance, payload, timestamp_ns FROM hdds_history
WHERE topic = $1 ORDER BY seq ASC`
	rows, err := ps.db.QueryContext(ctx, q, ps.topic)
	if err != nil {
		return nil, fmt.Errorf("history: snapshot query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var seq int64
		var inst []byte
		if err := rows.Scan(&seq, &inst, &e.Payload, &e.TimestampNs); err != nil {
			return nil, fmt.Errorf("history: snapshot scan: %w", err)
		}
		e.Seq = ddsid.SequenceNumber(seq)
		copy(e.Instance[:], inst)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection pool.
func (ps *PersistentStore) Close() error {
	return ps.db.Close()
}
