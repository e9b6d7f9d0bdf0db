package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/igorsilveira/relay/pkg/channels"
)

type Store struct {
	db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS envelopes (
    id          TEXT PRIMARY KEY,
    direction   TEXT NOT NULL,
    channel     TEXT NOT NULL,
    source_id   TEXT NOT NULL,
    thread_id   TEXT NOT NULL DEFAULT '',
    sender_id   TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    is_group    INTEGER NOT NULL DEFAULT 0,
    raw         TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_envelopes_conversation
    ON envelopes(channel, source_id, thread_id, created_at);
`

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Record is one logged envelope. CreatedAt has millisecond precision.
type Record struct {
	ID         string
	Direction  string
	Channel    string
	SourceID   string
	ThreadID   string
	SenderID   string
	SenderName string
	Content    string
	IsGroup    bool
	Raw        json.RawMessage
	Status     string
	CreatedAt  time.Time
}

func (s *Store) AppendInbound(ctx context.Context, env channels.InboundEnvelope) (string, error) {
	return s.insert(ctx, Record{
		Direction:  DirectionInbound,
		Channel:    env.ChannelID,
		SourceID:   env.SourceID,
		ThreadID:   env.ThreadID,
		SenderID:   env.SenderID,
		SenderName: env.SenderName,
		Content:    env.Content,
		IsGroup:    env.IsGroup,
		Raw:        env.Raw,
		CreatedAt:  time.UnixMilli(env.Timestamp),
	})
}

// AppendOutbound records a send attempt on channel with its outcome
// ("ok", "error" or "dropped").
func (s *Store) AppendOutbound(ctx context.Context, channel string, env channels.OutboundEnvelope, status string) (string, error) {
	return s.insert(ctx, Record{
		Direction: DirectionOutbound,
		Channel:   channel,
		SourceID:  env.SourceID,
		ThreadID:  env.ThreadID,
		Content:   env.Content,
		Raw:       env.Raw,
		Status:    status,
		CreatedAt: time.Now(),
	})
}

func (s *Store) insert(ctx context.Context, r Record) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, direction, channel, source_id, thread_id, sender_id, sender_name, content, is_group, raw, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Direction, r.Channel, r.SourceID, r.ThreadID, r.SenderID, r.SenderName,
		r.Content, r.IsGroup, string(r.Raw), r.Status, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("store: appending %s envelope: %w", r.Direction, err)
	}
	return id, nil
}

// Recent returns up to limit records of one conversation, oldest first.
func (s *Store) Recent(ctx context.Context, key channels.ConversationKey, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, channel, source_id, thread_id, sender_id, sender_name, content, is_group, raw, status, created_at
		 FROM envelopes WHERE channel = ? AND source_id = ? AND thread_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		key.Channel, key.SourceID, key.ThreadID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			r       Record
			raw     string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Direction, &r.Channel, &r.SourceID, &r.ThreadID, &r.SenderID,
			&r.SenderName, &r.Content, &r.IsGroup, &raw, &r.Status, &created); err != nil {
			return nil, err
		}
		if raw != "" {
			r.Raw = json.RawMessage(raw)
		}
		r.CreatedAt = time.UnixMilli(created)
		recs = append(recs, r)
	}

	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}

	return recs, rows.Err()
}

// Counts returns the number of logged envelopes per channel and direction.
func (s *Store) Counts(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, direction, COUNT(*) FROM envelopes GROUP BY channel, direction`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var (
			channel, direction string
			n                  int
		)
		if err := rows.Scan(&channel, &direction, &n); err != nil {
			return nil, err
		}
		if counts[channel] == nil {
			counts[channel] = make(map[string]int)
		}
		counts[channel][direction] = n
	}
	return counts, rows.Err()
}
