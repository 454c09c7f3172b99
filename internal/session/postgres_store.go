package session

import (
	"context"
	"fmt"
	"time"

	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/internaltypes"
)

// PostgresStore keeps the session in the agent_sessions table, one row per
// name.
type PostgresStore struct {
	db    *db.DB
	name  string
	codec Codec
}

func NewPostgresStore(d *db.DB, name string, codec Codec) *PostgresStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &PostgresStore{db: d, name: name, codec: codec}
}

func (p *PostgresStore) Load(ctx context.Context) (Session, error) {
	var payload []byte
	err := p.db.QueryRow(ctx, `SELECT payload FROM agent_sessions WHERE name=$1`, p.name).Scan(&payload)
	if db.IsNotFound(err) {
		return Session{}, fmt.Errorf("session %q: %w", p.name, internaltypes.ErrNotFound)
	}
	if err != nil {
		return Session{}, persistence("load session", err)
	}
	return p.codec.Decode(payload)
}

func (p *PostgresStore) Save(ctx context.Context, s Session) error {
	payload, err := p.codec.Encode(s)
	if err != nil {
		return persistence("encode session", err)
	}
	err = p.db.Exec(ctx, `
		INSERT INTO agent_sessions (name, payload, captured_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET payload = EXCLUDED.payload,
		    captured_at = EXCLUDED.captured_at,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at`,
		p.name, payload, s.CapturedAt, s.ExpiresAt, time.Now().UTC())
	if err != nil {
		return persistence("save session", err)
	}
	return nil
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	if err := p.db.Exec(ctx, `DELETE FROM agent_sessions WHERE name=$1`, p.name); err != nil {
		return persistence("clear session", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
