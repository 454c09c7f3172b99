// Package session persists the browser session that keeps the agent signed
// in. It stores the state as an opaque blob; deciding whether that state is
// still good belongs to the auth package.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/court-scheduler/internal/internaltypes"
)

type Session struct {
	State      []byte     `json:"state"`
	CapturedAt time.Time  `json:"capturedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the session carries an explicit expiry that has
// passed. Most sessions carry none.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Store holds at most one Session. Load returns an error wrapping
// internaltypes.ErrNotFound when nothing is stored; I/O failures wrap
// internaltypes.ErrPersistence.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

// Codec turns a Session into bytes at rest and back.
type Codec interface {
	Encode(s Session) ([]byte, error)
	Decode(b []byte) (Session, error)
}

// JSONCodec stores the session as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(s Session) ([]byte, error) {
	return json.Marshal(s)
}

func (JSONCodec) Decode(b []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("%w: decode session: %v", internaltypes.ErrPersistence, err)
	}
	if len(s.State) == 0 {
		return Session{}, fmt.Errorf("%w: stored session has no state", internaltypes.ErrPersistence)
	}
	return s, nil
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", internaltypes.ErrPersistence, op, err)
}
