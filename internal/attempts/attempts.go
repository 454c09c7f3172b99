// Package attempts is the Postgres ledger of attempt results.
package attempts

import (
	"context"
	"time"

	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/domain/reservation"
)

// Record is one row of the attempts table.
type Record struct {
	ID         string
	Outcome    reservation.Outcome
	TargetDate *time.Time
	TargetTime *string
	Court      *string
	Detail     string
	FiredAt    time.Time
	FinishedAt time.Time
}

// FromResult flattens r for storage.
func FromResult(r reservation.AttemptResult) Record {
	rec := Record{
		ID:         r.ID,
		Outcome:    r.Outcome,
		Detail:     r.Detail,
		FiredAt:    r.FiredAt,
		FinishedAt: r.At,
	}
	if !r.Target.Date.IsZero() {
		d := r.Target.Date
		t := r.Target.Entry.String()
		rec.TargetDate, rec.TargetTime = &d, &t
	}
	if r.Chosen != nil {
		c := r.Chosen.Name
		rec.Court = &c
	}
	return rec
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Insert(ctx context.Context, rec Record) error {
	return r.db.Exec(ctx, `
INSERT INTO attempts(id,outcome,target_date,target_time,court,detail,fired_at,finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.Outcome), rec.TargetDate, rec.TargetTime, rec.Court, rec.Detail, rec.FiredAt, rec.FinishedAt,
	)
}

// List returns the most recent records first.
func (r *Repo) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
SELECT id::text,outcome,target_date,target_time,court,detail,fired_at,finished_at
FROM attempts
ORDER BY finished_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRow(ctx, `
SELECT id::text,outcome,target_date,target_time,court,detail,fired_at,finished_at
FROM attempts
WHERE id=$1`, id)
	rec, err := scan(row)
	if err != nil {
		return Record{}, db.WrapNotFound(err)
	}
	return rec, nil
}

func scan(row db.Row) (Record, error) {
	var rec Record
	var outcome string
	err := row.Scan(&rec.ID, &outcome, &rec.TargetDate, &rec.TargetTime, &rec.Court, &rec.Detail, &rec.FiredAt, &rec.FinishedAt)
	rec.Outcome = reservation.Outcome(outcome)
	return rec, err
}
