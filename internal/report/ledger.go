package report

import (
	"context"

	"github.com/example/court-scheduler/internal/attempts"
	"github.com/example/court-scheduler/internal/domain/reservation"
)

// LedgerNotifier records each result in the attempts table.
type LedgerNotifier struct {
	Repo *attempts.Repo
}

func (l LedgerNotifier) Notify(ctx context.Context, r reservation.AttemptResult) error {
	return l.Repo.Insert(ctx, attempts.FromResult(r))
}
