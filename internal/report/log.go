package report

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/court-scheduler/internal/domain/reservation"
)

// LogNotifier writes each result as one structured log line.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, r reservation.AttemptResult) error {
	fields := []zap.Field{
		zap.String("attempt_id", r.ID),
		zap.String("outcome", string(r.Outcome)),
		zap.Stringer("target", r.Target),
		zap.String("detail", r.Detail),
		zap.Time("fired_at", r.FiredAt),
		zap.Duration("took", r.At.Sub(r.FiredAt)),
	}
	if r.Chosen != nil {
		fields = append(fields, zap.String("court", r.Chosen.Name))
	}
	level := zapcore.InfoLevel
	if r.Failed() {
		level = zapcore.ErrorLevel
	}
	l.Log.Log(level, "attempt result", fields...)
	return nil
}
