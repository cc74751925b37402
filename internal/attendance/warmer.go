package attendance

import (
	"context"

	"github.com/rs/zerolog"

	"attendly/internal/metrics"
	"attendly/internal/model"
	"attendly/internal/queue"
)

// Warmer consumes attendance events and precomputes the month-to-date report
// of the affected class so the first report request after a submission is a
// cache hit.
type Warmer struct {
	svc *Service
	log zerolog.Logger
}

// NewWarmer creates a warmer for svc.
func NewWarmer(svc *Service, log zerolog.Logger) *Warmer {
	return &Warmer{svc: svc, log: log}
}

// Run processes messages until ctx is done or the channel closes.
func (w *Warmer) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Info().Msg("warmer started, waiting for messages")
	for msg := range messages {
		w.Handle(ctx, msg)
	}
	w.log.Info().Msg("warmer stopped")
	return nil
}

// Handle processes a single message.
func (w *Warmer) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeAttendanceMarked {
		metrics.EventsProcessed.WithLabelValues("skipped").Inc()
		return
	}
	evt, err := msg.AttendanceMarked()
	if err != nil {
		w.log.Warn().Err(err).Msg("bad attendance event")
		metrics.EventsProcessed.WithLabelValues("invalid").Inc()
		return
	}
	start, end, err := MonthToDate(evt.Date)
	if err != nil {
		w.log.Warn().Err(err).Str("date", evt.Date).Msg("bad attendance event date")
		metrics.EventsProcessed.WithLabelValues("invalid").Inc()
		return
	}
	if _, err := w.svc.WarmReport(ctx, evt.ClassID, start, end); err != nil {
		w.log.Warn().Err(err).Str("class_id", evt.ClassID).Msg("report warm failed")
		metrics.EventsProcessed.WithLabelValues("failed").Inc()
		return
	}
	w.log.Debug().Str("class_id", evt.ClassID).Str("start", start).Str("end", end).Int("count", evt.Count).Msg("report warmed")
	metrics.EventsProcessed.WithLabelValues("warmed").Inc()
}

// MonthToDate returns the first day of date's month and date itself.
func MonthToDate(date string) (string, string, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return "", "", err
	}
	first := d.AddDate(0, 0, 1-d.Day())
	return model.FormatDate(first), date, nil
}
