package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// Notification kinds sent to principals by the workflows.
const (
	NotifyGraceStart   = "grace_start"
	NotifyFinalWarning = "final_warning"
	NotifyRestored     = "restored"
)

// Notifier delivers human-facing notifications about a principal.
type Notifier interface {
	Notify(ctx context.Context, kind string, acct models.BudgetAccount, detail map[string]string) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// mail or chat delivery, which is outside the engine.
type LogNotifier struct{}

// Notify logs the notification at a level matching its severity.
func (LogNotifier) Notify(_ context.Context, kind string, acct models.BudgetAccount, detail map[string]string) error {
	var e *zerolog.Event
	switch kind {
	case NotifyGraceStart, NotifyFinalWarning:
		e = log.Warn()
	default:
		e = log.Info()
	}
	e = e.Str("notification", kind).
		Str("principal", acct.PrincipalID).
		Stringer("spent", acct.Spent).
		Stringer("limit", acct.BudgetLimit)
	for k, v := range detail {
		e = e.Str(k, v)
	}
	e.Msg("budget notification")
	return nil
}

// LogSink logs every event; suitable as a Bus sink.
func LogSink() Sink {
	return SinkFunc(func(_ context.Context, ev models.Event) error {
		e := log.Info()
		switch ev.Type {
		case models.EventGraceExpired, models.EventSuspensionRequired, models.EventReconciliationMismatch:
			e = log.Error()
		case models.EventGraceStarted, models.EventUserSuspended:
			e = log.Warn()
		}
		e = e.Str("event", string(ev.Type)).
			Str("event_id", ev.ID).
			Str("principal", ev.Principal).
			Stringer("spent", ev.Spent).
			Stringer("limit", ev.Limit)
		for k, v := range ev.Detail {
			e = e.Str(k, v)
		}
		e.Msg("budget event")
		return nil
	})
}
