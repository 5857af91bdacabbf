// Package ingest turns usage events into accrued spend: it validates each
// event, drops duplicates, prices it, accrues it to the ledger and records it
// in the usage log.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/cost"
	"github.com/pario-ai/budgeteer/pkg/ledger"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/tracker"
)

// ErrMalformedEvent is returned for events that cannot be accounted.
var ErrMalformedEvent = errors.New("malformed usage event")

// Usage event results, also used as metric labels.
const (
	ResultAccrued   = "accrued"
	ResultDuplicate = "duplicate"
	ResultMalformed = "malformed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Result is the outcome of processing one event.
type Result struct {
	Principal string               `json:"principal_id"`
	Cost      models.Money         `json:"cost"`
	Duplicate bool                 `json:"duplicate,omitempty"`
	Account   models.BudgetAccount `json:"account"`
}

// Processor runs the per-event pipeline.
type Processor struct {
	ledger  *ledger.Ledger
	calc    *cost.Calculator
	tracker tracker.Tracker
	cfg     *config.Live
	metrics *metrics.Metrics
}

// NewProcessor creates a Processor. t may be nil, which disables both the
// usage log and duplicate detection.
func NewProcessor(l *ledger.Ledger, calc *cost.Calculator, t tracker.Tracker, cfg *config.Live, m *metrics.Metrics) *Processor {
	return &Processor{ledger: l, calc: calc, tracker: t, cfg: cfg, metrics: m}
}

// MaxTokens bounds each token class of a single event. Larger counts are
// rejected as malformed rather than priced.
const MaxTokens = 1_000_000_000

// Validate checks the fields required to account an event.
func Validate(ev models.UsageEvent) error {
	switch {
	case ev.Principal == "":
		return fmt.Errorf("%w: missing principal", ErrMalformedEvent)
	case ev.Model == "":
		return fmt.Errorf("%w: missing model", ErrMalformedEvent)
	case ev.Tokens.Input < 0 || ev.Tokens.Output < 0 || ev.Tokens.CacheRead < 0 || ev.Tokens.CacheWrite < 0:
		return fmt.Errorf("%w: negative token count", ErrMalformedEvent)
	case ev.Tokens.Input > MaxTokens || ev.Tokens.Output > MaxTokens || ev.Tokens.CacheRead > MaxTokens || ev.Tokens.CacheWrite > MaxTokens:
		return fmt.Errorf("%w: token count exceeds %d", ErrMalformedEvent, MaxTokens)
	}
	return nil
}

// Process accounts one usage event. A duplicate delivery returns a Result
// with Duplicate set and no error. When accrual fails the event's dedup
// claim is released so a redelivery is processed again.
func (p *Processor) Process(ctx context.Context, ev models.UsageEvent) (Result, error) {
	if err := Validate(ev); err != nil {
		p.metrics.UsageEvent(ResultMalformed)
		return Result{}, err
	}
	cfg := p.cfg.Get()
	if ev.Region == "" {
		ev.Region = cfg.Pricing.DefaultRegion
	}
	if ev.UsageType == "" {
		ev.UsageType = models.UsageTypeInvocation
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.ledger.Now()
	}

	claimed := false
	if p.tracker != nil && cfg.Ingest.Dedup && ev.EventID != "" {
		err := p.tracker.Claim(ctx, ev.EventID, ev.Principal, p.ledger.Now())
		if errors.Is(err, tracker.ErrDuplicateEvent) {
			p.metrics.UsageEvent(ResultDuplicate)
			log.Info().Str("event_id", ev.EventID).Str("principal", ev.Principal).Msg("duplicate usage event skipped")
			return Result{Principal: ev.Principal, Duplicate: true}, nil
		}
		if err != nil {
			p.metrics.UsageEvent(ResultFailed)
			return Result{}, fmt.Errorf("claim event %s: %w", ev.EventID, err)
		}
		claimed = true
	}

	c := p.calc.Cost(ctx, ev.Principal, ev.Model, ev.Region, ev.Tokens)
	acct, err := p.ledger.AccrueSpend(ctx, ev.Principal, ev.Model, c)
	if err != nil {
		p.metrics.UsageEvent(ResultFailed)
		if claimed {
			if rerr := p.tracker.Release(ctx, ev.EventID); rerr != nil {
				log.Error().Err(rerr).Str("event_id", ev.EventID).Msg("release event claim failed")
			}
		}
		return Result{}, err
	}

	if p.tracker != nil {
		_, err := p.tracker.Record(ctx, models.UsageRecord{
			EventID:   ev.EventID,
			Principal: ev.Principal,
			Model:     ev.Model,
			Region:    ev.Region,
			UsageType: ev.UsageType,
			Tokens:    ev.Tokens,
			Cost:      c,
			CreatedAt: ev.Timestamp,
		})
		if err != nil {
			// Spend is already accrued; the usage log is informational.
			log.Error().Err(err).Str("principal", ev.Principal).Msg("record usage failed")
		}
	}

	p.metrics.UsageEvent(ResultAccrued)
	log.Debug().
		Str("principal", ev.Principal).
		Str("model", ev.Model).
		Stringer("cost", c).
		Stringer("spent", acct.Spent).
		Stringer("limit", acct.BudgetLimit).
		Msg("usage accrued")
	return Result{Principal: ev.Principal, Cost: c, Account: acct}, nil
}
