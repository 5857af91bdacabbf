package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/config"
	"github.com/pario-ai/budgeteer/pkg/events"
	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
)

var (
	// ErrNegativeCost is returned when a negative amount is accrued.
	ErrNegativeCost = errors.New("cost must not be negative")
	// ErrExists is returned by Create when the principal already has a record.
	ErrExists = errors.New("budget account already exists")
	// ErrInvalidAccount is returned for an empty principal id.
	ErrInvalidAccount = errors.New("invalid budget account")
)

// classifyAttempts bounds the threshold compare-and-set loop.
const classifyAttempts = 3

// Ledger applies the budget rules on top of a Store.
type Ledger struct {
	store   Store
	cfg     *config.Live
	pub     events.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics records accrued spend.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a Ledger. pub may be nil.
func New(store Store, cfg *config.Live, pub events.Publisher, opts ...Option) *Ledger {
	if pub == nil {
		pub = events.Discard
	}
	l := &Ledger{
		store: store,
		cfg:   cfg,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Now returns the ledger clock truncated to the storage resolution.
func (l *Ledger) Now() time.Time {
	return l.now().UTC().Truncate(time.Second)
}

// Store returns the underlying store.
func (l *Ledger) Store() Store { return l.store }

// Get returns the record of principal.
func (l *Ledger) Get(ctx context.Context, principal string) (models.BudgetAccount, error) {
	return l.store.Get(ctx, principal)
}

// Status returns the display summary of principal's budget.
func (l *Ledger) Status(ctx context.Context, principal string) (models.BudgetStatus, error) {
	a, err := l.store.Get(ctx, principal)
	if err != nil {
		return models.BudgetStatus{}, err
	}
	return models.StatusOf(a), nil
}

func (l *Ledger) newAccount(principal string, accountType models.AccountType, limit models.Money, now time.Time) models.BudgetAccount {
	days := l.cfg.Budget().RefreshPeriodDays
	if accountType == "" {
		accountType = models.AccountTypeAPIKey
	}
	return models.BudgetAccount{
		PrincipalID:       principal,
		AccountType:       accountType,
		BudgetLimit:       limit,
		Status:            models.StatusActive,
		ThresholdState:    models.ThresholdNormal,
		PeriodStart:       now,
		RefreshDate:       now.Add(time.Duration(days) * 24 * time.Hour),
		RefreshPeriodDays: days,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// AccrueSpend adds cost to principal's spend, creating the record with the
// default limit and cost as its initial spend when none exists. Concurrent
// first accruals race on an insert-if-absent; losers fall back to increments.
func (l *Ledger) AccrueSpend(ctx context.Context, principal, model string, cost models.Money) (models.BudgetAccount, error) {
	if principal == "" {
		return models.BudgetAccount{}, ErrInvalidAccount
	}
	if cost < 0 {
		return models.BudgetAccount{}, ErrNegativeCost
	}
	now := l.Now()

	acct, err := l.store.Accrue(ctx, principal, model, cost, now)
	if errors.Is(err, ErrNotFound) {
		fresh := l.newAccount(principal, models.AccountTypeAPIKey, models.FromDollars(l.cfg.Budget().DefaultLimit), now)
		fresh.Spent = cost
		fresh.AutoCreated = true
		if model != "" {
			fresh.ModelSpend = map[string]models.Money{model: cost}
		}
		created, cerr := l.store.Create(ctx, fresh)
		if cerr != nil {
			return models.BudgetAccount{}, cerr
		}
		if created {
			acct, err = fresh, nil
			log.Info().Str("principal", principal).Stringer("limit", fresh.BudgetLimit).Msg("budget auto-created on first use")
			l.pub.Publish(ctx, events.New(models.EventBudgetAutoCreated, fresh, "trigger", "usage", "model", model))
		} else {
			acct, err = l.store.Accrue(ctx, principal, model, cost, now)
		}
	}
	if err != nil {
		return models.BudgetAccount{}, fmt.Errorf("accrue spend: %w", err)
	}
	l.metrics.SpendAccrued(cost.Dollars())

	if err := l.classify(ctx, acct); err != nil {
		log.Warn().Err(err).Str("principal", principal).Msg("threshold classification failed")
	}
	return acct, nil
}

// classify moves the threshold state to match the current ratio and emits
// ThresholdChanged once per actual change.
func (l *Ledger) classify(ctx context.Context, acct models.BudgetAccount) error {
	b := l.cfg.Budget()
	for i := 0; i < classifyAttempts; i++ {
		want := models.Classify(acct.Spent, acct.BudgetLimit, b.WarnPercent, b.CriticalPercent)
		if want == acct.ThresholdState {
			return nil
		}
		changed, err := l.store.SetThreshold(ctx, acct.PrincipalID, acct.ThresholdState, want, l.Now())
		if err != nil {
			return err
		}
		if changed {
			ev := log.Info()
			if want == models.ThresholdCritical {
				ev = log.Warn()
			}
			ev.Str("principal", acct.PrincipalID).
				Str("from", string(acct.ThresholdState)).
				Str("to", string(want)).
				Float64("ratio", acct.Ratio()).
				Msg("threshold state changed")
			l.pub.Publish(ctx, events.New(models.EventThresholdChanged, acct,
				"from", string(acct.ThresholdState),
				"to", string(want),
				"ratio", strconv.FormatFloat(acct.Ratio(), 'f', 4, 64)))
			return nil
		}
		// Another writer moved the state; classify against a fresh read.
		acct, err = l.store.Get(ctx, acct.PrincipalID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Ensure creates a record for principal with zero spend if none exists.
// Used when a principal is provisioned before any usage.
func (l *Ledger) Ensure(ctx context.Context, principal string, accountType models.AccountType, trigger string) (bool, error) {
	if principal == "" {
		return false, ErrInvalidAccount
	}
	fresh := l.newAccount(principal, accountType, models.FromDollars(l.cfg.Budget().DefaultLimit), l.Now())
	fresh.AutoCreated = true
	created, err := l.store.Create(ctx, fresh)
	if err != nil {
		return false, fmt.Errorf("ensure budget: %w", err)
	}
	if created {
		log.Info().Str("principal", principal).Str("trigger", trigger).Msg("budget auto-created on provisioning")
		l.pub.Publish(ctx, events.New(models.EventBudgetAutoCreated, fresh, "trigger", trigger))
	}
	return created, nil
}

// Create adds a record with an explicit limit.
func (l *Ledger) Create(ctx context.Context, principal string, accountType models.AccountType, limit models.Money) (models.BudgetAccount, error) {
	if principal == "" {
		return models.BudgetAccount{}, ErrInvalidAccount
	}
	if limit < 0 {
		return models.BudgetAccount{}, fmt.Errorf("%w: limit must not be negative", ErrInvalidAccount)
	}
	a := l.newAccount(principal, accountType, limit, l.Now())
	created, err := l.store.Create(ctx, a)
	if err != nil {
		return a, fmt.Errorf("create budget: %w", err)
	}
	if !created {
		return a, ErrExists
	}
	return a, nil
}

// SetLimit replaces principal's budget limit. Status is left to the monitor.
func (l *Ledger) SetLimit(ctx context.Context, principal string, limit models.Money) error {
	if limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidAccount)
	}
	return l.store.SetLimit(ctx, principal, limit, l.Now())
}

// TransitionTo moves principal to status to if its current status is one of
// expected. It reports whether the change applied; a false result is a no-op.
func (l *Ledger) TransitionTo(ctx context.Context, principal string, to models.Status, expected ...models.Status) (bool, error) {
	return l.store.Transition(ctx, principal, Transition{To: to, From: expected, At: l.Now()})
}

// BeginGrace moves an Active principal without a deadline into its grace
// period. Exactly one of several concurrent callers succeeds.
func (l *Ledger) BeginGrace(ctx context.Context, principal string, deadline time.Time) (bool, error) {
	return l.store.Transition(ctx, principal, Transition{
		To:             models.StatusGracePeriod,
		From:           []models.Status{models.StatusActive},
		GraceDeadline:  deadline.UTC().Truncate(time.Second),
		RequireNoGrace: true,
		At:             l.Now(),
	})
}

// ResetPeriod zeroes spend and opens a new refresh window if principal's
// status is one of expected.
func (l *Ledger) ResetPeriod(ctx context.Context, principal string, expected ...models.Status) (bool, error) {
	return l.store.Reset(ctx, principal, Reset{From: expected, At: l.Now()})
}

// Each calls fn for every record in principal order, one page at a time.
func (l *Ledger) Each(ctx context.Context, fn func(models.BudgetAccount) error) error {
	size := l.cfg.Get().Ledger.PageSize
	if size <= 0 {
		size = 100
	}
	after := ""
	for {
		page, err := l.store.Scan(ctx, after, size)
		if err != nil {
			return err
		}
		for _, a := range page {
			if err := fn(a); err != nil {
				return err
			}
		}
		if len(page) < size {
			return nil
		}
		after = page[len(page)-1].PrincipalID
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// List returns up to limit records after the given principal id.
func (l *Ledger) List(ctx context.Context, after string, limit int) ([]models.BudgetAccount, error) {
	return l.store.Scan(ctx, after, limit)
}
