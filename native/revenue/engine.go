package revenue

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"attribledger/native/agreement"
	"attribledger/native/common"
)

var (
	// ErrInvalidAmount is returned when the gross amount is missing or negative.
	ErrInvalidAmount = errors.New("revenue ledger: gross amount must be non-negative")
	// ErrAgreementSuspended is returned when the agreement is suspended. It is
	// an expected business condition, not a caller bug.
	ErrAgreementSuspended = errors.New("revenue ledger: agreement suspended")
	// ErrComplianceHold is returned when distribution is blocked because the
	// agreement is in the Violated state.
	ErrComplianceHold = errors.New("revenue ledger: distribution blocked by compliance violation")
	// ErrEventNotFound is returned when the referenced revenue event does not exist.
	ErrEventNotFound = errors.New("revenue ledger: event not found")
	// ErrSettlementTransient wraps retryable failures from the settlement
	// channel. Exhausting the retry budget leaves the event durably recorded
	// and pending; it is never fatal to the event itself.
	ErrSettlementTransient = errors.New("revenue ledger: transient settlement failure")

	errNilState   = errors.New("revenue ledger: state not configured")
	errNilStore   = errors.New("revenue ledger: agreement store not configured")
	errNilSettler = errors.New("revenue ledger: settlement channel not configured")
)

// State is the append-only persistence backend for revenue events.
type State interface {
	EventGet(id string) (*Event, bool, error)
	EventPut(event *Event) error
	EventsByAgreement(agreementID string) ([]*Event, error)
}

// Settler is the external settlement channel. Implementations must be
// idempotent per request EventID and should wrap retryable failures with
// ErrSettlementTransient.
type Settler interface {
	Distribute(ctx context.Context, req SettlementRequest) (handle string, err error)
}

// Engine appends revenue events against agreements, computes splits, and
// serializes the external distribution call.
type Engine struct {
	store   *agreement.Store
	state   State
	settler Settler
	emitter common.Emitter
	nowFn   func() time.Time

	policy      RoundingPolicy
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// EngineOption customises the engine instance.
type EngineOption func(*Engine)

// WithSettler supplies the settlement channel implementation.
func WithSettler(s Settler) EngineOption {
	return func(e *Engine) { e.settler = s }
}

// WithEmitter supplies the event emitter.
func WithEmitter(emitter common.Emitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithClock overrides the time source used for deterministic testing.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithRoundingPolicy selects which party absorbs split remainders.
func WithRoundingPolicy(policy RoundingPolicy) EngineOption {
	return func(e *Engine) {
		if policy.Valid() {
			e.policy = policy
		}
	}
}

// WithRetryBudget bounds the settlement retry loop.
func WithRetryBudget(attempts int, base, cap time.Duration) EngineOption {
	return func(e *Engine) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
		if base > 0 {
			e.baseBackoff = base
		}
		if cap > 0 {
			e.maxBackoff = cap
		}
	}
}

// NewEngine constructs a revenue ledger bound to the supplied agreement store
// and event state.
func NewEngine(store *agreement.Store, state State, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		state:       state,
		emitter:     common.NoopEmitter{},
		nowFn:       time.Now,
		policy:      RemainderToPlatform,
		maxAttempts: 5,
		baseBackoff: time.Second,
		maxBackoff:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(evt common.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// RecordRevenue appends an immutable revenue event with the computed split.
// The shares are fixed at creation time regardless of settlement timing: the
// counterparty share is floored at the currency precision and the platform
// absorbs the remainder under the default policy.
func (e *Engine) RecordRevenue(agreementID string, gross *big.Int, currencyCode string) (*Event, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.store == nil {
		return nil, errNilStore
	}
	if gross == nil || gross.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	currencyCode = strings.ToUpper(strings.TrimSpace(currencyCode))
	if currencyCode == "" {
		return nil, ErrInvalidAmount
	}

	release := e.store.Guard(agreementID)
	defer release()

	ag, err := e.store.Get(agreementID)
	if err != nil {
		return nil, err
	}
	if ag.LifecycleState == agreement.StateSuspended {
		return nil, ErrAgreementSuspended
	}
	counterparty, platform, err := ComputeSplit(gross, ag.SplitRatios, e.policy)
	if err != nil {
		return nil, err
	}
	evt := &Event{
		EventID:           uuid.NewString(),
		AgreementID:       agreementID,
		GrossAmount:       new(big.Int).Set(gross),
		CurrencyCode:      currencyCode,
		CounterpartyShare: counterparty,
		PlatformShare:     platform,
		RecordedAt:        e.nowFn().UTC(),
	}
	if err := e.state.EventPut(evt); err != nil {
		return nil, err
	}
	e.emit(RecordedEvent(evt))
	return evt.Clone(), nil
}

// Distribute invokes the external settlement channel for the event, at most
// once effectively: the idempotency key is the event ID and an event that
// already carries a settlement handle is returned as-is. The remote call runs
// outside the agreement guard so a slow channel never blocks revenue
// recording; only the handle write-back reacquires it.
func (e *Engine) Distribute(ctx context.Context, eventID string) (*Event, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.settler == nil {
		return nil, errNilSettler
	}
	evt, ok, err := e.state.EventGet(eventID)
	if err != nil {
		return nil, err
	}
	if !ok || evt == nil {
		return nil, ErrEventNotFound
	}
	if evt.Settled() {
		return evt, nil
	}
	ag, err := e.store.Get(evt.AgreementID)
	if err != nil {
		return nil, err
	}
	switch ag.LifecycleState {
	case agreement.StateSuspended:
		return evt, ErrAgreementSuspended
	case agreement.StateViolated:
		return evt, ErrComplianceHold
	}

	req := SettlementRequest{
		EventID:              evt.EventID,
		CurrencyCode:         evt.CurrencyCode,
		CounterpartyIdentity: ag.CounterpartyIdentity,
		CounterpartyShare:    new(big.Int).Set(evt.CounterpartyShare),
		PlatformIdentity:     ag.PlatformIdentity,
		PlatformShare:        new(big.Int).Set(evt.PlatformShare),
	}
	handle, err := e.settleWithRetry(ctx, req)
	if err != nil {
		e.emit(SettlementFailedEvent(evt, err))
		return evt, err
	}

	release := e.store.Guard(evt.AgreementID)
	defer release()
	current, ok, err := e.state.EventGet(eventID)
	if err != nil {
		return nil, err
	}
	if !ok || current == nil {
		return nil, ErrEventNotFound
	}
	if current.Settled() {
		return current, nil
	}
	current.SettlementHandle = handle
	if err := e.state.EventPut(current); err != nil {
		return nil, err
	}
	e.emit(SettledEvent(current))
	return current.Clone(), nil
}

// settleWithRetry calls the settlement channel with bounded exponential
// backoff. Non-transient errors abort immediately; cancellation stops further
// attempts without touching the persisted event.
func (e *Engine) settleWithRetry(ctx context.Context, req SettlementRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		handle, err := e.settler.Distribute(ctx, req)
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, ErrSettlementTransient) {
			return "", err
		}
		lastErr = err
		if attempt == e.maxAttempts {
			break
		}
		timer := time.NewTimer(e.backoffDuration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

func (e *Engine) backoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := e.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.maxBackoff {
			return e.maxBackoff
		}
	}
	if d > e.maxBackoff {
		return e.maxBackoff
	}
	return d
}

// Summarize folds the agreement's events into running totals. It has no side
// effects and is safe to call concurrently with writers.
func (e *Engine) Summarize(agreementID string) (*Summary, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.store != nil {
		if _, err := e.store.Get(agreementID); err != nil {
			return nil, err
		}
	}
	events, err := e.state.EventsByAgreement(agreementID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		AgreementID:       agreementID,
		TotalRevenue:      big.NewInt(0),
		CounterpartyTotal: big.NewInt(0),
		PlatformTotal:     big.NewInt(0),
	}
	for _, evt := range events {
		if evt == nil {
			continue
		}
		summary.TotalRevenue.Add(summary.TotalRevenue, evt.GrossAmount)
		summary.CounterpartyTotal.Add(summary.CounterpartyTotal, evt.CounterpartyShare)
		summary.PlatformTotal.Add(summary.PlatformTotal, evt.PlatformShare)
		summary.EventCount++
		if summary.CurrencyCode == "" {
			summary.CurrencyCode = evt.CurrencyCode
		}
		if !evt.Settled() {
			summary.PendingSettlements++
		}
	}
	return summary, nil
}

// Event returns the recorded event or ErrEventNotFound.
func (e *Engine) Event(eventID string) (*Event, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	evt, ok, err := e.state.EventGet(eventID)
	if err != nil {
		return nil, err
	}
	if !ok || evt == nil {
		return nil, ErrEventNotFound
	}
	return evt, nil
}

// Events returns the agreement's events ordered as persisted.
func (e *Engine) Events(agreementID string) ([]*Event, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EventsByAgreement(agreementID)
}
