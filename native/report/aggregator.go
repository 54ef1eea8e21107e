// Package report produces time-windowed summaries across the agreement store,
// revenue ledger, and compliance monitor. All reads are side-effect free and
// safe to run concurrently with writers.
package report

import (
	"errors"
	"math/big"
	"time"

	"attribledger/native/agreement"
	"attribledger/native/compliance"
	"attribledger/native/revenue"
)

var errNilSource = errors.New("reporting aggregator: sources not configured")

// Breakdown summarises one agreement's in-window activity.
type Breakdown struct {
	AgreementID       string                   `json:"agreementId"`
	ProjectID         string                   `json:"projectId"`
	LifecycleState    agreement.LifecycleState `json:"lifecycleState"`
	CurrencyCode      string                   `json:"currencyCode,omitempty"`
	EventCount        int                      `json:"eventCount"`
	TotalRevenue      *big.Int                 `json:"totalRevenue"`
	CounterpartyTotal *big.Int                 `json:"counterpartyTotal"`
	PlatformTotal     *big.Int                 `json:"platformTotal"`
	PendingSettlement int                      `json:"pendingSettlements"`
	LatestScore       *float64                 `json:"latestComplianceScore,omitempty"`
}

// Report is a time-windowed fold over the three stores. The counterparty is
// the content owner, so its total is surfaced as the founder share.
type Report struct {
	Window        time.Duration `json:"-"`
	WindowSeconds int64         `json:"windowSeconds"`
	GeneratedAt   time.Time     `json:"generatedAt"`
	ContractCount int           `json:"contractCount"`
	ActiveCount   int           `json:"activeCount"`
	CurrencyCode  string        `json:"currencyCode,omitempty"`
	TotalRevenue  *big.Int      `json:"totalRevenue"`
	FounderShare  *big.Int      `json:"founderShare"`
	PlatformShare *big.Int      `json:"platformShare"`
	PerContract   []Breakdown   `json:"perContractBreakdown"`
}

// Aggregator reads agreement, revenue, and compliance state on demand.
type Aggregator struct {
	store      *agreement.Store
	events     revenue.State
	compliance compliance.State
	nowFn      func() time.Time
}

// AggregatorOption customises the aggregator instance.
type AggregatorOption func(*Aggregator)

// WithClock overrides the time source used for deterministic testing.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.nowFn = now
		}
	}
}

// NewAggregator constructs a reporting aggregator over the supplied sources.
func NewAggregator(store *agreement.Store, events revenue.State, complianceState compliance.State, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:      store,
		events:     events,
		compliance: complianceState,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Report folds all state inside [now - window, now]. Agreements with no
// in-window revenue events are counted in contract totals but omitted from the
// per-contract breakdown.
func (a *Aggregator) Report(window time.Duration) (*Report, error) {
	if a == nil || a.store == nil || a.events == nil || a.compliance == nil {
		return nil, errNilSource
	}
	now := a.nowFn().UTC()
	cutoff := now.Add(-window)

	agreements, err := a.store.List()
	if err != nil {
		return nil, err
	}
	out := &Report{
		Window:        window,
		WindowSeconds: int64(window / time.Second),
		GeneratedAt:   now,
		TotalRevenue:  big.NewInt(0),
		FounderShare:  big.NewInt(0),
		PlatformShare: big.NewInt(0),
		PerContract:   []Breakdown{},
	}
	currencies := map[string]struct{}{}
	for _, ag := range agreements {
		if ag == nil {
			continue
		}
		out.ContractCount++
		if ag.LifecycleState == agreement.StateDeployed {
			out.ActiveCount++
		}
		breakdown, err := a.breakdown(ag, cutoff, now)
		if err != nil {
			return nil, err
		}
		if breakdown.EventCount == 0 {
			continue
		}
		out.TotalRevenue.Add(out.TotalRevenue, breakdown.TotalRevenue)
		out.FounderShare.Add(out.FounderShare, breakdown.CounterpartyTotal)
		out.PlatformShare.Add(out.PlatformShare, breakdown.PlatformTotal)
		if breakdown.CurrencyCode != "" {
			currencies[breakdown.CurrencyCode] = struct{}{}
		}
		out.PerContract = append(out.PerContract, breakdown)
	}
	if len(currencies) == 1 {
		for code := range currencies {
			out.CurrencyCode = code
		}
	}
	return out, nil
}

func (a *Aggregator) breakdown(ag *agreement.Agreement, cutoff, now time.Time) (Breakdown, error) {
	breakdown := Breakdown{
		AgreementID:       ag.AgreementID,
		ProjectID:         ag.ProjectID,
		LifecycleState:    ag.LifecycleState,
		TotalRevenue:      big.NewInt(0),
		CounterpartyTotal: big.NewInt(0),
		PlatformTotal:     big.NewInt(0),
	}
	events, err := a.events.EventsByAgreement(ag.AgreementID)
	if err != nil {
		return breakdown, err
	}
	for _, evt := range events {
		if evt == nil || evt.RecordedAt.Before(cutoff) || evt.RecordedAt.After(now) {
			continue
		}
		breakdown.EventCount++
		breakdown.TotalRevenue.Add(breakdown.TotalRevenue, evt.GrossAmount)
		breakdown.CounterpartyTotal.Add(breakdown.CounterpartyTotal, evt.CounterpartyShare)
		breakdown.PlatformTotal.Add(breakdown.PlatformTotal, evt.PlatformShare)
		if breakdown.CurrencyCode == "" {
			breakdown.CurrencyCode = evt.CurrencyCode
		}
		if !evt.Settled() {
			breakdown.PendingSettlement++
		}
	}
	records, err := a.compliance.RecordsByAgreement(ag.AgreementID)
	if err != nil {
		return breakdown, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if record == nil || record.EvaluatedAt.Before(cutoff) || record.EvaluatedAt.After(now) {
			continue
		}
		score := record.Score
		breakdown.LatestScore = &score
		break
	}
	return breakdown, nil
}
