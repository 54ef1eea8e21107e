package revenue

import (
	"math/big"
	"time"
)

// Event is one recorded unit of tracked revenue. Events are append-only and
// immutable once the settlement handle is set.
type Event struct {
	EventID           string    `json:"eventId"`
	AgreementID       string    `json:"agreementId"`
	GrossAmount       *big.Int  `json:"grossAmount"`
	CurrencyCode      string    `json:"currencyCode"`
	CounterpartyShare *big.Int  `json:"counterpartyShare"`
	PlatformShare     *big.Int  `json:"platformShare"`
	SettlementHandle  string    `json:"settlementHandle,omitempty"`
	RecordedAt        time.Time `json:"recordedAt"`
}

// Settled reports whether the external settlement channel has acknowledged
// distribution of this event.
func (e *Event) Settled() bool {
	return e != nil && e.SettlementHandle != ""
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.GrossAmount != nil {
		clone.GrossAmount = new(big.Int).Set(e.GrossAmount)
	}
	if e.CounterpartyShare != nil {
		clone.CounterpartyShare = new(big.Int).Set(e.CounterpartyShare)
	}
	if e.PlatformShare != nil {
		clone.PlatformShare = new(big.Int).Set(e.PlatformShare)
	}
	return &clone
}

// Summary is a pure fold over one agreement's events.
type Summary struct {
	AgreementID        string   `json:"agreementId"`
	CurrencyCode       string   `json:"currencyCode,omitempty"`
	TotalRevenue       *big.Int `json:"totalRevenue"`
	CounterpartyTotal  *big.Int `json:"counterpartyTotal"`
	PlatformTotal      *big.Int `json:"platformTotal"`
	EventCount         int      `json:"eventCount"`
	PendingSettlements int      `json:"pendingSettlements"`
}

// SettlementRequest carries the fixed share computation to the external
// settlement channel. The remote side is assumed idempotent per EventID.
type SettlementRequest struct {
	EventID              string
	CurrencyCode         string
	CounterpartyIdentity string
	CounterpartyShare    *big.Int
	PlatformIdentity     string
	PlatformShare        *big.Int
}
