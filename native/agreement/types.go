package agreement

import "time"

// LifecycleState enumerates the states a revenue-sharing agreement moves through.
type LifecycleState string

const (
	// StateCreated marks an agreement that has been approved for monetization
	// but whose settlement channel has not acknowledged registration yet.
	StateCreated LifecycleState = "created"
	// StateDeployed marks an agreement registered with the settlement channel
	// and eligible to record and distribute revenue.
	StateDeployed LifecycleState = "deployed"
	// StateViolated marks an agreement whose compliance score fell below the
	// configured floor. Revenue may still be recorded but distribution is gated.
	StateViolated LifecycleState = "violated"
	// StateSuspended marks an agreement paused by an operator. No revenue
	// events are accepted while suspended.
	StateSuspended LifecycleState = "suspended"
)

// Valid reports whether the state is one of the known lifecycle states.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateCreated, StateDeployed, StateViolated, StateSuspended:
		return true
	}
	return false
}

// Split ratio role keys. Ratios are keyed by the party's role in the contract.
const (
	RoleCounterparty = "counterparty"
	RolePlatform     = "platform"
)

// SplitEpsilon is the tolerance applied when checking that ratios sum to one.
const SplitEpsilon = 1e-9

// Agreement represents a revenue-sharing contract for one project.
type Agreement struct {
	AgreementID          string             `json:"agreementId"`
	ProjectID            string             `json:"projectId"`
	CounterpartyIdentity string             `json:"counterpartyIdentity"`
	PlatformIdentity     string             `json:"platformIdentity"`
	SplitRatios          map[string]float64 `json:"splitRatios"`
	SettlementReference  string             `json:"settlementReference,omitempty"`
	FingerprintToken     string             `json:"fingerprintToken,omitempty"`
	LifecycleState       LifecycleState     `json:"lifecycleState"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy of the agreement.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.SplitRatios != nil {
		clone.SplitRatios = make(map[string]float64, len(a.SplitRatios))
		for role, ratio := range a.SplitRatios {
			clone.SplitRatios[role] = ratio
		}
	}
	return &clone
}

// CounterpartyRatio returns the fraction of gross revenue allocated to the
// counterparty (content owner).
func (a *Agreement) CounterpartyRatio() float64 {
	if a == nil || a.SplitRatios == nil {
		return 0
	}
	return a.SplitRatios[RoleCounterparty]
}

// PlatformRatio returns the fraction of gross revenue allocated to the platform.
func (a *Agreement) PlatformRatio() float64 {
	if a == nil || a.SplitRatios == nil {
		return 0
	}
	return a.SplitRatios[RolePlatform]
}
