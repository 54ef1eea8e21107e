package agreement

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"attribledger/native/common"
)

var (
	// ErrNotFound is returned when the referenced agreement does not exist.
	ErrNotFound = errors.New("agreement store: agreement not found")
	// ErrInvalidSplit is returned when split ratios are negative or do not sum to one.
	ErrInvalidSplit = errors.New("agreement store: split ratios must be non-negative and sum to 1.0")
	// ErrDuplicateAgreement is returned when an active agreement already exists for the project.
	ErrDuplicateAgreement = errors.New("agreement store: active agreement already exists for project")
	// ErrInvalidTransition is returned when a lifecycle guard rejects a state change.
	ErrInvalidTransition = errors.New("agreement store: invalid lifecycle transition")
	// ErrIdentityRequired is returned when a party identity is blank.
	ErrIdentityRequired = errors.New("agreement store: party identity required")

	errNilState = errors.New("agreement store: state not configured")
)

// State is the persistence backend the store operates against. Implementations
// must return defensive copies so callers never alias stored records.
type State interface {
	AgreementGet(id string) (*Agreement, bool, error)
	AgreementPut(agreement *Agreement) error
	AgreementByProject(projectID string) (*Agreement, bool, error)
	AgreementList() ([]*Agreement, error)
}

// Store owns agreement persistence and is the sole authority over lifecycle
// transitions. It also provides the per-agreement serialization point shared
// with the revenue ledger and compliance monitor.
type Store struct {
	state   State
	emitter common.Emitter
	nowFn   func() time.Time

	guardMu sync.Mutex
	guards  map[string]*sync.Mutex
}

// StoreOption customises the store instance.
type StoreOption func(*Store)

// WithEmitter supplies the event emitter used for lifecycle announcements.
func WithEmitter(emitter common.Emitter) StoreOption {
	return func(s *Store) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithClock overrides the time source used for deterministic testing.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an agreement store backed by the supplied state.
func NewStore(state State, opts ...StoreOption) *Store {
	s := &Store{
		state:   state,
		emitter: common.NoopEmitter{},
		nowFn:   time.Now,
		guards:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard acquires the serialization lock for the supplied agreement and returns
// the release function. All mutations scoped to a single agreement (revenue
// event creation, distribution bookkeeping, compliance transitions) must run
// under this lock. Guards for different agreements are independent and no
// caller ever holds two guards at once.
func (s *Store) Guard(agreementID string) func() {
	s.guardMu.Lock()
	mu, ok := s.guards[agreementID]
	if !ok {
		mu = &sync.Mutex{}
		s.guards[agreementID] = mu
	}
	s.guardMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Store) emit(evt common.Event) {
	if s == nil || s.emitter == nil {
		return
	}
	s.emitter.Emit(evt)
}

// ValidateSplits checks that every ratio is non-negative and the ratios sum to
// one within SplitEpsilon.
func ValidateSplits(splits map[string]float64) error {
	if len(splits) == 0 {
		return ErrInvalidSplit
	}
	sum := 0.0
	for _, ratio := range splits {
		if ratio < 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			return ErrInvalidSplit
		}
		sum += ratio
	}
	if math.Abs(sum-1.0) > SplitEpsilon {
		return ErrInvalidSplit
	}
	return nil
}

// CreateAgreement persists a new agreement in the Created state. It fails with
// ErrInvalidSplit on malformed ratios and ErrDuplicateAgreement when a
// non-suspended agreement already exists for the project.
func (s *Store) CreateAgreement(projectID, counterpartyIdentity, platformIdentity string, splits map[string]float64) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ErrNotFound
	}
	counterpartyIdentity = strings.TrimSpace(counterpartyIdentity)
	platformIdentity = strings.TrimSpace(platformIdentity)
	if counterpartyIdentity == "" || platformIdentity == "" {
		return nil, ErrIdentityRequired
	}
	if err := ValidateSplits(splits); err != nil {
		return nil, err
	}

	release := s.Guard("project/" + projectID)
	defer release()

	if existing, ok, err := s.state.AgreementByProject(projectID); err != nil {
		return nil, err
	} else if ok && existing != nil && existing.LifecycleState != StateSuspended {
		return nil, ErrDuplicateAgreement
	}

	now := s.nowFn().UTC()
	ratios := make(map[string]float64, len(splits))
	for role, ratio := range splits {
		ratios[role] = ratio
	}
	ag := &Agreement{
		AgreementID:          uuid.NewString(),
		ProjectID:            projectID,
		CounterpartyIdentity: counterpartyIdentity,
		PlatformIdentity:     platformIdentity,
		SplitRatios:          ratios,
		LifecycleState:       StateCreated,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.state.AgreementPut(ag); err != nil {
		return nil, err
	}
	s.emit(CreatedEvent(ag))
	return ag.Clone(), nil
}

// MarkDeployed records the settlement channel acknowledgement and moves the
// agreement from Created to Deployed. Split ratios are frozen from this point.
func (s *Store) MarkDeployed(agreementID, settlementReference string) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	release := s.Guard(agreementID)
	defer release()

	ag, ok, err := s.state.AgreementGet(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	if ag.LifecycleState != StateCreated {
		return nil, ErrInvalidTransition
	}
	ag.SettlementReference = strings.TrimSpace(settlementReference)
	ag.LifecycleState = StateDeployed
	ag.UpdatedAt = s.nowFn().UTC()
	if err := s.state.AgreementPut(ag); err != nil {
		return nil, err
	}
	s.emit(DeployedEvent(ag))
	return ag.Clone(), nil
}

// TransitionCompliance applies a compliance-driven transition between Deployed
// and Violated (either direction, also recoverable from Suspended). Any other
// request fails with ErrInvalidTransition. This is the sole mutation path
// exposed to the compliance monitor.
//
// The caller must hold the agreement's Guard; the store does not reacquire it
// here so the transition stays atomic with the evaluation that triggered it.
func (s *Store) TransitionCompliance(agreementID string, to LifecycleState) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	if to != StateDeployed && to != StateViolated {
		return nil, ErrInvalidTransition
	}
	ag, ok, err := s.state.AgreementGet(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	from := ag.LifecycleState
	allowed := false
	switch from {
	case StateDeployed:
		allowed = to == StateViolated
	case StateViolated:
		allowed = to == StateDeployed
	case StateSuspended:
		allowed = true
	}
	if !allowed {
		return nil, ErrInvalidTransition
	}
	ag.LifecycleState = to
	ag.UpdatedAt = s.nowFn().UTC()
	if err := s.state.AgreementPut(ag); err != nil {
		return nil, err
	}
	s.emit(ComplianceTransitionEvent(ag, from))
	return ag.Clone(), nil
}

// Suspend pauses the agreement. Suspension is an operator action reachable
// from Deployed or Violated; no revenue events are accepted while suspended.
func (s *Store) Suspend(agreementID string) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	release := s.Guard(agreementID)
	defer release()

	ag, ok, err := s.state.AgreementGet(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	if ag.LifecycleState != StateDeployed && ag.LifecycleState != StateViolated {
		return nil, ErrInvalidTransition
	}
	ag.LifecycleState = StateSuspended
	ag.UpdatedAt = s.nowFn().UTC()
	if err := s.state.AgreementPut(ag); err != nil {
		return nil, err
	}
	s.emit(SuspendedEvent(ag))
	return ag.Clone(), nil
}

// Resume lifts a suspension and returns the agreement to Deployed.
func (s *Store) Resume(agreementID string) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	release := s.Guard(agreementID)
	defer release()

	ag, ok, err := s.state.AgreementGet(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	if ag.LifecycleState != StateSuspended {
		return nil, ErrInvalidTransition
	}
	ag.LifecycleState = StateDeployed
	ag.UpdatedAt = s.nowFn().UTC()
	if err := s.state.AgreementPut(ag); err != nil {
		return nil, err
	}
	s.emit(ResumedEvent(ag))
	return ag.Clone(), nil
}

// SetFingerprint binds the minted provenance token to the agreement. The token
// is write-once; rebinding a different token fails with ErrInvalidTransition.
func (s *Store) SetFingerprint(agreementID, token string) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	release := s.Guard(agreementID)
	defer release()

	ag, ok, err := s.state.AgreementGet(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	token = strings.TrimSpace(token)
	if ag.FingerprintToken != "" && ag.FingerprintToken != token {
		return nil, ErrInvalidTransition
	}
	ag.FingerprintToken = token
	ag.UpdatedAt = s.nowFn().UTC()
	if err := s.state.AgreementPut(ag); err != nil {
		return nil, err
	}
	return ag.Clone(), nil
}

// Get returns the agreement or ErrNotFound.
func (s *Store) Get(agreementID string) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	ag, ok, err := s.state.AgreementGet(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	return ag, nil
}

// ByProject returns the agreement registered for the project, if any.
func (s *Store) ByProject(projectID string) (*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	ag, ok, err := s.state.AgreementByProject(strings.TrimSpace(projectID))
	if err != nil {
		return nil, err
	}
	if !ok || ag == nil {
		return nil, ErrNotFound
	}
	return ag, nil
}

// List returns every stored agreement.
func (s *Store) List() ([]*Agreement, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	return s.state.AgreementList()
}
