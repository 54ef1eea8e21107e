package compliance

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"attribledger/native/agreement"
	"attribledger/native/common"
)

const (
	// DefaultViolationFloor is the score below which a Deployed agreement
	// transitions to Violated.
	DefaultViolationFloor = 0.6
	// DefaultRecoveryFloor is the score at or above which a Violated
	// agreement returns to Deployed.
	DefaultRecoveryFloor = 0.9
)

var (
	errNilState = errors.New("compliance monitor: state not configured")
	errNilStore = errors.New("compliance monitor: agreement store not configured")
)

// State persists contracted baselines and the append-only evaluation log.
type State interface {
	BaselineGet(agreementID string) ([]Requirement, bool, error)
	BaselinePut(agreementID string, requirements []Requirement) error
	RecordPut(record *Record) error
	RecordsByAgreement(agreementID string) ([]*Record, error)
	LatestRecord(agreementID string) (*Record, bool, error)
}

// Corrector receives violations flagged auto-correctable. The monitor only
// flags eligibility; remediation itself belongs to the generation pipeline.
type Corrector interface {
	EnqueueCorrection(agreementID string, violation Violation)
}

type noopCorrector struct{}

func (noopCorrector) EnqueueCorrection(string, Violation) {}

// Monitor scores a project's technical output against its contracted baseline
// and is the only writer permitted to request Violated/Deployed transitions.
type Monitor struct {
	store     *agreement.Store
	state     State
	emitter   common.Emitter
	corrector Corrector
	nowFn     func() time.Time

	violationFloor float64
	recoveryFloor  float64
}

// MonitorOption customises the monitor instance.
type MonitorOption func(*Monitor)

// WithEmitter supplies the event emitter.
func WithEmitter(emitter common.Emitter) MonitorOption {
	return func(m *Monitor) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// WithCorrector supplies the remediation queue for auto-correctable violations.
func WithCorrector(c Corrector) MonitorOption {
	return func(m *Monitor) {
		if c != nil {
			m.corrector = c
		}
	}
}

// WithClock overrides the time source used for deterministic testing.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.nowFn = now
		}
	}
}

// WithFloors overrides the violation and recovery thresholds. Values outside
// (0, 1] keep the defaults.
func WithFloors(violation, recovery float64) MonitorOption {
	return func(m *Monitor) {
		if violation > 0 && violation <= 1 {
			m.violationFloor = violation
		}
		if recovery > 0 && recovery <= 1 {
			m.recoveryFloor = recovery
		}
	}
}

// NewMonitor constructs a compliance monitor bound to the agreement store.
func NewMonitor(store *agreement.Store, state State, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:          store,
		state:          state,
		emitter:        common.NoopEmitter{},
		corrector:      noopCorrector{},
		nowFn:          time.Now,
		violationFloor: DefaultViolationFloor,
		recoveryFloor:  DefaultRecoveryFloor,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) emit(evt common.Event) {
	if m == nil || m.emitter == nil {
		return
	}
	m.emitter.Emit(evt)
}

// SetBaseline replaces the contracted requirement checks for the agreement.
func (m *Monitor) SetBaseline(agreementID string, requirements []Requirement) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.store == nil {
		return errNilStore
	}
	if _, err := m.store.Get(agreementID); err != nil {
		return err
	}
	cleaned := make([]Requirement, 0, len(requirements))
	for _, req := range requirements {
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			continue
		}
		if req.Priority == "" {
			req.Priority = PriorityMedium
		}
		cleaned = append(cleaned, req)
	}
	return m.state.BaselinePut(agreementID, cleaned)
}

// Baseline returns the contracted requirements for the agreement.
func (m *Monitor) Baseline(agreementID string) ([]Requirement, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	reqs, _, err := m.state.BaselineGet(agreementID)
	return reqs, err
}

// Evaluate scores the current artifact set against the contracted baseline and
// always persists a record. A low score is a normal, recorded outcome, never
// an error. When the score crosses a floor the monitor applies the lifecycle
// transition under the agreement's serialization guard, so it can never race
// an in-flight revenue operation on the same agreement.
func (m *Monitor) Evaluate(agreementID string, artifacts ArtifactSet) (*Record, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if m.store == nil {
		return nil, errNilStore
	}
	if _, err := m.store.Get(agreementID); err != nil {
		return nil, err
	}
	requirements, _, err := m.state.BaselineGet(agreementID)
	if err != nil {
		return nil, err
	}

	record := &Record{
		RecordID:          uuid.NewString(),
		AgreementID:       agreementID,
		EvaluatedAt:       m.nowFn().UTC(),
		Requirements:      append([]Requirement(nil), requirements...),
		RequirementsTotal: len(requirements),
	}
	for _, req := range requirements {
		content, ok := artifacts[req.Artifact]
		switch {
		case !ok:
			record.Violations = append(record.Violations, Violation{
				RequirementName: req.Name,
				Kind:            ViolationMissingArtifact,
				AutoCorrectable: req.AutoCorrectable,
			})
		case req.Pattern != "" && !strings.Contains(content, req.Pattern):
			record.Violations = append(record.Violations, Violation{
				RequirementName: req.Name,
				Kind:            ViolationBaselineMismatch,
				AutoCorrectable: req.AutoCorrectable,
			})
		default:
			record.RequirementsMet++
		}
	}
	record.Score = scoreOf(record.RequirementsMet, record.RequirementsTotal)

	if err := m.persistAndTransition(record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// RecordUnauthorizedUsage files fingerprint-detected reuse as compliance
// evidence against the agreement. The record carries a single unmet
// authorized-use requirement, so detected misuse gates further distribution
// the same way a failed baseline evaluation does.
func (m *Monitor) RecordUnauthorizedUsage(agreementID, source string) (*Record, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if m.store == nil {
		return nil, errNilStore
	}
	if _, err := m.store.Get(agreementID); err != nil {
		return nil, err
	}
	req := Requirement{
		Name:     "authorized-use",
		Priority: PriorityCritical,
		Artifact: strings.TrimSpace(source),
	}
	record := &Record{
		RecordID:          uuid.NewString(),
		AgreementID:       agreementID,
		EvaluatedAt:       m.nowFn().UTC(),
		Requirements:      []Requirement{req},
		RequirementsTotal: 1,
		Score:             0,
		Violations: []Violation{{
			RequirementName: req.Name,
			Kind:            ViolationUnauthorizedReuse,
		}},
	}
	if err := m.persistAndTransition(record); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// persistAndTransition stores the record, queues auto-correctable violations,
// and applies any floor-crossing lifecycle transition under the guard.
func (m *Monitor) persistAndTransition(record *Record) error {
	if err := m.state.RecordPut(record); err != nil {
		return err
	}
	m.emit(EvaluatedEvent(record))
	for _, v := range record.Violations {
		if v.AutoCorrectable {
			m.corrector.EnqueueCorrection(record.AgreementID, v)
		}
	}

	release := m.store.Guard(record.AgreementID)
	defer release()
	ag, err := m.store.Get(record.AgreementID)
	if err != nil {
		return err
	}
	switch {
	case record.Score < m.violationFloor && ag.LifecycleState == agreement.StateDeployed:
		if _, err := m.store.TransitionCompliance(record.AgreementID, agreement.StateViolated); err != nil {
			return err
		}
		m.emit(ViolationEvent(record))
	case record.Score >= m.recoveryFloor && ag.LifecycleState == agreement.StateViolated:
		if _, err := m.store.TransitionCompliance(record.AgreementID, agreement.StateDeployed); err != nil {
			return err
		}
		m.emit(RecoveredEvent(record))
	}
	return nil
}

// Latest returns the most recent evaluation record for the agreement.
func (m *Monitor) Latest(agreementID string) (*Record, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if m.store == nil {
		return nil, errNilStore
	}
	if _, err := m.store.Get(agreementID); err != nil {
		return nil, err
	}
	record, ok, err := m.state.LatestRecord(agreementID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return record, nil
}

// History returns every evaluation record for the agreement in append order.
func (m *Monitor) History(agreementID string) ([]*Record, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	return m.state.RecordsByAgreement(agreementID)
}

// scoreOf computes met/total; an empty baseline counts as fully compliant.
func scoreOf(met, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(met) / float64(total)
}
