package compliance

import "sync"

// MemoryState is an in-memory State implementation.
type MemoryState struct {
	mu        sync.RWMutex
	baselines map[string][]Requirement
	records   map[string][]*Record
}

// NewMemoryState constructs an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		baselines: make(map[string][]Requirement),
		records:   make(map[string][]*Record),
	}
}

// BaselineGet implements State.
func (m *MemoryState) BaselineGet(agreementID string) ([]Requirement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reqs, ok := m.baselines[agreementID]
	if !ok {
		return nil, false, nil
	}
	return append([]Requirement(nil), reqs...), true, nil
}

// BaselinePut implements State.
func (m *MemoryState) BaselinePut(agreementID string, requirements []Requirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[agreementID] = append([]Requirement(nil), requirements...)
	return nil
}

// RecordPut implements State.
func (m *MemoryState) RecordPut(record *Record) error {
	if record == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.AgreementID] = append(m.records[record.AgreementID], record.Clone())
	return nil
}

// RecordsByAgreement implements State.
func (m *MemoryState) RecordsByAgreement(agreementID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.records[agreementID]
	out := make([]*Record, 0, len(records))
	for _, record := range records {
		out = append(out, record.Clone())
	}
	return out, nil
}

// LatestRecord implements State.
func (m *MemoryState) LatestRecord(agreementID string) (*Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.records[agreementID]
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[len(records)-1].Clone(), true, nil
}
