package agreement

import "sync"

// MemoryState is an in-memory State implementation. It backs ephemeral gateway
// deployments and engine tests in other packages.
type MemoryState struct {
	mu         sync.RWMutex
	agreements map[string]*Agreement
	byProject  map[string]string
}

// NewMemoryState constructs an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		agreements: make(map[string]*Agreement),
		byProject:  make(map[string]string),
	}
}

// AgreementGet implements State.
func (m *MemoryState) AgreementGet(id string) (*Agreement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ag, ok := m.agreements[id]
	if !ok {
		return nil, false, nil
	}
	return ag.Clone(), true, nil
}

// AgreementPut implements State.
func (m *MemoryState) AgreementPut(ag *Agreement) error {
	if ag == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agreements[ag.AgreementID] = ag.Clone()
	m.byProject[ag.ProjectID] = ag.AgreementID
	return nil
}

// AgreementByProject implements State.
func (m *MemoryState) AgreementByProject(projectID string) (*Agreement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProject[projectID]
	if !ok {
		return nil, false, nil
	}
	ag, ok := m.agreements[id]
	if !ok {
		return nil, false, nil
	}
	return ag.Clone(), true, nil
}

// AgreementList implements State.
func (m *MemoryState) AgreementList() ([]*Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Agreement, 0, len(m.agreements))
	for _, ag := range m.agreements {
		out = append(out, ag.Clone())
	}
	return out, nil
}
