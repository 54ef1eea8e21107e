package revenue

import "sync"

// MemoryState is an in-memory, append-only State implementation.
type MemoryState struct {
	mu          sync.RWMutex
	events      map[string]*Event
	byAgreement map[string][]string
}

// NewMemoryState constructs an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		events:      make(map[string]*Event),
		byAgreement: make(map[string][]string),
	}
}

// EventGet implements State.
func (m *MemoryState) EventGet(id string) (*Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evt, ok := m.events[id]
	if !ok {
		return nil, false, nil
	}
	return evt.Clone(), true, nil
}

// EventPut implements State.
func (m *MemoryState) EventPut(evt *Event) error {
	if evt == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[evt.EventID]; !exists {
		m.byAgreement[evt.AgreementID] = append(m.byAgreement[evt.AgreementID], evt.EventID)
	}
	m.events[evt.EventID] = evt.Clone()
	return nil
}

// EventsByAgreement implements State. Events are returned in append order.
func (m *MemoryState) EventsByAgreement(agreementID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byAgreement[agreementID]
	out := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if evt, ok := m.events[id]; ok {
			out = append(out, evt.Clone())
		}
	}
	return out, nil
}
