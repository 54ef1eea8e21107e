package fingerprint

import "sync"

// MemoryState is an in-memory State implementation.
type MemoryState struct {
	mu        sync.RWMutex
	byProject map[string]*Fingerprint
	byToken   map[string]string
}

// NewMemoryState constructs an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		byProject: make(map[string]*Fingerprint),
		byToken:   make(map[string]string),
	}
}

// FingerprintGet implements State.
func (m *MemoryState) FingerprintGet(projectID string) (*Fingerprint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fp, ok := m.byProject[projectID]
	if !ok {
		return nil, false, nil
	}
	return fp.Clone(), true, nil
}

// FingerprintPut implements State.
func (m *MemoryState) FingerprintPut(fp *Fingerprint) error {
	if fp == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byProject[fp.ProjectID] = fp.Clone()
	m.byToken[fp.Token] = fp.ProjectID
	return nil
}

// FingerprintByToken implements State.
func (m *MemoryState) FingerprintByToken(token string) (*Fingerprint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	projectID, ok := m.byToken[token]
	if !ok {
		return nil, false, nil
	}
	fp, ok := m.byProject[projectID]
	if !ok {
		return nil, false, nil
	}
	return fp.Clone(), true, nil
}
