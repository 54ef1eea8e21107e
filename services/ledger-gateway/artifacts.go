package main

import (
	"sync"

	"attribledger/native/compliance"
)

// ArtifactStore keeps the latest artifact snapshot pushed by the generation
// pipeline per agreement. The compliance scheduler reads it on every sweep.
type ArtifactStore struct {
	mu        sync.RWMutex
	snapshots map[string]compliance.ArtifactSet
}

// NewArtifactStore constructs an empty snapshot store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{snapshots: make(map[string]compliance.ArtifactSet)}
}

// Update replaces the agreement's artifact snapshot.
func (a *ArtifactStore) Update(agreementID string, artifacts compliance.ArtifactSet) {
	copied := make(compliance.ArtifactSet, len(artifacts))
	for path, content := range artifacts {
		copied[path] = content
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots[agreementID] = copied
}

// ArtifactsFor implements compliance.ArtifactSource.
func (a *ArtifactStore) ArtifactsFor(agreementID string) (compliance.ArtifactSet, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snapshot, ok := a.snapshots[agreementID]
	if !ok {
		return nil, false
	}
	copied := make(compliance.ArtifactSet, len(snapshot))
	for path, content := range snapshot {
		copied[path] = content
	}
	return copied, true
}
