package compliance

import (
	"sync"
	"time"
)

// Correction is a remediation request queued for the external generation
// pipeline. The monitor only flags eligibility; it never remediates itself.
type Correction struct {
	AgreementID string    `json:"agreementId"`
	Violation   Violation `json:"violation"`
	QueuedAt    time.Time `json:"queuedAt"`
}

// CorrectionQueue is a bounded in-memory Corrector. Once full, the oldest
// pending request is dropped in favour of the newest.
type CorrectionQueue struct {
	mu       sync.Mutex
	pending  []Correction
	capacity int
	nowFn    func() time.Time
}

const defaultCorrectionCapacity = 512

// NewCorrectionQueue constructs a queue retaining up to capacity requests.
func NewCorrectionQueue(capacity int) *CorrectionQueue {
	if capacity <= 0 {
		capacity = defaultCorrectionCapacity
	}
	return &CorrectionQueue{capacity: capacity, nowFn: time.Now}
}

// EnqueueCorrection implements Corrector.
func (q *CorrectionQueue) EnqueueCorrection(agreementID string, violation Violation) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.capacity {
		copy(q.pending, q.pending[1:])
		q.pending = q.pending[:len(q.pending)-1]
	}
	q.pending = append(q.pending, Correction{
		AgreementID: agreementID,
		Violation:   violation,
		QueuedAt:    q.nowFn().UTC(),
	})
}

// Drain removes and returns every pending correction, oldest first.
func (q *CorrectionQueue) Drain() []Correction {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Pending returns a snapshot of queued corrections without removing them.
func (q *CorrectionQueue) Pending() []Correction {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Correction, len(q.pending))
	copy(out, q.pending)
	return out
}
