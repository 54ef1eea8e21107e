package compliance

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"attribledger/native/agreement"
	"attribledger/native/common"
)

func testMonitor(t *testing.T) (*Monitor, *agreement.Store, *CorrectionQueue, *common.Recorder) {
	t.Helper()
	recorder := common.NewRecorder(0)
	store := agreement.NewStore(agreement.NewMemoryState(), agreement.WithEmitter(recorder))
	queue := NewCorrectionQueue(0)
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	monitor := NewMonitor(store, NewMemoryState(),
		WithEmitter(recorder),
		WithCorrector(queue),
		WithClock(func() time.Time { return fixed }),
	)
	return monitor, store, queue, recorder
}

func deployedAgreement(t *testing.T, store *agreement.Store) *agreement.Agreement {
	t.Helper()
	ag, err := store.CreateAgreement("proj-1", "owner", "platform",
		map[string]float64{agreement.RoleCounterparty: 0.8, agreement.RolePlatform: 0.2})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	if _, err := store.MarkDeployed(ag.AgreementID, "channel"); err != nil {
		t.Fatalf("mark deployed: %v", err)
	}
	return ag
}

// baseline builds total requirements, each checking for its own artifact.
func baseline(total int) []Requirement {
	reqs := make([]Requirement, 0, total)
	for i := 0; i < total; i++ {
		reqs = append(reqs, Requirement{
			Name:     fmt.Sprintf("req-%d", i),
			Priority: PriorityMedium,
			Artifact: fmt.Sprintf("pkg/file%d.go", i),
		})
	}
	return reqs
}

// artifactsMeeting returns artifacts satisfying the first met requirements of
// the baseline produced by baseline().
func artifactsMeeting(met int) ArtifactSet {
	set := make(ArtifactSet, met)
	for i := 0; i < met; i++ {
		set[fmt.Sprintf("pkg/file%d.go", i)] = "package pkg"
	}
	return set
}

func TestEvaluateFullCompliance(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	if err := monitor.SetBaseline(ag.AgreementID, baseline(4)); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	record, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(4))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.Score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", record.Score)
	}
	if len(record.Violations) != 0 {
		t.Fatalf("expected no violations, got %d", len(record.Violations))
	}
	current, _ := store.Get(ag.AgreementID)
	if current.LifecycleState != agreement.StateDeployed {
		t.Fatalf("full compliance must keep Deployed, got %s", current.LifecycleState)
	}
}

func TestEvaluateLowScoreTransitionsToViolated(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	if err := monitor.SetBaseline(ag.AgreementID, baseline(10)); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	record, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(3))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.Score != 0.3 {
		t.Fatalf("expected score 0.3, got %v", record.Score)
	}
	if record.RequirementsMet != 3 || record.RequirementsTotal != 10 {
		t.Fatalf("unexpected counts %d/%d", record.RequirementsMet, record.RequirementsTotal)
	}
	current, _ := store.Get(ag.AgreementID)
	if current.LifecycleState != agreement.StateViolated {
		t.Fatalf("score below floor must transition to Violated, got %s", current.LifecycleState)
	}
}

func TestEvaluateRecoveryTransitionsBackToDeployed(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	if err := monitor.SetBaseline(ag.AgreementID, baseline(10)); err != nil {
		t.Fatalf("set baseline: %v", err)
	}
	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(3)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// A mid-band score keeps the agreement Violated.
	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(8)); err != nil {
		t.Fatalf("evaluate mid-band: %v", err)
	}
	current, _ := store.Get(ag.AgreementID)
	if current.LifecycleState != agreement.StateViolated {
		t.Fatalf("score 0.8 must not recover below the 0.9 floor, got %s", current.LifecycleState)
	}

	// Reaching the recovery floor restores Deployed.
	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(9)); err != nil {
		t.Fatalf("evaluate recovery: %v", err)
	}
	current, _ = store.Get(ag.AgreementID)
	if current.LifecycleState != agreement.StateDeployed {
		t.Fatalf("score 0.9 must recover to Deployed, got %s", current.LifecycleState)
	}
}

func TestEvaluateMidBandKeepsDeployed(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	if err := monitor.SetBaseline(ag.AgreementID, baseline(10)); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	// 0.7 sits between the floors; a Deployed agreement stays Deployed.
	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(7)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	current, _ := store.Get(ag.AgreementID)
	if current.LifecycleState != agreement.StateDeployed {
		t.Fatalf("mid-band score must keep Deployed, got %s", current.LifecycleState)
	}
}

func TestEvaluateEmptyBaseline(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)

	record, err := monitor.Evaluate(ag.AgreementID, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.Score != 1.0 {
		t.Fatalf("empty baseline must count as fully compliant, got %v", record.Score)
	}
}

func TestEvaluatePatternMismatch(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	reqs := []Requirement{
		{Name: "health-endpoint", Priority: PriorityHigh, Artifact: "server.go", Pattern: "/healthz"},
		{Name: "graceful-shutdown", Priority: PriorityMedium, Artifact: "server.go", Pattern: "Shutdown("},
	}
	if err := monitor.SetBaseline(ag.AgreementID, reqs); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	record, err := monitor.Evaluate(ag.AgreementID, ArtifactSet{
		"server.go": "mux.HandleFunc(\"/healthz\", health)",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if record.RequirementsMet != 1 {
		t.Fatalf("expected one met requirement, got %d", record.RequirementsMet)
	}
	if len(record.Violations) != 1 || record.Violations[0].Kind != ViolationBaselineMismatch {
		t.Fatalf("expected one baseline mismatch, got %+v", record.Violations)
	}
}

func TestEvaluateQueuesAutoCorrectableViolations(t *testing.T) {
	monitor, store, queue, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	reqs := []Requirement{
		{Name: "readme", Priority: PriorityLow, Artifact: "README.md", AutoCorrectable: true},
		{Name: "license", Priority: PriorityLow, Artifact: "LICENSE"},
	}
	if err := monitor.SetBaseline(ag.AgreementID, reqs); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	if _, err := monitor.Evaluate(ag.AgreementID, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	pending := queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one queued correction, got %d", len(pending))
	}
	if pending[0].Violation.RequirementName != "readme" {
		t.Fatalf("expected the auto-correctable violation queued, got %+v", pending[0])
	}
}

func TestEvaluateUnknownAgreement(t *testing.T) {
	monitor, _, _, _ := testMonitor(t)
	if _, err := monitor.Evaluate("missing", nil); !errors.Is(err, agreement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordUnauthorizedUsageGatesAgreement(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)

	record, err := monitor.RecordUnauthorizedUsage(ag.AgreementID, "marketplace-scan")
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if record.Score != 0 {
		t.Fatalf("expected score 0, got %v", record.Score)
	}
	if len(record.Violations) != 1 || record.Violations[0].Kind != ViolationUnauthorizedReuse {
		t.Fatalf("expected unauthorized reuse violation, got %+v", record.Violations)
	}
	current, _ := store.Get(ag.AgreementID)
	if current.LifecycleState != agreement.StateViolated {
		t.Fatalf("detected misuse must gate distribution, got %s", current.LifecycleState)
	}
}

func TestHistoryAndLatest(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	if err := monitor.SetBaseline(ag.AgreementID, baseline(2)); err != nil {
		t.Fatalf("set baseline: %v", err)
	}

	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(1)); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(2)); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	history, err := monitor.History(ag.AgreementID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history))
	}
	latest, err := monitor.Latest(ag.AgreementID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Score != 1.0 {
		t.Fatalf("expected latest record with score 1.0, got %+v", latest)
	}
}

func TestLatestWithoutRecords(t *testing.T) {
	monitor, store, _, _ := testMonitor(t)
	ag := deployedAgreement(t, store)
	latest, err := monitor.Latest(ag.AgreementID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no record, got %+v", latest)
	}
}

func TestEvaluateEmitsLifecycleEvents(t *testing.T) {
	monitor, store, _, recorder := testMonitor(t)
	ag := deployedAgreement(t, store)
	if err := monitor.SetBaseline(ag.AgreementID, baseline(10)); err != nil {
		t.Fatalf("set baseline: %v", err)
	}
	if _, err := monitor.Evaluate(ag.AgreementID, artifactsMeeting(3)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var sawEvaluated, sawViolation bool
	for _, evt := range recorder.Snapshot() {
		switch evt.Type {
		case EventTypeEvaluated:
			sawEvaluated = true
		case EventTypeViolation:
			sawViolation = true
		}
	}
	if !sawEvaluated || !sawViolation {
		t.Fatalf("expected evaluated and violation events, got evaluated=%v violation=%v", sawEvaluated, sawViolation)
	}
}
