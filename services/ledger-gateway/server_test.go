package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"attribledger/native/agreement"
	"attribledger/native/common"
	"attribledger/native/compliance"
	"attribledger/native/fingerprint"
	"attribledger/native/report"
	"attribledger/native/revenue"
)

type staticSettler struct{}

func (staticSettler) Distribute(_ context.Context, req revenue.SettlementRequest) (string, error) {
	return "handle-" + req.EventID, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := common.NewRecorder(0)
	agreements := agreement.NewStore(agreement.NewMemoryState(), agreement.WithEmitter(recorder))
	eventState := revenue.NewMemoryState()
	ledger := revenue.NewEngine(agreements, eventState,
		revenue.WithSettler(staticSettler{}),
		revenue.WithEmitter(recorder),
	)
	fingerprints := fingerprint.NewService(fingerprint.NewMemoryState())
	complianceState := compliance.NewMemoryState()
	corrections := compliance.NewCorrectionQueue(0)
	monitor := compliance.NewMonitor(agreements, complianceState,
		compliance.WithEmitter(recorder),
		compliance.WithCorrector(corrections),
	)
	aggregator := report.NewAggregator(agreements, eventState, complianceState)
	artifacts := NewArtifactStore()
	scheduler := compliance.NewScheduler(monitor, agreements, artifacts, time.Minute, logger)
	dispatcher := NewSettlementDispatcher(ledger, logger)
	return NewServer(agreements, ledger, fingerprints, monitor, scheduler, corrections,
		aggregator, artifacts, dispatcher, recorder,
		IngestConfig{RatePerSecond: 1000, Burst: 1000}, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createDeployedAgreement(t *testing.T, routes http.Handler, projectID string) string {
	t.Helper()
	rec := doJSON(t, routes, http.MethodPost, "/agreements", map[string]any{
		"projectId":            projectID,
		"counterpartyIdentity": "owner-wallet",
		"platformIdentity":     "platform-wallet",
		"splitRatios":          map[string]float64{"counterparty": 0.8, "platform": 0.2},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	agreementID, _ := decodeBody(t, rec)["agreementId"].(string)
	require.NotEmpty(t, agreementID)

	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/deploy", map[string]any{
		"settlementReference": "channel-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return agreementID
}

func TestCreateAgreementEndpoint(t *testing.T) {
	routes := newTestServer(t).Routes()

	rec := doJSON(t, routes, http.MethodPost, "/agreements", map[string]any{
		"projectId":            "proj-1",
		"counterpartyIdentity": "owner",
		"platformIdentity":     "platform",
		"splitRatios":          map[string]float64{"counterparty": 0.8, "platform": 0.2},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "created", body["lifecycleState"])

	// Malformed splits are a 400.
	rec = doJSON(t, routes, http.MethodPost, "/agreements", map[string]any{
		"projectId":            "proj-2",
		"counterpartyIdentity": "owner",
		"platformIdentity":     "platform",
		"splitRatios":          map[string]float64{"counterparty": 0.8, "platform": 0.3},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A second active agreement for the same project is a 409.
	rec = doJSON(t, routes, http.MethodPost, "/agreements", map[string]any{
		"projectId":            "proj-1",
		"counterpartyIdentity": "owner",
		"platformIdentity":     "platform",
		"splitRatios":          map[string]float64{"counterparty": 0.8, "platform": 0.2},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAgreementNotFound(t *testing.T) {
	routes := newTestServer(t).Routes()
	rec := doJSON(t, routes, http.MethodGet, "/agreements/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordRevenueEndpoint(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "100.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "80.00", body["counterpartyShare"])
	require.Equal(t, "20.00", body["platformShare"])
	require.Equal(t, "pending_settlement", body["status"])

	// The single-cent event floors the counterparty to zero.
	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "0.01",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, "0.00", body["counterpartyShare"])
	require.Equal(t, "0.01", body["platformShare"])

	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID+"/revenue-summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, "100.01", body["totalRevenue"])
	require.Equal(t, float64(2), body["eventCount"])
}

func TestRecordRevenueValidation(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "1.999",
		"currency": "USD",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A double-signed amount must never be persisted as positive revenue.
	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "--5.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID+"/revenue-summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(0), decodeBody(t, rec)["eventCount"])

	rec = doJSON(t, routes, http.MethodPost, "/agreements/missing/revenue", map[string]any{
		"amount":   "1.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuspendBlocksRevenue(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "10.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "agreement_suspended", decodeBody(t, rec)["status"])

	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "10.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestDistributeEndpoint(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "5.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	eventID, _ := decodeBody(t, rec)["eventId"].(string)
	require.NotEmpty(t, eventID)

	rec = doJSON(t, routes, http.MethodPost, "/events/"+eventID+"/distribute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "queued", decodeBody(t, rec)["status"])

	rec = doJSON(t, routes, http.MethodPost, "/events/missing/distribute", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/events/"+eventID+"/distribute/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", decodeBody(t, rec)["status"])
}

func TestComplianceEndpoints(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/baseline", map[string]any{
		"requirements": []map[string]any{
			{"name": "health-endpoint", "priority": "high", "artifact": "server.go", "pattern": "/healthz"},
			{"name": "readme", "priority": "low", "artifact": "README.md"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/artifacts", map[string]any{
		"artifacts": map[string]string{
			"server.go": "mux.HandleFunc(\"/healthz\", health)",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/evaluate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decodeBody(t, rec)
	require.Equal(t, 0.5, record["complianceScore"])

	// Score below the violation floor gates distribution.
	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "violated", decodeBody(t, rec)["lifecycleState"])

	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID+"/compliance/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID+"/compliance/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
}

func TestEvaluateWithoutArtifactSnapshot(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/baseline", map[string]any{
		"requirements": []map[string]any{
			{"name": "readme", "priority": "low", "artifact": "README.md"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Without a pushed snapshot there is nothing to score against.
	rec = doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/evaluate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "no_artifacts", decodeBody(t, rec)["status"])

	// The agreement must not have been violated by the rejected evaluation.
	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "deployed", decodeBody(t, rec)["lifecycleState"])

	rec = doJSON(t, routes, http.MethodPost, "/agreements/missing/evaluate", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestComplianceEmpty(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")
	rec := doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID+"/compliance/latest", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFingerprintEndpoints(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/projects/proj-1/fingerprint", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decodeBody(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	// Minting binds the token to the project's agreement.
	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, token, decodeBody(t, rec)["fingerprintToken"])

	// Re-minting returns the same token.
	rec = doJSON(t, routes, http.MethodPost, "/projects/proj-1/fingerprint", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, token, decodeBody(t, rec)["token"])

	rec = doJSON(t, routes, http.MethodPost, "/projects/proj-1/embed", map[string]any{
		"content": "package main\n",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	embedded, _ := decodeBody(t, rec)["content"].(string)
	require.Contains(t, embedded, token)
}

func TestUsageReportFilesViolation(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")

	rec := doJSON(t, routes, http.MethodPost, "/projects/proj-1/embed", map[string]any{
		"content": "package stolen\n",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sample, _ := decodeBody(t, rec)["content"].(string)

	rec = doJSON(t, routes, http.MethodPost, "/usage-reports", map[string]any{
		"sample": sample,
		"source": "marketplace-scan",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, true, body["matched"])
	require.Equal(t, 1.0, body["confidence"])
	require.Equal(t, "proj-1", body["projectId"])
	require.NotEmpty(t, body["recordId"])

	rec = doJSON(t, routes, http.MethodGet, "/agreements/"+agreementID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "violated", decodeBody(t, rec)["lifecycleState"])
}

func TestUsageReportNoMatch(t *testing.T) {
	routes := newTestServer(t).Routes()
	rec := doJSON(t, routes, http.MethodPost, "/usage-reports", map[string]any{
		"sample": "nothing embedded here",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["matched"])
	require.Equal(t, 0.0, body["confidence"])
}

func TestReportEndpoint(t *testing.T) {
	routes := newTestServer(t).Routes()
	agreementID := createDeployedAgreement(t, routes, "proj-1")
	createDeployedAgreement(t, routes, "proj-2")

	rec := doJSON(t, routes, http.MethodPost, "/agreements/"+agreementID+"/revenue", map[string]any{
		"amount":   "150.00",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/report?window=24h", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, float64(2), body["contractCount"])
	require.Equal(t, "150.00", body["totalRevenue"])
	require.Equal(t, "120.00", body["founderShare"])
	require.Equal(t, "30.00", body["platformShare"])
	breakdown, _ := body["perContractBreakdown"].([]any)
	require.Len(t, breakdown, 1)

	rec = doJSON(t, routes, http.MethodGet, "/report?window=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	routes := newTestServer(t).Routes()
	rec := doJSON(t, routes, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
}
