package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"attribledger/native/agreement"
	"attribledger/native/common"
	"attribledger/native/compliance"
	"attribledger/native/fingerprint"
	"attribledger/native/report"
	"attribledger/native/revenue"
	"attribledger/observability"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP front-end for the attribution ledger.
type Server struct {
	agreements   *agreement.Store
	ledger       *revenue.Engine
	fingerprints *fingerprint.Service
	monitor      *compliance.Monitor
	scheduler    *compliance.Scheduler
	corrections  *compliance.CorrectionQueue
	aggregator   *report.Aggregator
	artifacts    *ArtifactStore
	dispatcher   *SettlementDispatcher
	recorder     *common.Recorder
	limiter      *rate.Limiter
	metrics      *observability.LedgerMetrics
	logger       *slog.Logger
}

// NewServer wires the engines into an HTTP handler set.
func NewServer(
	agreements *agreement.Store,
	ledger *revenue.Engine,
	fingerprints *fingerprint.Service,
	monitor *compliance.Monitor,
	scheduler *compliance.Scheduler,
	corrections *compliance.CorrectionQueue,
	aggregator *report.Aggregator,
	artifacts *ArtifactStore,
	dispatcher *SettlementDispatcher,
	recorder *common.Recorder,
	ingest IngestConfig,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	rps := ingest.RatePerSecond
	if rps <= 0 {
		rps = 50
	}
	burst := ingest.Burst
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return &Server{
		agreements:   agreements,
		ledger:       ledger,
		fingerprints: fingerprints,
		monitor:      monitor,
		scheduler:    scheduler,
		corrections:  corrections,
		aggregator:   aggregator,
		artifacts:    artifacts,
		dispatcher:   dispatcher,
		recorder:     recorder,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		metrics:      observability.Ledger(),
		logger:       logger,
	}
}

// Routes mounts every gateway endpoint on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Route("/agreements", func(r chi.Router) {
		r.Post("/", s.handleCreateAgreement)
		r.Route("/{agreementID}", func(r chi.Router) {
			r.Get("/", s.handleGetAgreement)
			r.Post("/deploy", s.handleDeploy)
			r.Post("/suspend", s.handleSuspend)
			r.Post("/resume", s.handleResume)
			r.Post("/revenue", s.handleRecordRevenue)
			r.Get("/revenue-summary", s.handleRevenueSummary)
			r.Post("/baseline", s.handleSetBaseline)
			r.Post("/artifacts", s.handleUpdateArtifacts)
			r.Post("/evaluate", s.handleEvaluate)
			r.Get("/compliance/latest", s.handleLatestCompliance)
			r.Get("/compliance/history", s.handleComplianceHistory)
		})
	})
	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/distribute", s.handleDistribute)
		r.Post("/distribute/cancel", s.handleCancelDistribution)
	})
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Post("/fingerprint", s.handleMintFingerprint)
		r.Post("/embed", s.handleEmbed)
	})
	r.Post("/usage-reports", s.handleUsageReport)
	r.Get("/report", s.handleReport)
	r.Get("/corrections", s.handleCorrections)
	r.Get("/ledger-events", s.handleLedgerEvents)
	r.Get("/healthz", s.handleHealthz)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeDomainError maps engine sentinels onto HTTP statuses. Suspension is a
// distinct business status rather than a generic failure.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agreement.ErrNotFound), errors.Is(err, revenue.ErrEventNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, agreement.ErrInvalidSplit),
		errors.Is(err, agreement.ErrIdentityRequired),
		errors.Is(err, revenue.ErrInvalidAmount),
		errors.Is(err, fingerprint.ErrProjectRequired):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, revenue.ErrAgreementSuspended):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Status: "agreement_suspended"})
	case errors.Is(err, revenue.ErrComplianceHold):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Status: "compliance_hold"})
	case errors.Is(err, agreement.ErrDuplicateAgreement):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, agreement.ErrInvalidTransition):
		// Lifecycle guard rejections usually indicate a caller bug.
		s.logger.Warn("invalid lifecycle transition requested", "error", err)
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, revenue.ErrSettlementTransient):
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Status: "pending_settlement"})
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

type createAgreementRequest struct {
	ProjectID    string             `json:"projectId"`
	Counterparty string             `json:"counterpartyIdentity"`
	Platform     string             `json:"platformIdentity"`
	SplitRatios  map[string]float64 `json:"splitRatios"`
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if !s.decode(w, r, &req) {
		return
	}
	ag, err := s.agreements.CreateAgreement(req.ProjectID, req.Counterparty, req.Platform, req.SplitRatios)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ag)
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	ag, err := s.agreements.Get(chi.URLParam(r, "agreementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ag)
}

type deployRequest struct {
	SettlementReference string `json:"settlementReference"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !s.decode(w, r, &req) {
		return
	}
	ag, err := s.agreements.MarkDeployed(chi.URLParam(r, "agreementID"), req.SettlementReference)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ag)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	ag, err := s.agreements.Suspend(chi.URLParam(r, "agreementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ag)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	ag, err := s.agreements.Resume(chi.URLParam(r, "agreementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ag)
}

type recordRevenueRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type revenueEventResponse struct {
	EventID           string `json:"eventId"`
	AgreementID       string `json:"agreementId"`
	Currency          string `json:"currency"`
	GrossAmount       string `json:"grossAmount"`
	CounterpartyShare string `json:"counterpartyShare"`
	PlatformShare     string `json:"platformShare"`
	SettlementHandle  string `json:"settlementHandle,omitempty"`
	Status            string `json:"status"`
	RecordedAt        string `json:"recordedAt"`
}

func eventResponse(evt *revenue.Event) revenueEventResponse {
	status := "pending_settlement"
	if evt.Settled() {
		status = "settled"
	}
	return revenueEventResponse{
		EventID:           evt.EventID,
		AgreementID:       evt.AgreementID,
		Currency:          evt.CurrencyCode,
		GrossAmount:       revenue.FormatAmount(evt.GrossAmount, evt.CurrencyCode),
		CounterpartyShare: revenue.FormatAmount(evt.CounterpartyShare, evt.CurrencyCode),
		PlatformShare:     revenue.FormatAmount(evt.PlatformShare, evt.CurrencyCode),
		SettlementHandle:  evt.SettlementHandle,
		Status:            status,
		RecordedAt:        evt.RecordedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) handleRecordRevenue(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, errors.New("revenue ingest rate exceeded"))
		return
	}
	var req recordRevenueRequest
	if !s.decode(w, r, &req) {
		return
	}
	gross, err := revenue.ParseAmount(req.Amount, req.Currency)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	evt, err := s.ledger.RecordRevenue(chi.URLParam(r, "agreementID"), gross, req.Currency)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.metrics.RevenueEvents.WithLabelValues(evt.CurrencyCode).Inc()
	s.writeJSON(w, http.StatusCreated, eventResponse(evt))
}

func (s *Server) handleRevenueSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summarize(chi.URLParam(r, "agreementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agreementId":        summary.AgreementID,
		"currency":           summary.CurrencyCode,
		"totalRevenue":       revenue.FormatAmount(summary.TotalRevenue, summary.CurrencyCode),
		"counterpartyTotal":  revenue.FormatAmount(summary.CounterpartyTotal, summary.CurrencyCode),
		"platformTotal":      revenue.FormatAmount(summary.PlatformTotal, summary.CurrencyCode),
		"eventCount":         summary.EventCount,
		"pendingSettlements": summary.PendingSettlements,
	})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	// Fail fast on unknown events; the actual dispatch runs off the request path.
	if _, err := s.ledger.Event(eventID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.dispatcher.Enqueue(eventID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"eventId": eventID, "status": "queued"})
}

func (s *Server) handleCancelDistribution(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	s.dispatcher.Cancel(eventID)
	s.writeJSON(w, http.StatusOK, map[string]string{"eventId": eventID, "status": "cancelled"})
}

type baselineRequest struct {
	Requirements []compliance.Requirement `json:"requirements"`
}

func (s *Server) handleSetBaseline(w http.ResponseWriter, r *http.Request) {
	var req baselineRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.monitor.SetBaseline(chi.URLParam(r, "agreementID"), req.Requirements); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"requirements": len(req.Requirements)})
}

type artifactsRequest struct {
	Artifacts map[string]string `json:"artifacts"`
}

func (s *Server) handleUpdateArtifacts(w http.ResponseWriter, r *http.Request) {
	agreementID := chi.URLParam(r, "agreementID")
	if _, err := s.agreements.Get(agreementID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	var req artifactsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.artifacts.Update(agreementID, req.Artifacts)
	s.writeJSON(w, http.StatusOK, map[string]int{"artifacts": len(req.Artifacts)})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	agreementID := chi.URLParam(r, "agreementID")
	if _, err := s.agreements.Get(agreementID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Same rule as the scheduler sweep: an agreement whose pipeline has not
	// pushed a snapshot yet is not scored, otherwise it would be violated for
	// artifacts that were never delivered.
	artifacts, ok := s.artifacts.ArtifactsFor(agreementID)
	if !ok {
		s.writeJSON(w, http.StatusConflict, errorBody{
			Error:  "no artifact snapshot pushed for agreement",
			Status: "no_artifacts",
		})
		return
	}
	record, err := s.monitor.Evaluate(agreementID, artifacts)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleLatestCompliance(w http.ResponseWriter, r *http.Request) {
	record, err := s.monitor.Latest(chi.URLParam(r, "agreementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no compliance record yet"))
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleComplianceHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.monitor.History(chi.URLParam(r, "agreementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleMintFingerprint(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	fp, err := s.fingerprints.Mint(projectID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Bind the token to the project's agreement when one exists.
	if ag, err := s.agreements.ByProject(projectID); err == nil {
		if _, err := s.agreements.SetFingerprint(ag.AgreementID, fp.Token); err != nil {
			s.logger.Warn("bind fingerprint", "projectId", projectID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, fp)
}

type embedRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req embedRequest
	if !s.decode(w, r, &req) {
		return
	}
	fp, err := s.fingerprints.Mint(projectID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"projectId": projectID,
		"content":   fingerprint.Embed(req.Content, fp),
	})
}

type usageReportRequest struct {
	Sample string `json:"sample"`
	Source string `json:"source,omitempty"`
}

type usageReportResponse struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	ProjectID  string  `json:"projectId,omitempty"`
	RecordID   string  `json:"recordId,omitempty"`
}

// handleUsageReport is the path by which fingerprint evidence reaches the
// compliance log: a detected marker files an unauthorized-reuse record against
// the matched project's agreement.
func (s *Server) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	var req usageReportRequest
	if !s.decode(w, r, &req) {
		return
	}
	detection, err := s.fingerprints.Detect(req.Sample)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := usageReportResponse{Matched: detection.Matched, Confidence: detection.Confidence}
	if detection.Matched {
		resp.ProjectID = detection.Fingerprint.ProjectID
		if ag, err := s.agreements.ByProject(detection.Fingerprint.ProjectID); err == nil {
			record, err := s.monitor.RecordUnauthorizedUsage(ag.AgreementID, req.Source)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			resp.RecordID = record.RecordID
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid window %q", raw))
			return
		}
		window = parsed
	}
	result, err := s.aggregator.Report(window)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reportResponse(result))
}

func reportResponse(result *report.Report) map[string]any {
	perContract := make([]map[string]any, 0, len(result.PerContract))
	for _, entry := range result.PerContract {
		item := map[string]any{
			"agreementId":        entry.AgreementID,
			"projectId":          entry.ProjectID,
			"lifecycleState":     entry.LifecycleState,
			"currency":           entry.CurrencyCode,
			"eventCount":         entry.EventCount,
			"totalRevenue":       revenue.FormatAmount(entry.TotalRevenue, entry.CurrencyCode),
			"counterpartyTotal":  revenue.FormatAmount(entry.CounterpartyTotal, entry.CurrencyCode),
			"platformTotal":      revenue.FormatAmount(entry.PlatformTotal, entry.CurrencyCode),
			"pendingSettlements": entry.PendingSettlement,
		}
		if entry.LatestScore != nil {
			item["latestComplianceScore"] = *entry.LatestScore
		}
		perContract = append(perContract, item)
	}
	return map[string]any{
		"windowSeconds":        result.WindowSeconds,
		"generatedAt":          result.GeneratedAt.Format(time.RFC3339Nano),
		"contractCount":        result.ContractCount,
		"activeCount":          result.ActiveCount,
		"currency":             result.CurrencyCode,
		"totalRevenue":         revenue.FormatAmount(result.TotalRevenue, result.CurrencyCode),
		"founderShare":         revenue.FormatAmount(result.FounderShare, result.CurrencyCode),
		"platformShare":        revenue.FormatAmount(result.PlatformShare, result.CurrencyCode),
		"perContractBreakdown": perContract,
	}
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.corrections.Pending())
}

func (s *Server) handleLedgerEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.recorder.Snapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"pendingSettlements": s.dispatcher.PendingCount(),
	})
}
