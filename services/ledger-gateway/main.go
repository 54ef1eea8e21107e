package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"attribledger/native/agreement"
	"attribledger/native/common"
	"attribledger/native/compliance"
	"attribledger/native/fingerprint"
	"attribledger/native/report"
	"attribledger/native/revenue"
	"attribledger/observability"
	"attribledger/observability/logging"
)

type backends struct {
	agreements   agreement.State
	events       revenue.State
	compliance   compliance.State
	fingerprints fingerprint.State
	closer       io.Closer
}

func openBackends(path string) (*backends, error) {
	if path == "" {
		return &backends{
			agreements:   agreement.NewMemoryState(),
			events:       revenue.NewMemoryState(),
			compliance:   compliance.NewMemoryState(),
			fingerprints: fingerprint.NewMemoryState(),
		}, nil
	}
	store, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	return &backends{
		agreements:   store,
		events:       store,
		compliance:   store,
		fingerprints: store,
		closer:       store,
	}, nil
}

// meterEmitter counts compliance activity off the event stream before handing
// the event to the recorder. Sweeps and on-demand evaluations both pass here.
type meterEmitter struct {
	next    common.Emitter
	metrics *observability.LedgerMetrics
}

func (m *meterEmitter) Emit(evt common.Event) {
	switch evt.Type {
	case compliance.EventTypeEvaluated:
		m.metrics.ComplianceRuns.Inc()
	case compliance.EventTypeViolation:
		m.metrics.ComplianceShifts.WithLabelValues(observability.DirectionViolated).Inc()
	case compliance.EventTypeRecovered:
		m.metrics.ComplianceShifts.WithLabelValues(observability.DirectionRecovered).Inc()
	}
	m.next.Emit(evt)
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		os.Stderr.WriteString("ledger-gateway: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("ledger-gateway", cfg.Environment, &logging.Options{FilePath: cfg.LogFile})

	store, err := openBackends(cfg.DatabasePath)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	if store.closer != nil {
		defer store.closer.Close()
	}

	recorder := common.NewRecorder(0)

	agreements := agreement.NewStore(store.agreements, agreement.WithEmitter(recorder))
	settler := NewHTTPSettlementClient(cfg.Settlement.Endpoint, cfg.Settlement.Timeout.Duration)
	ledger := revenue.NewEngine(agreements, store.events,
		revenue.WithSettler(settler),
		revenue.WithEmitter(recorder),
		revenue.WithRoundingPolicy(revenue.RoundingPolicy(cfg.Rounding)),
		revenue.WithRetryBudget(cfg.Settlement.MaxAttempts, cfg.Settlement.BaseBackoff.Duration, cfg.Settlement.MaxBackoff.Duration),
	)
	fingerprints := fingerprint.NewService(store.fingerprints)
	corrections := compliance.NewCorrectionQueue(0)
	monitor := compliance.NewMonitor(agreements, store.compliance,
		compliance.WithEmitter(&meterEmitter{next: recorder, metrics: observability.Ledger()}),
		compliance.WithCorrector(corrections),
		compliance.WithFloors(cfg.Compliance.ViolationFloor, cfg.Compliance.RecoveryFloor),
	)
	aggregator := report.NewAggregator(agreements, store.events, store.compliance)
	artifacts := NewArtifactStore()
	scheduler := compliance.NewScheduler(monitor, agreements, artifacts, cfg.Compliance.Interval.Duration, logger)
	dispatcher := NewSettlementDispatcher(ledger, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx)
	go scheduler.Run(ctx)

	server := NewServer(agreements, ledger, fingerprints, monitor, scheduler, corrections,
		aggregator, artifacts, dispatcher, recorder, cfg.Ingest, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", otelhttp.NewHandler(server.Routes(), "ledger-gateway"))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("ledger gateway listening", "addr", cfg.ListenAddress)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", "error", err)
		os.Exit(1)
	}
}
