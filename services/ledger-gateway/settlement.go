package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"attribledger/native/revenue"
	"attribledger/observability"
)

// HTTPSettlementClient talks to the external settlement channel. The remote
// side is idempotent per event id, carried in the Idempotency-Key header.
type HTTPSettlementClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSettlementClient constructs a client against the configured endpoint.
func NewHTTPSettlementClient(endpoint string, timeout time.Duration) *HTTPSettlementClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSettlementClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type settlementPayload struct {
	EventID           string `json:"eventId"`
	Currency          string `json:"currency"`
	Counterparty      string `json:"counterparty"`
	CounterpartyShare string `json:"counterpartyShare"`
	Platform          string `json:"platform"`
	PlatformShare     string `json:"platformShare"`
}

type settlementResponse struct {
	Handle string `json:"handle"`
}

// Distribute implements revenue.Settler. Network errors and 5xx responses are
// wrapped as transient so the engine's retry budget applies; 4xx responses are
// permanent.
func (c *HTTPSettlementClient) Distribute(ctx context.Context, req revenue.SettlementRequest) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", fmt.Errorf("settlement endpoint not configured")
	}
	payload, err := json.Marshal(settlementPayload{
		EventID:           req.EventID,
		Currency:          req.CurrencyCode,
		Counterparty:      req.CounterpartyIdentity,
		CounterpartyShare: revenue.FormatAmount(req.CounterpartyShare, req.CurrencyCode),
		Platform:          req.PlatformIdentity,
		PlatformShare:     revenue.FormatAmount(req.PlatformShare, req.CurrencyCode),
	})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/distribute", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.EventID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", revenue.ErrSettlementTransient, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var decoded settlementResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return "", fmt.Errorf("decode settlement response: %w", err)
		}
		if strings.TrimSpace(decoded.Handle) == "" {
			return "", fmt.Errorf("settlement response missing handle")
		}
		return decoded.Handle, nil
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %s", revenue.ErrSettlementTransient, resp.Status)
	default:
		return "", fmt.Errorf("settlement rejected: %s", resp.Status)
	}
}

type settlementTask struct {
	eventID   string
	notBefore time.Time
}

// SettlementDispatcher drains distribution requests in the background so a
// slow settlement channel never blocks the request path. Events whose retry
// budget is exhausted are requeued with a delay; a cancelled event stops
// retrying without touching the persisted record.
type SettlementDispatcher struct {
	engine  *revenue.Engine
	logger  *slog.Logger
	metrics *observability.LedgerMetrics

	requeueDelay time.Duration

	mu        sync.Mutex
	tasks     []settlementTask
	cancelled map[string]struct{}
}

// NewSettlementDispatcher constructs a dispatcher over the revenue engine.
func NewSettlementDispatcher(engine *revenue.Engine, logger *slog.Logger) *SettlementDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementDispatcher{
		engine:       engine,
		logger:       logger,
		metrics:      observability.Ledger(),
		requeueDelay: time.Minute,
		cancelled:    make(map[string]struct{}),
	}
}

// Enqueue schedules the event for distribution. Re-enqueueing a previously
// cancelled event clears the cancellation.
func (d *SettlementDispatcher) Enqueue(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cancelled, eventID)
	d.tasks = append(d.tasks, settlementTask{eventID: eventID})
}

// Cancel stops further retry attempts for the event. The already-persisted
// revenue event is never removed or mutated.
func (d *SettlementDispatcher) Cancel(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled[eventID] = struct{}{}
}

// PendingCount reports how many tasks await dispatch. Used by tests and the
// health endpoint.
func (d *SettlementDispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func (d *SettlementDispatcher) dequeue(ctx context.Context) (settlementTask, bool) {
	for {
		d.mu.Lock()
		now := time.Now()
		for i, task := range d.tasks {
			if task.notBefore.After(now) {
				continue
			}
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			if _, gone := d.cancelled[task.eventID]; gone {
				delete(d.cancelled, task.eventID)
				d.mu.Unlock()
				return settlementTask{}, true
			}
			d.mu.Unlock()
			return task, true
		}
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return settlementTask{}, false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Run processes settlement tasks until the context is cancelled.
func (d *SettlementDispatcher) Run(ctx context.Context) {
	if d == nil || d.engine == nil {
		return
	}
	for {
		task, ok := d.dequeue(ctx)
		if !ok {
			return
		}
		if task.eventID == "" {
			continue
		}
		d.dispatch(ctx, task)
	}
}

func (d *SettlementDispatcher) dispatch(ctx context.Context, task settlementTask) {
	evt, err := d.engine.Distribute(ctx, task.eventID)
	switch {
	case err == nil:
		d.metrics.SettlementAttempts.WithLabelValues(observability.OutcomeSettled).Inc()
		d.logger.Info("settlement complete", "eventId", task.eventID, "handle", evt.SettlementHandle)
	case errors.Is(err, revenue.ErrSettlementTransient):
		d.metrics.SettlementAttempts.WithLabelValues(observability.OutcomeTransient).Inc()
		d.logger.Warn("settlement pending, will retry", "eventId", task.eventID, "error", err)
		d.requeue(task)
	case errors.Is(err, revenue.ErrComplianceHold), errors.Is(err, revenue.ErrAgreementSuspended):
		d.metrics.SettlementAttempts.WithLabelValues(observability.OutcomeBlocked).Inc()
		d.logger.Warn("settlement blocked by lifecycle state", "eventId", task.eventID, "error", err)
		d.requeue(task)
	case errors.Is(err, context.Canceled):
		return
	default:
		d.metrics.SettlementAttempts.WithLabelValues(observability.OutcomePermanent).Inc()
		d.logger.Error("settlement failed permanently", "eventId", task.eventID, "error", err)
	}
}

func (d *SettlementDispatcher) requeue(task settlementTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, gone := d.cancelled[task.eventID]; gone {
		delete(d.cancelled, task.eventID)
		return
	}
	task.notBefore = time.Now().Add(d.requeueDelay)
	d.tasks = append(d.tasks, task)
}
