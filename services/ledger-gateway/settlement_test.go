package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"attribledger/native/agreement"
	"attribledger/native/revenue"
)

func settlementRequest(eventID string) revenue.SettlementRequest {
	return revenue.SettlementRequest{
		EventID:              eventID,
		CurrencyCode:         "USD",
		CounterpartyIdentity: "owner-wallet",
		CounterpartyShare:    big.NewInt(8000),
		PlatformIdentity:     "platform-wallet",
		PlatformShare:        big.NewInt(2000),
	}
}

func TestHTTPSettlementClientSuccess(t *testing.T) {
	var gotKey string
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/distribute", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"handle":"tx-123"}`))
	}))
	defer remote.Close()

	client := NewHTTPSettlementClient(remote.URL, time.Second)
	handle, err := client.Distribute(context.Background(), settlementRequest("evt-1"))
	require.NoError(t, err)
	require.Equal(t, "tx-123", handle)
	require.Equal(t, "evt-1", gotKey)
}

func TestHTTPSettlementClientTransientOn5xx(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer remote.Close()

	client := NewHTTPSettlementClient(remote.URL, time.Second)
	_, err := client.Distribute(context.Background(), settlementRequest("evt-1"))
	require.ErrorIs(t, err, revenue.ErrSettlementTransient)
}

func TestHTTPSettlementClientPermanentOn4xx(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "account closed", http.StatusUnprocessableEntity)
	}))
	defer remote.Close()

	client := NewHTTPSettlementClient(remote.URL, time.Second)
	_, err := client.Distribute(context.Background(), settlementRequest("evt-1"))
	require.Error(t, err)
	require.False(t, errors.Is(err, revenue.ErrSettlementTransient))
}

func TestHTTPSettlementClientNetworkErrorIsTransient(t *testing.T) {
	client := NewHTTPSettlementClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := client.Distribute(context.Background(), settlementRequest("evt-1"))
	require.ErrorIs(t, err, revenue.ErrSettlementTransient)
}

func TestHTTPSettlementClientMissingHandle(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer remote.Close()

	client := NewHTTPSettlementClient(remote.URL, time.Second)
	_, err := client.Distribute(context.Background(), settlementRequest("evt-1"))
	require.Error(t, err)
}

func dispatcherFixture(t *testing.T) (*SettlementDispatcher, *revenue.Engine, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := agreement.NewStore(agreement.NewMemoryState())
	ag, err := store.CreateAgreement("proj-1", "owner", "platform",
		map[string]float64{agreement.RoleCounterparty: 0.8, agreement.RolePlatform: 0.2})
	require.NoError(t, err)
	_, err = store.MarkDeployed(ag.AgreementID, "channel")
	require.NoError(t, err)

	engine := revenue.NewEngine(store, revenue.NewMemoryState(), revenue.WithSettler(staticSettler{}))
	evt, err := engine.RecordRevenue(ag.AgreementID, big.NewInt(10000), "USD")
	require.NoError(t, err)
	return NewSettlementDispatcher(engine, logger), engine, evt.EventID
}

func TestDispatcherSettlesQueuedEvent(t *testing.T) {
	dispatcher, engine, eventID := dispatcherFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	dispatcher.Enqueue(eventID)

	require.Eventually(t, func() bool {
		evt, err := engine.Event(eventID)
		return err == nil && evt.Settled()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDispatcherCancelDropsTask(t *testing.T) {
	dispatcher, _, eventID := dispatcherFixture(t)

	dispatcher.Enqueue(eventID)
	dispatcher.Cancel(eventID)
	require.Equal(t, 1, dispatcher.PendingCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	require.Eventually(t, func() bool {
		return dispatcher.PendingCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDispatcherReEnqueueClearsCancellation(t *testing.T) {
	dispatcher, engine, eventID := dispatcherFixture(t)

	dispatcher.Cancel(eventID)
	dispatcher.Enqueue(eventID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	require.Eventually(t, func() bool {
		evt, err := engine.Event(eventID)
		return err == nil && evt.Settled()
	}, 2*time.Second, 20*time.Millisecond)
}
