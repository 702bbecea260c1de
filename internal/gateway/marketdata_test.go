package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"broker-gateway/internal/broker"
)

func TestMarketSnapshotAggregates(t *testing.T) {
	stub := newStubBroker()
	gw := New(stub, nil, nil)

	result, err := gw.MarketSnapshot(context.Background(), SnapshotRequest{
		Query:    broker.QuoteQuery{Symbol: "X", Exchange: broker.ExchangeNSE, Segment: broker.SegmentCash},
		Interval: "1m",
		Lookback: time.Hour,
	})
	if err != nil {
		t.Fatalf("MarketSnapshot returned contract error: %v", err)
	}

	snapshot, ok := result.Get()
	if !ok {
		t.Fatalf("expected snapshot, got failure: %v", result.Err())
	}
	if snapshot.Symbol != "X" {
		t.Errorf("symbol mismatch: got %s", snapshot.Symbol)
	}
	if snapshot.Quote.Last == 0 {
		t.Errorf("expected quote in snapshot")
	}
	if len(snapshot.Depth.Bids) == 0 || len(snapshot.Depth.Asks) == 0 {
		t.Errorf("expected depth levels in snapshot")
	}
	if len(snapshot.Candles.Candles) == 0 {
		t.Errorf("expected candles in snapshot")
	}
	if snapshot.RetrievedAt.IsZero() {
		t.Errorf("expected retrieval timestamp")
	}
}

func TestMarketSnapshotPartialFailureIsAbsent(t *testing.T) {
	stub := newStubBroker()
	stub.failErr = errors.New("depth unavailable")
	core, logs := observer.New(zapcore.InfoLevel)
	gw := New(stub, nil, zap.New(core))

	result, err := gw.MarketSnapshot(context.Background(), SnapshotRequest{
		Query: broker.QuoteQuery{Symbol: "X", Exchange: broker.ExchangeNSE, Segment: broker.SegmentCash},
	})
	if err != nil {
		t.Fatalf("operational failure must not propagate, got %v", err)
	}
	if result.Ok() {
		t.Fatalf("expected absent snapshot when a sub-query fails")
	}
	if entries := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); entries != 1 {
		t.Errorf("expected exactly one error log entry, got %d", entries)
	}
}

func TestMarketSnapshotValidatesQuery(t *testing.T) {
	stub := newStubBroker()
	gw := New(stub, nil, nil)

	_, err := gw.MarketSnapshot(context.Background(), SnapshotRequest{
		Query: broker.QuoteQuery{Symbol: "", Exchange: broker.ExchangeNSE, Segment: broker.SegmentCash},
	})
	if err == nil {
		t.Fatalf("expected contract error for empty symbol")
	}
	if !errors.Is(err, broker.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if len(stub.calls) != 0 {
		t.Errorf("broker must not be reached on contract violation, calls=%v", stub.calls)
	}
}
