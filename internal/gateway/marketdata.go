package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"broker-gateway/internal/broker"
)

// MarketSnapshot 聚合同一标的的最新价、盘口与近期K线。
type MarketSnapshot struct {
	Symbol      string
	Quote       broker.PriceQuote
	Depth       broker.MarketDepth
	Candles     broker.CandleSeries
	RetrievedAt time.Time
}

// SnapshotRequest 控制一次快照采集的参数。
type SnapshotRequest struct {
	Query    broker.QuoteQuery
	Interval string
	Lookback time.Duration
}

// MarketSnapshot 并发拉取行情三要素。只读查询之间没有共享可变状态，
// 可以安全并行；任一子查询失败则整体为缺失结果。
func (g *Gateway) MarketSnapshot(ctx context.Context, req SnapshotRequest) (Result[MarketSnapshot], error) {
	if err := req.Query.Validate(); err != nil {
		return reject[MarketSnapshot](g, opMarketSnapshot, err)
	}

	lookback := req.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	now := time.Now().UTC()
	candleQuery := broker.CandleQuery{
		Symbol:   req.Query.Symbol,
		Exchange: req.Query.Exchange,
		Segment:  req.Query.Segment,
		Start:    now.Add(-lookback),
		End:      now,
		Interval: req.Interval,
	}

	var (
		quote   broker.PriceQuote
		depth   broker.MarketDepth
		candles broker.CandleSeries
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := g.client.LatestPrice(groupCtx, req.Query)
		if err != nil {
			return err
		}
		quote = data
		return nil
	})

	group.Go(func() error {
		data, err := g.client.MarketDepth(groupCtx, req.Query)
		if err != nil {
			return err
		}
		depth = data
		return nil
	})

	group.Go(func() error {
		data, err := g.client.HistoricalCandles(groupCtx, candleQuery)
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	err := group.Wait()

	snapshot := MarketSnapshot{
		Symbol:      req.Query.Symbol,
		Quote:       quote,
		Depth:       depth,
		Candles:     candles,
		RetrievedAt: now,
	}

	return resolve(g, ctx, opMarketSnapshot, snapshot, err,
		zap.String("symbol", req.Query.Symbol),
		zap.Int("candles", len(candles.Candles)),
		zap.Int("depth_bids", len(depth.Bids)),
		zap.Int("depth_asks", len(depth.Asks)),
	), nil
}
