package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/journal"
)

// 操作名同时用于日志与调用流水。
const (
	opPlaceOrder      = "place_order"
	opModifyOrder     = "modify_order"
	opCancelOrder     = "cancel_order"
	opOrderDetail     = "order_detail"
	opOrderTrades     = "order_trades"
	opOpenOrders      = "open_orders"
	opHoldings        = "holdings"
	opPositions       = "positions"
	opPosition        = "position"
	opAvailableMargin = "available_margin"
	opLatestIndex     = "latest_index"
	opLatestPrice     = "latest_price"
	opMarketDepth     = "market_depth"
	opCandles         = "historical_candles"
	opMarketSnapshot  = "market_snapshot"
)

type brokerClient interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error)
	ModifyOrder(ctx context.Context, req broker.ModifyRequest) (broker.ModifyAck, error)
	CancelOrder(ctx context.Context, handle broker.OrderHandle, segment broker.Segment) (broker.CancelAck, error)
	OrderDetail(ctx context.Context, handle broker.OrderHandle, segment broker.Segment) (broker.OrderDetail, error)
	TradesForOrder(ctx context.Context, handle broker.OrderHandle, segment broker.Segment) ([]broker.Fill, error)
	OpenOrders(ctx context.Context) ([]broker.OrderDetail, error)
	Holdings(ctx context.Context) ([]broker.Holding, error)
	Positions(ctx context.Context) (map[string]broker.Position, error)
	PositionsForSymbol(ctx context.Context, symbol string) ([]broker.Position, error)
	AvailableMargin(ctx context.Context) (broker.MarginSnapshot, error)
	LatestPrice(ctx context.Context, query broker.QuoteQuery) (broker.PriceQuote, error)
	LatestIndex(ctx context.Context, query broker.QuoteQuery) (broker.IndexQuote, error)
	MarketDepth(ctx context.Context, query broker.QuoteQuery) (broker.MarketDepth, error)
	HistoricalCandles(ctx context.Context, query broker.CandleQuery) (broker.CandleSeries, error)
}

// Gateway 以统一的失败语义封装底层券商客户端：
// 每个操作校验入参、转发调用、分类结果，并恰好产生一条日志。
// 运行期失败被吸收为缺失结果；违反约定的请求以 error 原样返回。
// 本层不重试、不退避、不加锁，并发使用同一 OrderHandle 由调用方串行化。
type Gateway struct {
	client  brokerClient
	journal *journal.Recorder
	logger  *zap.Logger
}

// New 创建网关。journal 可为 nil，表示不落库。
func New(client brokerClient, rec *journal.Recorder, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		client:  client,
		journal: rec,
		logger:  logger,
	}
}

// PlaceOrder 提交新委托。本层不保证幂等，重复调用产生重复订单。
func (g *Gateway) PlaceOrder(ctx context.Context, req broker.OrderRequest) (Result[broker.OrderAck], error) {
	if err := req.Validate(); err != nil {
		return reject[broker.OrderAck](g, opPlaceOrder, err)
	}

	ack, err := g.client.PlaceOrder(ctx, req)
	return resolve(g, ctx, opPlaceOrder, ack, err,
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.TransactionType)),
		zap.String("type", string(req.OrderType)),
		zap.Int64("quantity", req.Quantity),
		zap.Float64("price", req.Price),
	), nil
}

// ModifyOrder 改写既有订单。订单已处于终态时由券商拒绝，表现为缺失结果。
func (g *Gateway) ModifyOrder(ctx context.Context, req broker.ModifyRequest) (Result[broker.ModifyAck], error) {
	if err := req.Validate(); err != nil {
		return reject[broker.ModifyAck](g, opModifyOrder, err)
	}

	ack, err := g.client.ModifyOrder(ctx, req)
	return resolve(g, ctx, opModifyOrder, ack, err,
		zap.String("broker_order_id", req.Handle.BrokerOrderID),
		zap.Int64("quantity", req.Quantity),
		zap.Float64("price", req.Price),
	), nil
}

// CancelOrder 撤销既有订单。对已终态订单重复撤单返回缺失结果而非崩溃。
func (g *Gateway) CancelOrder(ctx context.Context, handle broker.OrderHandle, segment broker.Segment) (Result[broker.CancelAck], error) {
	if err := validateHandle(handle, segment); err != nil {
		return reject[broker.CancelAck](g, opCancelOrder, err)
	}

	ack, err := g.client.CancelOrder(ctx, handle, segment)
	return resolve(g, ctx, opCancelOrder, ack, err,
		zap.String("broker_order_id", handle.BrokerOrderID),
	), nil
}

// OrderDetail 查询订单完整状态。响应缺字段按运行期失败处理。
func (g *Gateway) OrderDetail(ctx context.Context, handle broker.OrderHandle, segment broker.Segment) (Result[broker.OrderDetail], error) {
	if err := validateHandle(handle, segment); err != nil {
		return reject[broker.OrderDetail](g, opOrderDetail, err)
	}

	detail, err := g.client.OrderDetail(ctx, handle, segment)
	return resolve(g, ctx, opOrderDetail, detail, err,
		zap.String("broker_order_id", handle.BrokerOrderID),
	), nil
}

// TradesForOrder 查询订单成交明细。尚无成交时返回空序列，属于成功结果。
func (g *Gateway) TradesForOrder(ctx context.Context, handle broker.OrderHandle, segment broker.Segment) (Result[[]broker.Fill], error) {
	if err := validateHandle(handle, segment); err != nil {
		return reject[[]broker.Fill](g, opOrderTrades, err)
	}

	fills, err := g.client.TradesForOrder(ctx, handle, segment)
	return resolve(g, ctx, opOrderTrades, fills, err,
		zap.String("broker_order_id", handle.BrokerOrderID),
		zap.Int("fills", len(fills)),
	), nil
}

// OpenOrders 列出当前全部委托。
func (g *Gateway) OpenOrders(ctx context.Context) (Result[[]broker.OrderDetail], error) {
	orders, err := g.client.OpenOrders(ctx)
	return resolve(g, ctx, opOpenOrders, orders, err,
		zap.Int("orders", len(orders)),
	), nil
}

// Holdings 列出账户持仓资产。
func (g *Gateway) Holdings(ctx context.Context) (Result[[]broker.Holding], error) {
	holdings, err := g.client.Holdings(ctx)
	return resolve(g, ctx, opHoldings, holdings, err,
		zap.Int("holdings", len(holdings)),
	), nil
}

// Positions 返回按标的索引的全部仓位。无仓位时返回空映射，不视为失败。
func (g *Gateway) Positions(ctx context.Context) (Result[map[string]broker.Position], error) {
	positions, err := g.client.Positions(ctx)
	return resolve(g, ctx, opPositions, positions, err,
		zap.Int("positions", len(positions)),
	), nil
}

// Position 返回单个标的的仓位，空序列表示无仓位。
func (g *Gateway) Position(ctx context.Context, symbol string) (Result[[]broker.Position], error) {
	if symbol == "" {
		return reject[[]broker.Position](g, opPosition, emptySymbolErr())
	}

	positions, err := g.client.PositionsForSymbol(ctx, symbol)
	return resolve(g, ctx, opPosition, positions, err,
		zap.String("symbol", symbol),
	), nil
}

// AvailableMargin 查询可用保证金。
func (g *Gateway) AvailableMargin(ctx context.Context) (Result[broker.MarginSnapshot], error) {
	margin, err := g.client.AvailableMargin(ctx)
	return resolve(g, ctx, opAvailableMargin, margin, err), nil
}

// LatestIndex 查询指数最新快照。
func (g *Gateway) LatestIndex(ctx context.Context, query broker.QuoteQuery) (Result[broker.IndexQuote], error) {
	if err := query.Validate(); err != nil {
		return reject[broker.IndexQuote](g, opLatestIndex, err)
	}

	quote, err := g.client.LatestIndex(ctx, query)
	return resolve(g, ctx, opLatestIndex, quote, err,
		zap.String("symbol", query.Symbol),
	), nil
}

// LatestPrice 查询标的最新价格快照。
func (g *Gateway) LatestPrice(ctx context.Context, query broker.QuoteQuery) (Result[broker.PriceQuote], error) {
	if err := query.Validate(); err != nil {
		return reject[broker.PriceQuote](g, opLatestPrice, err)
	}

	quote, err := g.client.LatestPrice(ctx, query)
	return resolve(g, ctx, opLatestPrice, quote, err,
		zap.String("symbol", query.Symbol),
	), nil
}

// MarketDepth 查询买卖盘口。
func (g *Gateway) MarketDepth(ctx context.Context, query broker.QuoteQuery) (Result[broker.MarketDepth], error) {
	if err := query.Validate(); err != nil {
		return reject[broker.MarketDepth](g, opMarketDepth, err)
	}

	depth, err := g.client.MarketDepth(ctx, query)
	return resolve(g, ctx, opMarketDepth, depth, err,
		zap.String("symbol", query.Symbol),
	), nil
}

// HistoricalCandles 查询历史K线序列。
func (g *Gateway) HistoricalCandles(ctx context.Context, query broker.CandleQuery) (Result[broker.CandleSeries], error) {
	if err := query.Validate(); err != nil {
		return reject[broker.CandleSeries](g, opCandles, err)
	}

	series, err := g.client.HistoricalCandles(ctx, query)
	return resolve(g, ctx, opCandles, series, err,
		zap.String("symbol", query.Symbol),
		zap.String("interval", query.Interval),
		zap.Int("candles", len(series.Candles)),
	), nil
}

// resolve 统一收尾：恰好一条日志，按需落流水，区分成功与缺失。
func resolve[T any](g *Gateway, ctx context.Context, op string, value T, err error, fields ...zap.Field) Result[T] {
	if err != nil {
		kind := broker.FailureKind(err)
		g.logger.Error("券商调用失败",
			append(fields,
				zap.String("operation", op),
				zap.String("kind", kind),
				zap.Error(err),
			)...,
		)
		if g.journal != nil {
			g.journal.RecordCall(ctx, journal.Call{
				Operation: op,
				OK:        false,
				Kind:      kind,
				Error:     err.Error(),
			})
		}
		return Failure[T](err)
	}

	g.logger.Info("券商调用成功",
		append(fields, zap.String("operation", op))...,
	)
	if g.journal != nil {
		g.journal.RecordCall(ctx, journal.Call{
			Operation: op,
			OK:        true,
			Payload:   value,
		})
	}
	return Success(value)
}

// reject 处理调用方违反约定的请求：记一条日志后原样传播。
func reject[T any](g *Gateway, op string, err error) (Result[T], error) {
	g.logger.Error("请求未通过校验",
		zap.String("operation", op),
		zap.Error(err),
	)
	return Failure[T](err), err
}

func emptySymbolErr() error {
	return fmt.Errorf("%w: symbol 不能为空", broker.ErrInvalidRequest)
}

func invalidSegmentErr(segment broker.Segment) error {
	return fmt.Errorf("%w: 无效的 segment %q", broker.ErrInvalidRequest, segment)
}

func validateHandle(handle broker.OrderHandle, segment broker.Segment) error {
	if err := handle.Validate(); err != nil {
		return err
	}
	if !segment.Valid() {
		return invalidSegmentErr(segment)
	}
	return nil
}
