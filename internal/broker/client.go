package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"broker-gateway/internal/config"
)

// brokerSDK 收窄网关实际用到的 ccxt 调用面，便于测试替换。
type brokerSDK interface {
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	EditOrder(id string, symbol string, typeVar string, side string, options ...ccxt.EditOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	FetchMyTrades(options ...ccxt.FetchMyTradesOptions) ([]ccxt.Trade, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
}

// Client 将领域请求翻译为底层 ccxt SDK 调用并转换响应。
// 认证、签名、限流、重连均由 SDK 负责。
// SDK 的订单类接口要求标的符号，而订单句柄只携带编号，
// Client 维护一份编号到符号的映射：下单与列单时写入，改撤查单时读取。
type Client struct {
	cfg      config.BrokerConfig
	logger   *zap.Logger
	exchange brokerSDK

	marketsMu     sync.Mutex
	marketsLoaded bool

	symbolsMu sync.RWMutex
	symbols   map[string]string
}

// NewClient 根据配置构造券商客户端。
func NewClient(cfg config.BrokerConfig, logger *zap.Logger) *Client {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.Timeout > 0 {
		userConfig["timeout"] = cfg.Timeout.Milliseconds()
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return newClient(cfg, logger, ex)
}

func newClient(cfg config.BrokerConfig, logger *zap.Logger, sdk brokerSDK) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: sdk,
		symbols:  make(map[string]string),
	}
}

// PlaceOrder 提交新委托。重复调用会产生重复订单，本层不做去重。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	clientRef := uuid.NewString()

	params := map[string]interface{}{
		"exchange":      string(req.Exchange),
		"segment":       string(req.Segment),
		"product":       string(req.Product),
		"duration":      string(req.Duration),
		"clientOrderId": clientRef,
	}

	opts := []ccxt.CreateOrderOptions{ccxt.WithCreateOrderParams(params)}
	if req.OrderType == OrderTypeLimit {
		opts = append(opts, ccxt.WithCreateOrderPrice(req.Price))
	}

	order, err := callBounded(ctx, c.timeoutFor(req.Timeout), func() (ccxt.Order, error) {
		return c.exchange.CreateOrder(
			req.Symbol,
			strings.ToLower(string(req.OrderType)),
			strings.ToLower(string(req.TransactionType)),
			float64(req.Quantity),
			opts...,
		)
	})
	if err != nil {
		return OrderAck{}, fmt.Errorf("broker: 下单失败: %w", err)
	}

	id := derefString(order.Id)
	if id == "" {
		return OrderAck{}, fmt.Errorf("broker: 下单响应缺少订单号: %w", ErrMissingField)
	}

	symbol := derefString(order.Symbol)
	if symbol == "" {
		symbol = req.Symbol
	}
	c.rememberSymbol(id, symbol)

	return OrderAck{
		Handle: OrderHandle{
			BrokerOrderID:     id,
			ClientReferenceID: clientRef,
		},
		Symbol:   symbol,
		Status:   strings.ToUpper(derefString(order.Status)),
		PlacedAt: tsFromMillis(order.Timestamp),
	}, nil
}

// ModifyOrder 改写既有订单的价格、数量或类型。
// SDK 的改单接口需要标的与方向，这里先查单补全。
func (c *Client) ModifyOrder(ctx context.Context, req ModifyRequest) (ModifyAck, error) {
	current, err := c.fetchOrder(ctx, req.Handle, req.Segment)
	if err != nil {
		return ModifyAck{}, fmt.Errorf("broker: 改单前查询订单失败: %w", err)
	}

	symbol := derefString(current.Symbol)
	side := derefString(current.Side)
	if symbol == "" || side == "" {
		return ModifyAck{}, fmt.Errorf("broker: 订单缺少标的或方向: %w", ErrMissingField)
	}

	opts := []ccxt.EditOrderOptions{
		ccxt.WithEditOrderAmount(float64(req.Quantity)),
		ccxt.WithEditOrderParams(map[string]interface{}{
			"segment":       string(req.Segment),
			"clientOrderId": req.Handle.ClientReferenceID,
		}),
	}
	if req.OrderType == OrderTypeLimit {
		opts = append(opts, ccxt.WithEditOrderPrice(req.Price))
	}

	order, err := callBounded(ctx, c.timeoutFor(0), func() (ccxt.Order, error) {
		return c.exchange.EditOrder(
			req.Handle.BrokerOrderID,
			symbol,
			strings.ToLower(string(req.OrderType)),
			strings.ToLower(side),
			opts...,
		)
	})
	if err != nil {
		return ModifyAck{}, fmt.Errorf("broker: 改单失败: %w", err)
	}

	id := derefString(order.Id)
	if id == "" {
		id = req.Handle.BrokerOrderID
	}
	c.rememberSymbol(id, symbol)

	return ModifyAck{
		Handle: OrderHandle{
			BrokerOrderID:     id,
			ClientReferenceID: req.Handle.ClientReferenceID,
		},
		Status:    strings.ToUpper(derefString(order.Status)),
		UpdatedAt: tsFromMillis(order.Timestamp),
	}, nil
}

// CancelOrder 撤销既有订单。对已终态订单撤单由券商拒绝，表现为运行期失败。
func (c *Client) CancelOrder(ctx context.Context, handle OrderHandle, segment Segment) (CancelAck, error) {
	symbol, err := c.resolveSymbol(ctx, handle)
	if err != nil {
		return CancelAck{}, fmt.Errorf("broker: 撤单失败: %w", err)
	}

	order, err := callBounded(ctx, c.timeoutFor(0), func() (ccxt.Order, error) {
		return c.exchange.CancelOrder(
			handle.BrokerOrderID,
			ccxt.WithCancelOrderSymbol(symbol),
			ccxt.WithCancelOrderParams(map[string]interface{}{
				"segment":       string(segment),
				"clientOrderId": handle.ClientReferenceID,
			}),
		)
	})
	if err != nil {
		return CancelAck{}, fmt.Errorf("broker: 撤单失败: %w", err)
	}

	return CancelAck{
		Handle:      handle,
		Status:      strings.ToUpper(derefString(order.Status)),
		CancelledAt: tsFromMillis(order.Timestamp),
	}, nil
}

// OrderDetail 查询订单完整状态。
func (c *Client) OrderDetail(ctx context.Context, handle OrderHandle, segment Segment) (OrderDetail, error) {
	order, err := c.fetchOrder(ctx, handle, segment)
	if err != nil {
		return OrderDetail{}, fmt.Errorf("broker: 查询订单失败: %w", err)
	}

	if derefString(order.Id) == "" {
		return OrderDetail{}, fmt.Errorf("broker: 订单响应缺少订单号: %w", ErrMissingField)
	}

	return orderDetailFromSDK(order, handle.ClientReferenceID), nil
}

// TradesForOrder 查询订单的成交明细，空序列是合法结果。
func (c *Client) TradesForOrder(ctx context.Context, handle OrderHandle, segment Segment) ([]Fill, error) {
	symbol, err := c.resolveSymbol(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("broker: 查询成交失败: %w", err)
	}

	trades, err := callBounded(ctx, c.timeoutFor(0), func() ([]ccxt.Trade, error) {
		return c.exchange.FetchMyTrades(
			ccxt.WithFetchMyTradesSymbol(symbol),
			ccxt.WithFetchMyTradesParams(map[string]interface{}{
				"segment": string(segment),
			}),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 查询成交失败: %w", err)
	}

	fills := make([]Fill, 0, len(trades))
	for _, trade := range trades {
		if derefString(trade.Order) != handle.BrokerOrderID {
			continue
		}
		fills = append(fills, fillFromSDK(trade))
	}
	return fills, nil
}

// OpenOrders 列出当前全部委托，并顺带更新编号到符号的映射。
func (c *Client) OpenOrders(ctx context.Context) ([]OrderDetail, error) {
	orders, err := callBounded(ctx, c.timeoutFor(0), func() ([]ccxt.Order, error) {
		return c.exchange.FetchOpenOrders()
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 查询当前委托失败: %w", err)
	}

	details := make([]OrderDetail, 0, len(orders))
	for _, order := range orders {
		c.rememberSymbol(derefString(order.Id), derefString(order.Symbol))
		details = append(details, orderDetailFromSDK(order, ""))
	}
	return details, nil
}

// Holdings 列出账户持仓资产。
func (c *Client) Holdings(ctx context.Context) ([]Holding, error) {
	balances, err := callBounded(ctx, c.timeoutFor(0), func() (ccxt.Balances, error) {
		return c.exchange.FetchBalance()
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 查询持仓资产失败: %w", err)
	}
	return holdingsFromSDK(balances), nil
}

// Positions 返回按标的索引的全部仓位，无仓位时返回空映射。
func (c *Client) Positions(ctx context.Context) (map[string]Position, error) {
	raw, err := callBounded(ctx, c.timeoutFor(0), func() ([]ccxt.Position, error) {
		return c.exchange.FetchPositions()
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 查询仓位失败: %w", err)
	}

	now := time.Now().UTC()
	positions := make(map[string]Position, len(raw))
	for _, rawPos := range raw {
		pos, ok := positionFromSDK(rawPos, now)
		if !ok {
			continue
		}
		positions[pos.Symbol] = pos
	}
	return positions, nil
}

// PositionsForSymbol 返回单个标的的仓位，空序列表示无仓位。
func (c *Client) PositionsForSymbol(ctx context.Context, symbol string) ([]Position, error) {
	all, err := c.Positions(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]Position, 0, 1)
	for _, pos := range all {
		if strings.EqualFold(pos.Symbol, symbol) {
			matched = append(matched, pos)
		}
	}
	return matched, nil
}

// AvailableMargin 查询可用保证金。
func (c *Client) AvailableMargin(ctx context.Context) (MarginSnapshot, error) {
	balances, err := callBounded(ctx, c.timeoutFor(0), func() (ccxt.Balances, error) {
		return c.exchange.FetchBalance()
	})
	if err != nil {
		return MarginSnapshot{}, fmt.Errorf("broker: 查询保证金失败: %w", err)
	}
	return marginFromSDK(balances, c.cfg.MarginCurrency), nil
}

// LatestPrice 查询标的最新价格快照。
func (c *Client) LatestPrice(ctx context.Context, query QuoteQuery) (PriceQuote, error) {
	ticker, err := c.fetchTicker(ctx, query)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("broker: 查询最新价失败: %w", err)
	}
	return quoteFromSDK(query.Symbol, ticker), nil
}

// LatestIndex 查询指数最新快照，指数对 SDK 而言只是普通符号。
func (c *Client) LatestIndex(ctx context.Context, query QuoteQuery) (IndexQuote, error) {
	ticker, err := c.fetchTicker(ctx, query)
	if err != nil {
		return IndexQuote{}, fmt.Errorf("broker: 查询指数失败: %w", err)
	}
	return indexFromSDK(query.Symbol, ticker), nil
}

// MarketDepth 查询买卖盘口。
func (c *Client) MarketDepth(ctx context.Context, query QuoteQuery) (MarketDepth, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return MarketDepth{}, err
	}

	book, err := callBounded(ctx, c.timeoutFor(0), func() (ccxt.OrderBook, error) {
		return c.exchange.FetchOrderBook(
			query.Symbol,
			ccxt.WithFetchOrderBookLimit(int64(c.cfg.DepthLevels)),
		)
	})
	if err != nil {
		return MarketDepth{}, fmt.Errorf("broker: 查询盘口失败: %w", err)
	}
	return depthFromSDK(query.Symbol, book), nil
}

// HistoricalCandles 查询历史K线。Interval 为空时由券商决定粒度。
func (c *Client) HistoricalCandles(ctx context.Context, query CandleQuery) (CandleSeries, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return CandleSeries{}, err
	}

	opts := []ccxt.FetchOHLCVOptions{
		ccxt.WithFetchOHLCVSince(query.Start.UnixMilli()),
	}
	if query.Interval != "" {
		opts = append(opts, ccxt.WithFetchOHLCVTimeframe(query.Interval))
	}

	raw, err := callBounded(ctx, c.timeoutFor(0), func() ([]ccxt.OHLCV, error) {
		return c.exchange.FetchOHLCV(query.Symbol, opts...)
	})
	if err != nil {
		return CandleSeries{}, fmt.Errorf("broker: 查询历史K线失败: %w", err)
	}

	return CandleSeries{
		Symbol:   query.Symbol,
		Interval: query.Interval,
		Start:    query.Start,
		End:      query.End,
		Candles:  candlesFromSDK(raw, query.Start, query.End),
	}, nil
}

func (c *Client) fetchOrder(ctx context.Context, handle OrderHandle, segment Segment) (ccxt.Order, error) {
	symbol, err := c.resolveSymbol(ctx, handle)
	if err != nil {
		return ccxt.Order{}, err
	}

	return callBounded(ctx, c.timeoutFor(0), func() (ccxt.Order, error) {
		return c.exchange.FetchOrder(
			handle.BrokerOrderID,
			ccxt.WithFetchOrderSymbol(symbol),
			ccxt.WithFetchOrderParams(map[string]interface{}{
				"segment":       string(segment),
				"clientOrderId": handle.ClientReferenceID,
			}),
		)
	})
}

func (c *Client) fetchTicker(ctx context.Context, query QuoteQuery) (ccxt.Ticker, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return ccxt.Ticker{}, err
	}
	return callBounded(ctx, c.timeoutFor(0), func() (ccxt.Ticker, error) {
		return c.exchange.FetchTicker(query.Symbol)
	})
}

// resolveSymbol 找回订单编号对应的标的符号。
// 优先读本地映射，缺失时回查当前委托补全；订单已终态且不在本进程
// 下过单时无法定位，按运行期失败处理。
func (c *Client) resolveSymbol(ctx context.Context, handle OrderHandle) (string, error) {
	if symbol, ok := c.cachedSymbol(handle.BrokerOrderID); ok {
		return symbol, nil
	}

	orders, err := callBounded(ctx, c.timeoutFor(0), func() ([]ccxt.Order, error) {
		return c.exchange.FetchOpenOrders()
	})
	if err != nil {
		return "", fmt.Errorf("broker: 回查委托定位标的失败: %w", err)
	}

	for _, order := range orders {
		c.rememberSymbol(derefString(order.Id), derefString(order.Symbol))
	}

	if symbol, ok := c.cachedSymbol(handle.BrokerOrderID); ok {
		return symbol, nil
	}
	return "", fmt.Errorf("broker: 当前委托中找不到订单 %q: %w", handle.BrokerOrderID, ErrUnknownOrder)
}

func (c *Client) rememberSymbol(orderID, symbol string) {
	if orderID == "" || symbol == "" {
		return
	}
	c.symbolsMu.Lock()
	c.symbols[orderID] = symbol
	c.symbolsMu.Unlock()
}

func (c *Client) cachedSymbol(orderID string) (string, bool) {
	c.symbolsMu.RLock()
	defer c.symbolsMu.RUnlock()
	symbol, ok := c.symbols[orderID]
	return symbol, ok
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	_, err := callBounded(ctx, c.timeoutFor(0), func() (map[string]ccxt.MarketInterface, error) {
		return c.exchange.LoadMarkets()
	})
	if err != nil {
		return fmt.Errorf("broker: 加载市场元数据失败: %w", err)
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("broker", c.cfg.Name))
	return nil
}

func (c *Client) timeoutFor(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return c.cfg.Timeout
}

// callBounded 在调用方给定的超时内等待底层 SDK 返回。
// SDK 调用本身不可中途取消，超时后其结果被丢弃。
func callBounded[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		return fn()
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn()
		done <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("%w (%s)", ErrTimeout, timeout)
	}
}
