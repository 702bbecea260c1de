package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/config"
	"broker-gateway/internal/feed"
	"broker-gateway/internal/gateway"
	"broker-gateway/internal/journal"
	"broker-gateway/internal/store"
)

// App 聚合核心依赖并驱动网关的演示流程。
// 轮询节奏属于调用方，网关本身不包含任何循环。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 初始化网关与行情订阅，按调度间隔重复执行演示流程，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("网关已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("broker", a.cfg.Broker.Name),
		zap.Bool("sandbox", a.cfg.Broker.UseSandbox),
		zap.Bool("trading_enabled", a.cfg.Trading.Enabled),
	)

	recorder, err := journal.NewRecorder(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化调用流水失败: %w", err)
	}

	client := broker.NewClient(a.cfg.Broker, a.logger)
	gw := gateway.New(client, recorder, a.logger)

	quotes := feed.New(a.cfg.Feed, a.logger)
	defer func() {
		if closeErr := quotes.Close(); closeErr != nil {
			a.logger.Warn("关闭行情订阅失败", zap.Error(closeErr))
		}
	}()

	if a.cfg.Monitor.Enabled {
		if err := startCallsServer(ctx, recorder, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	a.runFlows(ctx, gw, quotes)

	loopInterval := a.cfg.Scheduler.LoopInterval
	if loopInterval <= 0 {
		loopInterval = time.Minute
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.runFlows(ctx, gw, quotes)
		}
	}
}

// runFlows 依次执行查询流程、可选的订单生命周期流程与行情订阅流程。
// 每个网关操作自带日志与流水，这里只根据缺失结果决定流程走向。
func (a *App) runFlows(ctx context.Context, gw *gateway.Gateway, quotes *feed.Feed) {
	trading := a.cfg.Trading

	priceQuery := broker.QuoteQuery{
		Symbol:   trading.Symbol,
		Exchange: broker.Exchange(trading.Exchange),
		Segment:  broker.Segment(trading.Segment),
	}
	indexQuery := priceQuery
	indexQuery.Symbol = trading.IndexSymbol

	// 查询流程
	if _, err := gw.OpenOrders(ctx); err != nil {
		a.logger.Warn("查询委托请求被拒绝", zap.Error(err))
	}
	if _, err := gw.LatestIndex(ctx, indexQuery); err != nil {
		a.logger.Warn("指数查询请求被拒绝", zap.Error(err))
	}
	if _, err := gw.LatestPrice(ctx, priceQuery); err != nil {
		a.logger.Warn("价格查询请求被拒绝", zap.Error(err))
	}
	if _, err := gw.MarketDepth(ctx, priceQuery); err != nil {
		a.logger.Warn("盘口查询请求被拒绝", zap.Error(err))
	}
	if _, err := gw.Holdings(ctx); err != nil {
		a.logger.Warn("持仓查询请求被拒绝", zap.Error(err))
	}

	if _, err := gw.MarketSnapshot(ctx, gateway.SnapshotRequest{
		Query:    priceQuery,
		Interval: trading.CandleInterval,
		Lookback: trading.CandleLookback,
	}); err != nil {
		a.logger.Warn("行情快照请求被拒绝", zap.Error(err))
	}

	// 订单流程，仅在显式开启且沙箱模式下执行
	if trading.Enabled && a.cfg.Broker.UseSandbox {
		a.runOrderFlow(ctx, gw, trading)
	}

	// 仓位流程
	if positions, err := gw.Positions(ctx); err == nil {
		if all, ok := positions.Get(); ok && len(all) > 0 {
			for symbol := range all {
				if _, err := gw.Position(ctx, symbol); err != nil {
					a.logger.Warn("单标的仓位请求被拒绝", zap.Error(err))
				}
				break
			}
		}
	}

	if _, err := gw.AvailableMargin(ctx); err != nil {
		a.logger.Warn("保证金查询请求被拒绝", zap.Error(err))
	}

	// 行情订阅流程
	if err := quotes.Subscribe(ctx, trading.Symbol, feed.ChannelPrice); err != nil {
		a.logger.Warn("订阅行情失败", zap.Error(err))
		return
	}

	update, err := quotes.GetLatest(trading.Symbol, feed.ChannelPrice, a.cfg.Feed.PollTimeout)
	switch {
	case errors.Is(err, feed.ErrNoData):
		a.logger.Info("限定时间内未收到行情推送",
			zap.String("symbol", trading.Symbol),
			zap.Duration("timeout", a.cfg.Feed.PollTimeout),
		)
	case err != nil:
		a.logger.Warn("读取行情缓存失败", zap.Error(err))
	default:
		a.logger.Info("最新行情推送",
			zap.String("symbol", update.Symbol),
			zap.Time("received_at", update.ReceivedAt),
			zap.ByteString("payload", update.Payload),
		)
	}
}

// runOrderFlow 演示完整的订单生命周期：下单、查详情、查成交、撤单。
func (a *App) runOrderFlow(ctx context.Context, gw *gateway.Gateway, trading config.TradingConfig) {
	request := broker.OrderRequest{
		Symbol:          trading.Symbol,
		Exchange:        broker.Exchange(trading.Exchange),
		Segment:         broker.Segment(trading.Segment),
		Product:         broker.Product(trading.Product),
		OrderType:       broker.OrderType(trading.OrderType),
		TransactionType: broker.TransactionType(trading.TransactionType),
		Duration:        broker.Duration(trading.Duration),
		Price:           trading.Price,
		Quantity:        trading.Quantity,
		Timeout:         trading.Timeout,
	}

	placed, err := gw.PlaceOrder(ctx, request)
	if err != nil {
		a.logger.Warn("下单请求被拒绝", zap.Error(err))
		return
	}

	ack, ok := placed.Get()
	if !ok {
		return
	}

	segment := broker.Segment(trading.Segment)
	if _, err := gw.ModifyOrder(ctx, broker.ModifyRequest{
		Handle:    ack.Handle,
		Segment:   segment,
		OrderType: request.OrderType,
		Price:     request.Price,
		Quantity:  request.Quantity,
	}); err != nil {
		a.logger.Warn("改单请求被拒绝", zap.Error(err))
	}
	if _, err := gw.OrderDetail(ctx, ack.Handle, segment); err != nil {
		a.logger.Warn("订单详情请求被拒绝", zap.Error(err))
	}
	if _, err := gw.TradesForOrder(ctx, ack.Handle, segment); err != nil {
		a.logger.Warn("成交查询请求被拒绝", zap.Error(err))
	}
	if _, err := gw.CancelOrder(ctx, ack.Handle, segment); err != nil {
		a.logger.Warn("撤单请求被拒绝", zap.Error(err))
	}
}
