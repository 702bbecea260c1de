package broker

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Exchange 表示订单路由的交易所，取值由券商定义。
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
)

// Segment 表示交易板块。
type Segment string

const (
	SegmentCash Segment = "CASH"
	SegmentFNO  Segment = "FNO"
)

// Product 表示持仓产品类型。
type Product string

const (
	ProductCNC Product = "CNC"
	ProductMIS Product = "MIS"
	ProductCO  Product = "CO"
)

// OrderType 表示委托类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TransactionType 表示买卖方向。
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Duration 表示订单有效期。
type Duration string

const (
	DurationDay Duration = "DAY"
	DurationIOC Duration = "IOC"
)

// Valid 校验枚举取值。
func (e Exchange) Valid() bool {
	return e == ExchangeNSE || e == ExchangeBSE
}

func (s Segment) Valid() bool {
	return s == SegmentCash || s == SegmentFNO
}

func (p Product) Valid() bool {
	return p == ProductCNC || p == ProductMIS || p == ProductCO
}

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

func (d Duration) Valid() bool {
	return d == DurationDay || d == DurationIOC
}

// OrderRequest 描述一笔新委托，构造后不再修改。
type OrderRequest struct {
	Symbol          string
	Exchange        Exchange
	Segment         Segment
	Product         Product
	OrderType       OrderType
	TransactionType TransactionType
	Duration        Duration
	Price           float64
	Quantity        int64
	Timeout         time.Duration
}

// Validate 在请求发往券商前校验约定，违反约定属于调用方错误。
func (r OrderRequest) Validate() error {
	var err error

	if r.Symbol == "" {
		err = multierr.Append(err, fmt.Errorf("%w: symbol 不能为空", ErrInvalidRequest))
	}
	if !r.Exchange.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 exchange %q", ErrInvalidRequest, r.Exchange))
	}
	if !r.Segment.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 segment %q", ErrInvalidRequest, r.Segment))
	}
	if !r.Product.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 product %q", ErrInvalidRequest, r.Product))
	}
	if !r.OrderType.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 order_type %q", ErrInvalidRequest, r.OrderType))
	}
	if !r.TransactionType.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 transaction_type %q", ErrInvalidRequest, r.TransactionType))
	}
	if !r.Duration.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 duration %q", ErrInvalidRequest, r.Duration))
	}
	if r.Quantity <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: quantity 必须大于0", ErrInvalidRequest))
	}
	if r.OrderType == OrderTypeLimit && r.Price < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: 限价单 price 不能为负", ErrInvalidRequest))
	}

	return err
}

// OrderHandle 是引用既有订单所需的标识对，由成功下单返回，永不本地销毁。
type OrderHandle struct {
	BrokerOrderID     string
	ClientReferenceID string
}

// Validate 校验句柄是否可用于后续操作。
func (h OrderHandle) Validate() error {
	if h.BrokerOrderID == "" {
		return fmt.Errorf("%w: broker_order_id 不能为空", ErrInvalidRequest)
	}
	return nil
}

// ModifyRequest 描述对既有订单的改单请求。
type ModifyRequest struct {
	Handle    OrderHandle
	Segment   Segment
	OrderType OrderType
	Price     float64
	Quantity  int64
}

func (r ModifyRequest) Validate() error {
	var err error

	if vErr := r.Handle.Validate(); vErr != nil {
		err = multierr.Append(err, vErr)
	}
	if !r.Segment.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 segment %q", ErrInvalidRequest, r.Segment))
	}
	if !r.OrderType.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 order_type %q", ErrInvalidRequest, r.OrderType))
	}
	if r.Quantity <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: quantity 必须大于0", ErrInvalidRequest))
	}
	if r.OrderType == OrderTypeLimit && r.Price < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: 限价单 price 不能为负", ErrInvalidRequest))
	}

	return err
}

// OrderAck 为成功下单的回执。
type OrderAck struct {
	Handle   OrderHandle
	Symbol   string
	Status   string
	PlacedAt time.Time
}

// ModifyAck 为改单回执。
type ModifyAck struct {
	Handle    OrderHandle
	Status    string
	UpdatedAt time.Time
}

// CancelAck 为撤单回执。
type CancelAck struct {
	Handle      OrderHandle
	Status      string
	CancelledAt time.Time
}

// OrderDetail 为订单的完整状态。
type OrderDetail struct {
	Handle    OrderHandle
	Symbol    string
	Type      string
	Side      string
	Status    string
	Price     float64
	Quantity  float64
	Filled    float64
	Remaining float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fill 表示订单的一笔成交。
type Fill struct {
	TradeID       string
	BrokerOrderID string
	Symbol        string
	Side          string
	Price         float64
	Quantity      float64
	Cost          float64
	ExecutedAt    time.Time
}

// Holding 表示一项持仓资产。
type Holding struct {
	Symbol   string
	Quantity float64
	Free     float64
	Locked   float64
}

// Position 表示单个标的的仓位详情，每次查询实时刷新，不做缓存。
type Position struct {
	Symbol       string
	Side         string
	Quantity     float64
	AveragePrice float64
	MarkPrice    float64
	Unrealized   float64
	UpdatedAt    time.Time
}

// MarginSnapshot 为查询时刻的可用保证金。
type MarginSnapshot struct {
	Currency  string
	Available float64
	Used      float64
	Total     float64
	Timestamp time.Time
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// CandleSeries 为一段时间范围内按时间排序的K线序列。
type CandleSeries struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Candles  []Candle
}

// CandleQuery 描述一次历史K线查询。Interval 为空时使用券商默认粒度。
type CandleQuery struct {
	Symbol   string
	Exchange Exchange
	Segment  Segment
	Start    time.Time
	End      time.Time
	Interval string
}

func (q CandleQuery) Validate() error {
	var err error

	if q.Symbol == "" {
		err = multierr.Append(err, fmt.Errorf("%w: symbol 不能为空", ErrInvalidRequest))
	}
	if !q.Exchange.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 exchange %q", ErrInvalidRequest, q.Exchange))
	}
	if !q.Segment.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 segment %q", ErrInvalidRequest, q.Segment))
	}
	if q.Start.IsZero() || q.End.IsZero() {
		err = multierr.Append(err, fmt.Errorf("%w: start/end 不能为空", ErrInvalidRequest))
	} else if q.End.Before(q.Start) {
		err = multierr.Append(err, fmt.Errorf("%w: end 不能早于 start", ErrInvalidRequest))
	}

	return err
}

// QuoteQuery 描述一次行情类查询（最新价、指数、盘口）。
type QuoteQuery struct {
	Symbol   string
	Exchange Exchange
	Segment  Segment
}

func (q QuoteQuery) Validate() error {
	var err error

	if q.Symbol == "" {
		err = multierr.Append(err, fmt.Errorf("%w: symbol 不能为空", ErrInvalidRequest))
	}
	if !q.Exchange.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 exchange %q", ErrInvalidRequest, q.Exchange))
	}
	if !q.Segment.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: 无效的 segment %q", ErrInvalidRequest, q.Segment))
	}

	return err
}

// PriceQuote 为单个标的的最新价格快照。
type PriceQuote struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	Timestamp time.Time
}

// IndexQuote 为指数的最新快照。
type IndexQuote struct {
	Symbol    string
	Value     float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	Timestamp time.Time
}

// DepthLevel 表示盘口档位。
type DepthLevel struct {
	Price    float64
	Quantity float64
}

// MarketDepth 为买卖盘口快照。
type MarketDepth struct {
	Symbol    string
	Bids      []DepthLevel
	Asks      []DepthLevel
	Timestamp time.Time
}
