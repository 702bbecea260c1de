package broker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

func orderDetailFromSDK(order ccxt.Order, clientRef string) OrderDetail {
	ts := tsFromMillis(order.Timestamp)
	if clientRef == "" {
		clientRef = derefString(order.ClientOrderId)
	}
	return OrderDetail{
		Handle: OrderHandle{
			BrokerOrderID:     derefString(order.Id),
			ClientReferenceID: clientRef,
		},
		Symbol:    derefString(order.Symbol),
		Type:      strings.ToUpper(derefString(order.Type)),
		Side:      strings.ToUpper(derefString(order.Side)),
		Status:    strings.ToUpper(derefString(order.Status)),
		Price:     derefFloat(order.Price),
		Quantity:  derefFloat(order.Amount),
		Filled:    derefFloat(order.Filled),
		Remaining: derefFloat(order.Remaining),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func fillFromSDK(trade ccxt.Trade) Fill {
	return Fill{
		TradeID:       derefString(trade.Id),
		BrokerOrderID: derefString(trade.Order),
		Symbol:        derefString(trade.Symbol),
		Side:          strings.ToUpper(derefString(trade.Side)),
		Price:         derefFloat(trade.Price),
		Quantity:      derefFloat(trade.Amount),
		Cost:          derefFloat(trade.Cost),
		ExecutedAt:    tsFromMillis(trade.Timestamp),
	}
}

func quoteFromSDK(symbol string, ticker ccxt.Ticker) PriceQuote {
	if s := derefString(ticker.Symbol); s != "" {
		symbol = s
	}
	return PriceQuote{
		Symbol:    symbol,
		Last:      derefFloat(ticker.Last),
		Bid:       derefFloat(ticker.Bid),
		Ask:       derefFloat(ticker.Ask),
		Open:      derefFloat(ticker.Open),
		High:      derefFloat(ticker.High),
		Low:       derefFloat(ticker.Low),
		PrevClose: derefFloat(ticker.PreviousClose),
		Timestamp: tsFromMillis(ticker.Timestamp),
	}
}

func indexFromSDK(symbol string, ticker ccxt.Ticker) IndexQuote {
	quote := quoteFromSDK(symbol, ticker)
	return IndexQuote{
		Symbol:    quote.Symbol,
		Value:     quote.Last,
		Open:      quote.Open,
		High:      quote.High,
		Low:       quote.Low,
		PrevClose: quote.PrevClose,
		Timestamp: quote.Timestamp,
	}
}

func depthFromSDK(symbol string, book ccxt.OrderBook) MarketDepth {
	bids := make([]DepthLevel, 0, len(book.Bids))
	for _, level := range book.Bids {
		if len(level) < 2 {
			continue
		}
		bids = append(bids, DepthLevel{Price: level[0], Quantity: level[1]})
	}

	asks := make([]DepthLevel, 0, len(book.Asks))
	for _, level := range book.Asks {
		if len(level) < 2 {
			continue
		}
		asks = append(asks, DepthLevel{Price: level[0], Quantity: level[1]})
	}

	ts := time.Now().UTC()
	if book.Timestamp != nil {
		ts = time.UnixMilli(*book.Timestamp).UTC()
	}

	return MarketDepth{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
}

func candlesFromSDK(raw []ccxt.OHLCV, start, end time.Time) []Candle {
	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		if ts.Before(start) || (!end.IsZero() && ts.After(end)) {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles
}

func holdingsFromSDK(balances ccxt.Balances) []Holding {
	symbols := make([]string, 0, len(balances.Total))
	for code := range balances.Total {
		symbols = append(symbols, code)
	}
	sort.Strings(symbols)

	holdings := make([]Holding, 0, len(symbols))
	for _, code := range symbols {
		total := derefFloat(balances.Total[code])
		if total == 0 {
			continue
		}
		var free, locked float64
		if balances.Free != nil {
			free = derefFloat(balances.Free[code])
		}
		if balances.Used != nil {
			locked = derefFloat(balances.Used[code])
		}
		holdings = append(holdings, Holding{
			Symbol:   code,
			Quantity: total,
			Free:     free,
			Locked:   locked,
		})
	}
	return holdings
}

func marginFromSDK(balances ccxt.Balances, currency string) MarginSnapshot {
	snapshot := MarginSnapshot{
		Currency:  currency,
		Timestamp: time.Now().UTC(),
	}

	if balances.Free != nil {
		snapshot.Available = derefFloat(balances.Free[currency])
	}
	if balances.Used != nil {
		snapshot.Used = derefFloat(balances.Used[currency])
	}
	if balances.Total != nil {
		snapshot.Total = derefFloat(balances.Total[currency])
	}

	// 部分券商只在原始负载里给出可用保证金。
	if snapshot.Total == 0 && balances.Info != nil {
		if v := parseNumeric(balances.Info["availableMargin"]); v > 0 {
			snapshot.Available = v
			snapshot.Total = v + snapshot.Used
		}
	}

	return snapshot
}

func positionFromSDK(raw ccxt.Position, now time.Time) (Position, bool) {
	symbol := derefString(raw.Symbol)
	size := derefFloat(raw.Contracts)
	if symbol == "" || size == 0 {
		return Position{}, false
	}

	side := strings.ToUpper(strings.TrimSpace(derefString(raw.Side)))
	if side == "" {
		side = "LONG"
	}

	return Position{
		Symbol:       symbol,
		Side:         side,
		Quantity:     size,
		AveragePrice: derefFloat(raw.EntryPrice),
		MarkPrice:    derefFloat(raw.MarkPrice),
		Unrealized:   derefFloat(raw.UnrealizedPnl),
		UpdatedAt:    now,
	}, true
}

func tsFromMillis(ms *int64) time.Time {
	if ms == nil || *ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(*ms).UTC()
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case fmt.Stringer:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
