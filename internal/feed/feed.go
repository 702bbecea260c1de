package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"broker-gateway/internal/config"
)

// Channel 表示订阅的行情通道。
type Channel string

const (
	ChannelPrice      Channel = "price"
	ChannelDepth      Channel = "depth"
	ChannelMarketInfo Channel = "market_info"
)

var (
	// ErrNoData 表示限定时间内尚未收到任何数据，是一种约定内结果而非故障。
	ErrNoData = errors.New("feed: no data received yet")
	// ErrClosed 表示订阅器已关闭。
	ErrClosed = errors.New("feed: closed")
)

// Update 为某个通道收到的最新一条推送。
type Update struct {
	Symbol     string
	Channel    Channel
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Conn 抽象底层 WebSocket 连接，便于测试替换。
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer 建立底层连接，默认实现基于 gorilla/websocket。
type Dialer func(ctx context.Context, url string) (Conn, error)

type subKey struct {
	symbol  string
	channel Channel
}

type wireMessage struct {
	Channel Channel         `json:"channel"`
	Symbol  string          `json:"symbol"`
	Data    json.RawMessage `json:"data"`
}

type subscribeFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

type authFrame struct {
	Action string `json:"action"`
	Token  string `json:"token"`
	Key    string `json:"key"`
}

// Feed 维护到行情推送服务的订阅，并缓存每个通道的最新值。
// 缓存由读取协程异步更新，GetLatest 是唯一可能阻塞的操作。
type Feed struct {
	cfg    config.FeedConfig
	logger *zap.Logger
	dial   Dialer

	mu      sync.Mutex
	conn    Conn
	subs    map[subKey]struct{}
	latest  map[subKey]Update
	changed chan struct{}
	closed  bool
}

// Option 配置 Feed。
type Option func(*Feed)

// WithDialer 替换底层连接的建立方式。
func WithDialer(dial Dialer) Option {
	return func(f *Feed) {
		f.dial = dial
	}
}

// New 创建订阅器，首次 Subscribe 时才建立连接。
func New(cfg config.FeedConfig, logger *zap.Logger, opts ...Option) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Feed{
		cfg:     cfg,
		logger:  logger,
		dial:    defaultDialer(cfg.HandshakeTimeout),
		subs:    make(map[subKey]struct{}),
		latest:  make(map[subKey]Update),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe 注册对 symbol+channel 的订阅，重复订阅同一组合是空操作。
func (f *Feed) Subscribe(ctx context.Context, symbol string, channel Channel) error {
	if symbol == "" {
		return fmt.Errorf("feed: symbol 不能为空")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	key := subKey{symbol: symbol, channel: channel}
	if _, ok := f.subs[key]; ok {
		return nil
	}

	if err := f.ensureConnLocked(ctx); err != nil {
		return err
	}

	frame := subscribeFrame{
		Action:  "subscribe",
		Channel: string(channel),
		Symbol:  symbol,
	}
	if err := f.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("feed: 发送订阅帧失败: %w", err)
	}

	f.subs[key] = struct{}{}
	f.logger.Info("已订阅行情通道",
		zap.String("symbol", symbol),
		zap.String("channel", string(channel)),
	)
	return nil
}

// GetLatest 返回指定通道缓存的最新值，最多等待 timeout。
// 超时未收到数据返回 ErrNoData；timeout 为 0 时立即返回。
func (f *Feed) GetLatest(symbol string, channel Channel, timeout time.Duration) (Update, error) {
	key := subKey{symbol: symbol, channel: channel}

	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return Update{}, ErrClosed
		}
		if update, ok := f.latest[key]; ok {
			f.mu.Unlock()
			return update, nil
		}
		changed := f.changed
		f.mu.Unlock()

		if timeout <= 0 {
			return Update{}, ErrNoData
		}

		select {
		case <-changed:
		case <-expire:
			return Update{}, ErrNoData
		}
	}
}

// Close 释放底层连接。从未订阅或重复关闭都是安全的。
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	conn := f.conn
	f.conn = nil
	close(f.changed)
	f.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (f *Feed) ensureConnLocked(ctx context.Context) error {
	if f.conn != nil {
		return nil
	}

	conn, err := f.dial(ctx, f.cfg.URL)
	if err != nil {
		return fmt.Errorf("feed: 连接行情服务失败: %w", err)
	}

	auth := authFrame{
		Action: "auth",
		Token:  f.cfg.SocketToken,
		Key:    f.cfg.SocketKey,
	}
	if err := conn.WriteJSON(auth); err != nil {
		_ = conn.Close()
		return fmt.Errorf("feed: 发送认证帧失败: %w", err)
	}

	f.conn = conn
	go f.readLoop(conn)
	return nil
}

// readLoop 将推送写入最新值缓存，连接断开后清理，等待下次订阅重建。
func (f *Feed) readLoop(conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			if !f.closed && f.conn == conn {
				f.conn = nil
				f.subs = make(map[subKey]struct{})
				f.logger.Warn("行情连接中断", zap.Error(err))
			}
			f.mu.Unlock()
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Warn("丢弃无法解析的行情帧", zap.Error(err))
			continue
		}
		if msg.Symbol == "" || msg.Channel == "" {
			continue
		}

		key := subKey{symbol: msg.Symbol, channel: msg.Channel}
		update := Update{
			Symbol:     msg.Symbol,
			Channel:    msg.Channel,
			Payload:    msg.Data,
			ReceivedAt: time.Now().UTC(),
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		f.latest[key] = update
		close(f.changed)
		f.changed = make(chan struct{})
		f.mu.Unlock()
	}
}

func defaultDialer(handshakeTimeout time.Duration) Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, http.Header{})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
