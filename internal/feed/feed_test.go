package feed

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"broker-gateway/internal/config"
)

type stubConn struct {
	mu       sync.Mutex
	frames   []interface{}
	incoming chan []byte
	once     sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{incoming: make(chan []byte, 16)}
}

func (c *stubConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-c.incoming
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, raw, nil
}

func (c *stubConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.incoming) })
	return nil
}

func (c *stubConn) push(t *testing.T, msg wireMessage) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal wire message: %v", err)
	}
	c.incoming <- raw
}

func (c *stubConn) sentFrames() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}{}, c.frames...)
}

func newTestFeed(conn *stubConn) *Feed {
	cfg := config.FeedConfig{
		URL:         "wss://example.test/feed",
		SocketToken: "token",
		SocketKey:   "key",
	}
	return New(cfg, nil, WithDialer(func(_ context.Context, _ string) (Conn, error) {
		return conn, nil
	}))
}

func TestGetLatestWithoutDataReturnsNoData(t *testing.T) {
	feed := newTestFeed(newStubConn())
	defer feed.Close()

	if _, err := feed.GetLatest("X", ChannelPrice, 0); err != ErrNoData {
		t.Fatalf("expected ErrNoData for zero timeout, got %v", err)
	}

	start := time.Now()
	if _, err := feed.GetLatest("X", ChannelPrice, 50*time.Millisecond); err != ErrNoData {
		t.Fatalf("expected ErrNoData after bounded wait, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("bounded wait took too long: %v", elapsed)
	}
}

func TestSubscribeSendsAuthThenSubscribeFrame(t *testing.T) {
	conn := newStubConn()
	feed := newTestFeed(conn)
	defer feed.Close()

	if err := feed.Subscribe(context.Background(), "X", ChannelPrice); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	frames := conn.sentFrames()
	if len(frames) != 2 {
		t.Fatalf("expected auth + subscribe frames, got %d", len(frames))
	}
	auth, ok := frames[0].(authFrame)
	if !ok || auth.Action != "auth" || auth.Token != "token" {
		t.Errorf("unexpected first frame: %#v", frames[0])
	}
	sub, ok := frames[1].(subscribeFrame)
	if !ok || sub.Action != "subscribe" || sub.Symbol != "X" || sub.Channel != string(ChannelPrice) {
		t.Errorf("unexpected subscribe frame: %#v", frames[1])
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	conn := newStubConn()
	feed := newTestFeed(conn)
	defer feed.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := feed.Subscribe(ctx, "X", ChannelPrice); err != nil {
			t.Fatalf("Subscribe failed on attempt %d: %v", i, err)
		}
	}

	if frames := conn.sentFrames(); len(frames) != 2 {
		t.Errorf("repeated subscribe must not resend frames, got %d", len(frames))
	}

	if err := feed.Subscribe(ctx, "X", ChannelDepth); err != nil {
		t.Fatalf("Subscribe on new channel failed: %v", err)
	}
	if frames := conn.sentFrames(); len(frames) != 3 {
		t.Errorf("new channel must send one more frame, got %d", len(frames))
	}
}

func TestGetLatestReceivesPushedUpdate(t *testing.T) {
	conn := newStubConn()
	feed := newTestFeed(conn)
	defer feed.Close()

	if err := feed.Subscribe(context.Background(), "X", ChannelPrice); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	done := make(chan struct{})
	var update Update
	var err error
	go func() {
		update, err = feed.GetLatest("X", ChannelPrice, 2*time.Second)
		close(done)
	}()

	conn.push(t, wireMessage{Channel: ChannelPrice, Symbol: "X", Data: json.RawMessage(`{"ltp":101.5}`)})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("GetLatest did not return after push")
	}
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if update.Symbol != "X" || update.Channel != ChannelPrice {
		t.Errorf("unexpected update identity: %+v", update)
	}
	if string(update.Payload) != `{"ltp":101.5}` {
		t.Errorf("unexpected payload: %s", update.Payload)
	}
	if update.ReceivedAt.IsZero() {
		t.Errorf("expected receive timestamp")
	}
}

func TestLatestValueIsOverwritten(t *testing.T) {
	conn := newStubConn()
	feed := newTestFeed(conn)
	defer feed.Close()

	if err := feed.Subscribe(context.Background(), "X", ChannelPrice); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	conn.push(t, wireMessage{Channel: ChannelPrice, Symbol: "X", Data: json.RawMessage(`{"ltp":1}`)})
	conn.push(t, wireMessage{Channel: ChannelPrice, Symbol: "X", Data: json.RawMessage(`{"ltp":2}`)})

	deadline := time.Now().Add(2 * time.Second)
	for {
		update, err := feed.GetLatest("X", ChannelPrice, time.Second)
		if err != nil {
			t.Fatalf("GetLatest failed: %v", err)
		}
		if string(update.Payload) == `{"ltp":2}` {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("latest value never reached second push: %s", update.Payload)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseWithoutSubscribeIsSafe(t *testing.T) {
	feed := newTestFeed(newStubConn())

	if err := feed.Close(); err != nil {
		t.Fatalf("Close without subscribe failed: %v", err)
	}
	if err := feed.Close(); err != nil {
		t.Fatalf("repeated Close failed: %v", err)
	}

	if _, err := feed.GetLatest("X", ChannelPrice, time.Second); err != ErrClosed {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := feed.Subscribe(context.Background(), "X", ChannelPrice); err != ErrClosed {
		t.Errorf("expected ErrClosed on subscribe after close, got %v", err)
	}
}

func TestCloseWakesPendingGetLatest(t *testing.T) {
	conn := newStubConn()
	feed := newTestFeed(conn)

	if err := feed.Subscribe(context.Background(), "X", ChannelPrice); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := feed.GetLatest("X", ChannelPrice, 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := feed.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed for pending waiter, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending GetLatest was not woken by Close")
	}
}
