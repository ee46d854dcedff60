package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/fraudradar/internal/transactions"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

// fakeSub records delivered messages. With fail set, every Deliver errors.
type fakeSub struct {
	id     string
	msgs   chan []byte
	fail   error
	closed atomic.Bool
}

func newFakeSub(id string) *fakeSub {
	return &fakeSub{id: id, msgs: make(chan []byte, 1024)}
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(msg []byte) error {
	if f.fail != nil {
		return f.fail
	}
	select {
	case f.msgs <- msg:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

func (f *fakeSub) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSub) next(t *testing.T) Event {
	t.Helper()
	select {
	case msg := <-f.msgs:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event on %s", f.id)
		return Event{}
	}
}

func testTx(id int64, level transactions.Level) *transactions.Transaction {
	return &transactions.Transaction{ID: id, UserID: "user_7", Country: "MX", Amount: 10, Risk: 0.8, Level: level}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedSubscribers"].(int64) != 0 {
		t.Errorf("Expected 0 subscribers, got %v", stats["connectedSubscribers"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_ConnectDisconnect(t *testing.T) {
	h := runHub(t)

	sub := newFakeSub("a")
	if err := h.Connect(sub); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	h.Disconnect("a")
	h.Disconnect("a") // idempotent
	h.Disconnect("never-connected")
	require.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)

	if !sub.closed.Load() {
		t.Error("Disconnect should close the subscriber")
	}
	if peak := h.Stats()["peakSubscribers"].(int64); peak != 1 {
		t.Errorf("Expected peak 1, got %d", peak)
	}
}

func TestHub_ConnectRejectsDuplicateID(t *testing.T) {
	h := runHub(t)

	first := newFakeSub("dup")
	require.NoError(t, h.Connect(first))

	second := newFakeSub("dup")
	err := h.Connect(second)
	require.ErrorIs(t, err, ErrDuplicateID)
	require.Equal(t, 1, h.Count())

	h.Broadcast(&Event{Type: EventTransaction, Data: testTx(1, transactions.LevelLow), Level: transactions.LevelLow})
	if ev := first.next(t); ev.Data.ID != 1 {
		t.Errorf("Expected event for transaction 1, got %d", ev.Data.ID)
	}
	if len(second.msgs) != 0 {
		t.Error("rejected subscriber must not receive events")
	}
	if first.closed.Load() || second.closed.Load() {
		t.Error("hub must not close either subscriber on a duplicate")
	}
}

func TestHub_BroadcastMessageShape(t *testing.T) {
	h := runHub(t)
	sub := newFakeSub("a")
	_ = h.Connect(sub)

	h.BroadcastTransaction(testTx(42, transactions.LevelHigh), []string{"new device", "high IP risk score"})

	msg := <-sub.msgs
	var raw map[string]any
	if err := json.Unmarshal(msg, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"type", "data", "risk", "level", "reasons"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("event missing %q: %s", key, msg)
		}
	}
	if raw["type"] != "transaction" || raw["level"] != "HIGH" || raw["risk"] != 0.8 {
		t.Errorf("unexpected event: %s", msg)
	}
	data := raw["data"].(map[string]any)
	if data["id"] != float64(42) {
		t.Errorf("data.id = %v, want 42", data["id"])
	}
}

func TestHub_LowEventHasEmptyReasons(t *testing.T) {
	h := runHub(t)
	sub := newFakeSub("a")
	_ = h.Connect(sub)

	h.BroadcastTransaction(testTx(1, transactions.LevelLow), nil)

	msg := <-sub.msgs
	if !strings.Contains(string(msg), `"reasons":[]`) {
		t.Errorf("LOW event should carry an empty reasons array: %s", msg)
	}
}

func TestHub_FailingSubscriberIsRemoved(t *testing.T) {
	h := runHub(t)

	good := []*fakeSub{newFakeSub("g1"), newFakeSub("g2"), newFakeSub("g3")}
	bad := newFakeSub("bad")
	bad.fail = errors.New("connection reset")

	for _, s := range good {
		_ = h.Connect(s)
	}
	_ = h.Connect(bad)

	h.BroadcastTransaction(testTx(1, transactions.LevelLow), nil)
	for _, s := range good {
		if ev := s.next(t); ev.Data.ID != 1 {
			t.Errorf("%s got tx %d, want 1", s.id, ev.Data.ID)
		}
	}

	require.Eventually(t, func() bool { return h.Count() == len(good) }, time.Second, 5*time.Millisecond)
	if !bad.closed.Load() {
		t.Error("failed subscriber should be closed")
	}

	// Survivors keep receiving.
	h.BroadcastTransaction(testTx(2, transactions.LevelLow), nil)
	for _, s := range good {
		if ev := s.next(t); ev.Data.ID != 2 {
			t.Errorf("%s got tx %d, want 2", s.id, ev.Data.ID)
		}
	}
}

func TestHub_PerSubscriberOrder(t *testing.T) {
	h := runHub(t)
	a, b := newFakeSub("a"), newFakeSub("b")
	_ = h.Connect(a)
	_ = h.Connect(b)

	const n = 100 // below queueSize, so nothing is dropped
	for i := 1; i <= n; i++ {
		h.BroadcastTransaction(testTx(int64(i), transactions.LevelLow), nil)
	}

	for _, s := range []*fakeSub{a, b} {
		for i := 1; i <= n; i++ {
			if ev := s.next(t); ev.Data.ID != int64(i) {
				t.Fatalf("%s: position %d has tx %d", s.id, i, ev.Data.ID)
			}
		}
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	h := testHub() // not running: nothing drains the queue

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+10; i++ {
			h.BroadcastTransaction(testTx(int64(i), transactions.LevelLow), nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
	if dropped := h.Stats()["droppedEvents"].(int64); dropped != 10 {
		t.Errorf("Expected 10 dropped events, got %d", dropped)
	}
}

func TestHub_ContextCancellationClosesSubscribers(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	sub := newFakeSub("a")
	_ = h.Connect(sub)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Hub did not stop after context cancellation")
	}
	if !sub.closed.Load() {
		t.Error("subscribers should be closed on shutdown")
	}
	if err := h.Connect(newFakeSub("late")); !errors.Is(err, ErrHubStopped) {
		t.Errorf("Connect after stop = %v, want ErrHubStopped", err)
	}
	h.Disconnect("a") // must not block
}

// ---------------------------------------------------------------------------
// WebSocket client tests
// ---------------------------------------------------------------------------

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	return dialHubFrom(t, h, nil)
}

func dialHubFrom(t *testing.T, h *Hub, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWebSocket_ReceivesEvents(t *testing.T) {
	h := runHub(t)
	conn := dialHub(t, h)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	for i := 1; i <= 3; i++ {
		h.BroadcastTransaction(testTx(int64(i), transactions.LevelMedium), []string{"new device"})
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 1; i <= 3; i++ {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		if ev.Data.ID != int64(i) || ev.Level != transactions.LevelMedium {
			t.Errorf("event %d = %+v", i, ev)
		}
	}
}

func TestWebSocket_DisconnectDetaches(t *testing.T) {
	h := runHub(t)
	conn := dialHub(t, h)

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	_ = conn.Close()
	require.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_AcceptsCrossOriginDashboard(t *testing.T) {
	h := runHub(t)
	conn := dialHubFrom(t, h, http.Header{"Origin": []string{"http://dashboard.example:3000"}})
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClient_DeliverErrors(t *testing.T) {
	c := &Client{id: "c", send: make(chan []byte, 1), closed: make(chan struct{})}

	if err := c.Deliver([]byte("1")); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	if err := c.Deliver([]byte("2")); !errors.Is(err, ErrSlowSubscriber) {
		t.Errorf("full buffer = %v, want ErrSlowSubscriber", err)
	}
	_ = c.Close()
	_ = c.Close()
	if err := c.Deliver([]byte("3")); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("closed client = %v, want ErrSubscriberClosed", err)
	}
}

func TestHandleWebSocket_RejectsAfterStop(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	cancel()
	<-h.Done()

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws/stream", nil))
	if w.Code != 503 {
		t.Errorf("Expected 503 after stop, got %d", w.Code)
	}
}

func ExampleHub_BroadcastTransaction() {
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	sub := newFakeSub("example")
	_ = h.Connect(sub)
	h.BroadcastTransaction(&transactions.Transaction{ID: 1, Risk: 0.5, Level: transactions.LevelMedium}, []string{"new device"})

	var ev Event
	_ = json.Unmarshal(<-sub.msgs, &ev)
	fmt.Println(ev.Type, ev.Level, ev.Reasons)
	// Output: transaction MEDIUM [new device]
}
