// Package realtime fans scored transactions out to live subscribers.
//
// The Hub is a single-owner actor: one goroutine (Run) owns the subscriber
// set, and Connect, Disconnect and Broadcast are requests serialized
// through channels. A subscriber whose Deliver fails is dropped on the
// spot. Nothing is retried and nothing is reported back to the producer.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/mbd888/fraudradar/internal/metrics"
	"github.com/mbd888/fraudradar/internal/transactions"
)

var (
	ErrSlowSubscriber   = errors.New("realtime: subscriber buffer full")
	ErrSubscriberClosed = errors.New("realtime: subscriber closed")
	ErrHubStopped       = errors.New("realtime: hub stopped")
	ErrDuplicateID      = errors.New("realtime: subscriber id already connected")
)

// Subscriber receives serialized events from the hub.
type Subscriber interface {
	ID() string
	// Deliver hands msg to the subscriber. It must not block; any error
	// detaches the subscriber.
	Deliver(msg []byte) error
	Close() error
}

// EventType for real-time events
type EventType string

const EventTransaction EventType = "transaction"

// Event is the message pushed to every subscriber for one scored transaction.
type Event struct {
	Type    EventType                 `json:"type"`
	Data    *transactions.Transaction `json:"data"`
	Risk    float64                   `json:"risk"`
	Level   transactions.Level        `json:"level"`
	Reasons []string                  `json:"reasons"`
}

const (
	// MaxSubscribers is the maximum number of concurrent subscribers.
	MaxSubscribers = 10000

	queueSize = 256
)

type connectRequest struct {
	sub   Subscriber
	reply chan error // buffered; Run never blocks on it
}

// Hub manages the subscriber set.
type Hub struct {
	subscribers map[string]Subscriber // owned by Run
	events      chan []byte
	connect     chan connectRequest
	disconnect  chan string
	logger      *slog.Logger
	done        chan struct{} // closed when Run exits
	maxSubs     int

	// Stats
	count            atomic.Int64
	totalEvents      atomic.Int64
	totalSubscribers atomic.Int64
	peakSubscribers  atomic.Int64
	droppedEvents    atomic.Int64
	failedDeliveries atomic.Int64
}

// NewHub creates a new hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]Subscriber),
		events:      make(chan []byte, queueSize),
		connect:     make(chan connectRequest),
		disconnect:  make(chan string),
		logger:      logger,
		done:        make(chan struct{}),
		maxSubs:     MaxSubscribers,
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled, after
// closing every remaining subscriber.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing subscribers")
			for id, sub := range h.subscribers {
				_ = sub.Close()
				delete(h.subscribers, id)
			}
			h.setCount()
			h.logger.Info("realtime hub stopped")
			return

		case req := <-h.connect:
			sub := req.sub
			if _, exists := h.subscribers[sub.ID()]; exists {
				h.logger.Warn("rejected duplicate subscriber", "id", sub.ID())
				req.reply <- ErrDuplicateID
				continue
			}
			h.subscribers[sub.ID()] = sub
			h.totalSubscribers.Add(1)
			n := h.setCount()
			if n > h.peakSubscribers.Load() {
				h.peakSubscribers.Store(n)
			}
			req.reply <- nil
			h.logger.Info("subscriber connected", "id", sub.ID(), "total", n)

		case id := <-h.disconnect:
			h.remove(id, nil)

		case msg := <-h.events:
			h.totalEvents.Add(1)
			for id, sub := range h.subscribers {
				if err := sub.Deliver(msg); err != nil {
					h.remove(id, err)
					continue
				}
				metrics.BroadcastDeliveriesTotal.WithLabelValues("ok").Inc()
			}
		}
	}
}

// remove detaches and closes a subscriber. Must be called from Run.
func (h *Hub) remove(id string, cause error) {
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	_ = sub.Close()
	n := h.setCount()

	if cause != nil {
		h.failedDeliveries.Add(1)
		metrics.BroadcastDeliveriesTotal.WithLabelValues("dropped").Inc()
		h.logger.Warn("subscriber dropped", "id", id, "error", cause, "total", n)
		return
	}
	h.logger.Info("subscriber disconnected", "id", id, "total", n)
}

func (h *Hub) setCount() int64 {
	n := int64(len(h.subscribers))
	h.count.Store(n)
	metrics.ActiveSubscribers.Set(float64(n))
	return n
}

// Connect attaches sub. It blocks until the hub has registered it, so an
// event broadcast after Connect returns reaches sub. It returns
// ErrDuplicateID when another subscriber already holds sub's id; sub is
// then not attached and stays the caller's to close.
func (h *Hub) Connect(sub Subscriber) error {
	req := connectRequest{sub: sub, reply: make(chan error, 1)}
	select {
	case h.connect <- req:
		return <-req.reply
	case <-h.done:
		return ErrHubStopped
	}
}

// Disconnect detaches the subscriber with the given id. Unknown ids and
// repeated calls are no-ops.
func (h *Hub) Disconnect(id string) {
	select {
	case h.disconnect <- id:
	case <-h.done:
	}
}

// Broadcast serializes event once and queues it for fan-out. It never
// blocks: when the queue is full the event is dropped.
func (h *Hub) Broadcast(event *Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to serialize event", "error", err)
		return
	}
	select {
	case h.events <- msg:
	default:
		h.droppedEvents.Add(1)
		metrics.BroadcastDroppedEventsTotal.Inc()
		h.logger.Warn("broadcast queue full, dropping event")
	}
}

// BroadcastTransaction sends a scored transaction with its reasons.
func (h *Hub) BroadcastTransaction(tx *transactions.Transaction, reasons []string) {
	if reasons == nil {
		reasons = []string{}
	}
	h.Broadcast(&Event{
		Type:    EventTransaction,
		Data:    tx,
		Risk:    tx.Risk,
		Level:   tx.Level,
		Reasons: reasons,
	})
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connectedSubscribers": h.count.Load(),
		"totalEvents":          h.totalEvents.Load(),
		"totalSubscribers":     h.totalSubscribers.Load(),
		"peakSubscribers":      h.peakSubscribers.Load(),
		"droppedEvents":        h.droppedEvents.Load(),
		"failedDeliveries":     h.failedDeliveries.Load(),
	}
}
