package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
)

// Conn is the push transport behind one subscription.
type Conn interface {
	Send(message []byte) error
	Close() error
}

const (
	defaultSendBuffer = 32
	closeGrace        = time.Second
)

// ErrSlowSubscriber is returned by Send when the subscription's outbound queue is full.
var ErrSlowSubscriber = errors.New("subscriber outbound queue full")

var errSubscriptionClosed = errors.New("subscription closed")

// Subscription is one live connection watching one auction. Messages are queued and
// written by the subscription's own writer goroutine. Close is idempotent.
type Subscription struct {
	id        uint64
	auctionID string
	userID    string
	conn      Conn
	manager   *ConnectionManager
	outbound  chan []byte
	done      chan struct{}
	once      sync.Once
	flush     chan struct{}
	flushOnce sync.Once
	stopped   chan struct{} // closed when the writer exits
}

func (s *Subscription) AuctionID() string { return s.auctionID }
func (s *Subscription) UserID() string    { return s.userID }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Send queues message without waiting for the transport.
func (s *Subscription) Send(message []byte) error {
	select {
	case <-s.done:
		return errSubscriptionClosed
	default:
	}
	select {
	case s.outbound <- message:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

func (s *Subscription) Close() error {
	return s.manager.remove(s, false)
}

func (s *Subscription) writeLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.flush:
			s.drain()
			_ = s.Close()
			return
		case message := <-s.outbound:
			if !s.write(message) {
				return
			}
		}
	}
}

// drain writes whatever is still queued.
func (s *Subscription) drain() {
	for {
		select {
		case message := <-s.outbound:
			if !s.write(message) {
				return
			}
		default:
			return
		}
	}
}

func (s *Subscription) write(message []byte) bool {
	if err := s.conn.Send(message); err != nil {
		s.manager.log.Warn("Dropping connection after failed send", "user_id", s.userID,
			"auction_id", s.auctionID, "error", err)
		metrics.PrunedSubscribers.Inc()
		_ = s.Close()
		return false
	}
	return true
}

// closeAfterFlush asks the writer to deliver what is queued and then close.
func (s *Subscription) closeAfterFlush() {
	s.flushOnce.Do(func() { close(s.flush) })
}

// ConnectionManager is the registry of live subscribers per auction. A connection that
// fails a delivery or falls a full queue behind is closed and dropped, so the registry
// never holds dead connections and a stalled client never blocks a broadcast.
type ConnectionManager struct {
	connections map[string]map[uint64]*Subscription // auctionID -> subscription id -> subscription
	nextID      uint64
	closed      bool
	sendBuffer  int
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return NewConnectionManagerWithBuffer(defaultSendBuffer, log)
}

// NewConnectionManagerWithBuffer sets how many messages a subscription may queue.
func NewConnectionManagerWithBuffer(sendBuffer int, log logger.Logger) *ConnectionManager {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &ConnectionManager{
		connections: make(map[string]map[uint64]*Subscription),
		sendBuffer:  sendBuffer,
		log:         log,
	}
}

func (cm *ConnectionManager) Subscribe(auctionID, userID string, conn Conn) *Subscription {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.nextID++
	sub := &Subscription{
		id:        cm.nextID,
		auctionID: auctionID,
		userID:    userID,
		conn:      conn,
		manager:   cm,
		outbound:  make(chan []byte, cm.sendBuffer),
		done:      make(chan struct{}),
		flush:     make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	if cm.closed {
		close(sub.stopped)
		sub.once.Do(func() {
			close(sub.done)
			_ = conn.Close()
		})
		return sub
	}

	if cm.connections[auctionID] == nil {
		cm.connections[auctionID] = make(map[uint64]*Subscription)
	}
	cm.connections[auctionID][sub.id] = sub
	metrics.Subscribers.Inc()
	go sub.writeLoop()

	cm.log.Debug("Connection registered", "user_id", userID, "auction_id", auctionID)
	return sub
}

// remove unregisters sub. With background set the transport is closed on its own
// goroutine, so the caller never waits on a stalled write.
func (cm *ConnectionManager) remove(sub *Subscription, background bool) error {
	var err error
	sub.once.Do(func() {
		cm.mutex.Lock()
		if auctionConns, exists := cm.connections[sub.auctionID]; exists {
			if _, ok := auctionConns[sub.id]; ok {
				delete(auctionConns, sub.id)
				metrics.Subscribers.Dec()
			}
			if len(auctionConns) == 0 {
				delete(cm.connections, sub.auctionID)
			}
		}
		cm.mutex.Unlock()

		close(sub.done)
		if background {
			go func() { _ = sub.conn.Close() }()
		} else {
			err = sub.conn.Close()
		}
		cm.log.Debug("Connection unregistered", "user_id", sub.userID, "auction_id", sub.auctionID)
	})
	return err
}

func (cm *ConnectionManager) subscribers(auctionID string) []*Subscription {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	subs := make([]*Subscription, 0, len(cm.connections[auctionID]))
	for _, sub := range cm.connections[auctionID] {
		subs = append(subs, sub)
	}
	return subs
}

// BroadcastToAuction queues message for every subscriber of the auction. Delivery is
// best-effort: a subscriber whose queue is full is pruned, and the next update
// supersedes whatever it missed.
func (cm *ConnectionManager) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, sub := range cm.subscribers(auctionID) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := sub.Send(messageBytes)
		if errors.Is(err, errSubscriptionClosed) {
			continue
		}
		if err != nil {
			cm.log.Warn("Dropping slow connection", "user_id", sub.userID,
				"auction_id", auctionID, "error", err)
			metrics.PrunedSubscribers.Inc()
			_ = cm.remove(sub, true)
		}
	}
	return nil
}

// CloseAuction closes every connection watching the auction once its queued messages
// are written. Connections still writing after a short grace are closed regardless.
func (cm *ConnectionManager) CloseAuction(auctionID string) error {
	subs := cm.subscribers(auctionID)
	for _, sub := range subs {
		sub.closeAfterFlush()
	}
	waitStopped(subs, closeGrace)
	for _, sub := range subs {
		_ = cm.remove(sub, true)
	}

	if len(subs) > 0 {
		cm.log.Info("Connections closed for auction", "auction_id", auctionID, "count", len(subs))
	}
	return nil
}

func waitStopped(subs []*Subscription, grace time.Duration) {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, sub := range subs {
		select {
		case <-sub.stopped:
		case <-deadline.C:
			return
		}
	}
}

func (cm *ConnectionManager) Count(auctionID string) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections[auctionID])
}

// Shutdown closes all connections and rejects later subscriptions.
func (cm *ConnectionManager) Shutdown() {
	cm.mutex.Lock()
	cm.closed = true
	var all []*Subscription
	for _, auctionConns := range cm.connections {
		for _, sub := range auctionConns {
			all = append(all, sub)
		}
	}
	cm.mutex.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
}
