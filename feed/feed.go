package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autosell/logger"
	"autosell/models"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	maxReconnectAttempts = 10
	heartbeatInterval    = 10 * time.Second
	heartbeatTimeout     = 30 * time.Second
	subscribeRetryDelay  = 5 * time.Second
	subscribeAckTimeout  = 15 * time.Second
)

// TokenSource obtains short-lived stream tokens.
type TokenSource interface {
	FeedToken(ctx context.Context) (string, error)
}

var errSubscribePermanent = errors.New("permanent subscription error")

// Stats counts delivery outcomes on the output channel.
type Stats interface {
	IncrementFeedMessagesSent()
	IncrementFeedMessagesDropped()
}

// Feed owns the authenticated balance stream. One goroutine owns the
// socket; a watchdog forces a close when heartbeats stop; the run loop
// is the only place a reconnect is ever scheduled.
type Feed struct {
	tokens TokenSource
	url    string
	out    chan<- models.FeedMessage
	stats  Stats
	log    *logger.Log

	wg sync.WaitGroup

	mu            sync.RWMutex
	running       bool
	connected     bool
	degraded      bool
	lastHeartbeat time.Time
}

// New creates a feed that delivers typed messages on out. The channel
// is owned by the consumer; the feed only sends.
func New(tokens TokenSource, url string, out chan<- models.FeedMessage) *Feed {
	return &Feed{
		tokens: tokens,
		url:    url,
		out:    out,
		log:    logger.GetLogger(),
	}
}

// SetStats installs a delivery counter. Call before Start.
func (f *Feed) SetStats(s Stats) {
	f.stats = s
}

// Start launches the stream supervisor.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	f.running = true
	f.mu.Unlock()

	f.wg.Add(1)
	go f.run(ctx)

	f.log.WithComponent("feed").WithFields(logger.Fields{"url": f.url}).Info("balance feed started")
	return nil
}

// Stop waits for the supervisor to exit. Cancel the Start context
// first.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("feed").Info("stopping balance feed")
	f.wg.Wait()
	f.log.WithComponent("feed").Info("balance feed stopped")
}

// Connected reports whether a live subscription exists right now.
func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Degraded reports whether automatic reconnection has been given up.
func (f *Feed) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// LastHeartbeat returns the time the stream last proved liveness.
func (f *Feed) LastHeartbeat() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastHeartbeat
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	log := f.log.WithComponent("feed")
	b := &backoff.Backoff{Min: time.Second, Max: 60 * time.Second, Factor: 2}
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		subscribed, err := f.connectAndStream(ctx)
		f.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSubscribePermanent) {
			log.WithError(err).Error("subscription rejected permanently, feed degraded")
			f.setDegraded()
			return
		}
		if subscribed {
			// The cycle reached a live subscription before failing;
			// the next outage starts a fresh budget.
			attempts = 0
			b.Reset()
		}

		attempts++
		logger.IncrementFeedReconnect()
		if attempts > maxReconnectAttempts {
			log.WithFields(logger.Fields{"attempts": attempts - 1}).Error("reconnect budget exhausted, feed degraded")
			f.setDegraded()
			return
		}

		delay := b.Duration()
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"attempt": attempts,
				"delay":   delay.String(),
			}).Warn("feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndStream runs one full connection cycle: token, dial,
// subscribe, read until failure. Returns whether a subscription was
// established during the cycle.
func (f *Feed) connectAndStream(ctx context.Context) (subscribed bool, err error) {
	log := f.log.WithComponent("feed")

	token, err := f.tokens.FeedToken(ctx)
	if err != nil {
		return false, fmt.Errorf("obtain feed token: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	// The watchdog and context-cancel path both force the blocked read
	// to fail by closing the socket.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go f.watchdog(ctx, conn, watchdogDone)

	f.touchHeartbeat()

	sub := subscribeRequest{Method: "subscribe", Params: subscribeParams{Channel: "balances", Token: token}}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	subscribeRetried := false
	ackDeadline := time.Now().Add(subscribeAckTimeout)

	for {
		if !subscribed && time.Now().After(ackDeadline) {
			return false, fmt.Errorf("no subscription ack within %s", subscribeAckTimeout)
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("read: %w", err)
		}
		logger.IncrementFeedMessage()

		msg, ok, err := decodeMessage(payload)
		if err != nil {
			log.WithError(err).Warn("undecodable frame")
			continue
		}
		if !ok {
			continue
		}

		switch msg.Kind {
		case models.FeedHeartbeat:
			f.touchHeartbeat()

		case models.FeedStatus:
			if msg.Status.OK {
				subscribed = true
				f.setConnected(true)
				log.Info("balances subscription established")
				continue
			}
			if isPermanentSubscribeError(msg.Status.ErrorMessage) {
				return subscribed, fmt.Errorf("%w: %s", errSubscribePermanent, msg.Status.ErrorMessage)
			}
			if subscribeRetried {
				return subscribed, fmt.Errorf("subscription failed twice: %s", msg.Status.ErrorMessage)
			}
			subscribeRetried = true
			log.WithFields(logger.Fields{"error": msg.Status.ErrorMessage}).Warn("subscription failed, retrying once")
			select {
			case <-ctx.Done():
				return subscribed, ctx.Err()
			case <-time.After(subscribeRetryDelay):
			}
			ackDeadline = time.Now().Add(subscribeAckTimeout)
			if err := conn.WriteJSON(sub); err != nil {
				return subscribed, fmt.Errorf("resubscribe: %w", err)
			}

		case models.FeedSnapshot, models.FeedUpdate:
			// Snapshots mark the subscription live even if the ack
			// frame was missed.
			if !subscribed {
				subscribed = true
				f.setConnected(true)
			}
			select {
			case f.out <- msg:
				if f.stats != nil {
					f.stats.IncrementFeedMessagesSent()
				}
			case <-ctx.Done():
				if f.stats != nil {
					f.stats.IncrementFeedMessagesDropped()
				}
				return subscribed, ctx.Err()
			}
		}
	}
}

// watchdog forcibly closes the connection when no heartbeat has been
// observed within heartbeatTimeout, or when the context ends. Closing
// the socket unblocks the reader and routes control back through the
// reconnect path.
func (f *Feed) watchdog(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if time.Since(f.LastHeartbeat()) > heartbeatTimeout {
				f.log.WithComponent("feed").WithFields(logger.Fields{
					"timeout": heartbeatTimeout.String(),
				}).Warn("heartbeat stalled, forcing reconnect")
				conn.Close()
				return
			}
		}
	}
}

func (f *Feed) touchHeartbeat() {
	f.mu.Lock()
	f.lastHeartbeat = time.Now()
	f.mu.Unlock()
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *Feed) setDegraded() {
	f.mu.Lock()
	f.degraded = true
	f.connected = false
	f.mu.Unlock()
}
