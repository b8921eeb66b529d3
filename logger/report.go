package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

var (
	errorsFeed      int64
	errorsEngine    int64
	warnsFeed       int64
	warnsEngine     int64
	feedMessages    int64
	feedReconnects  int64
	restCalls       int64
	ordersSubmitted int64
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "engine") {
		atomic.AddInt64(&warnsEngine, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "engine") {
		atomic.AddInt64(&errorsEngine, 1)
	}
}

// IncrementFeedMessage counts one stream frame read from the socket,
// whether or not it decodes.
func IncrementFeedMessage() {
	atomic.AddInt64(&feedMessages, 1)
}

// IncrementFeedReconnect counts one reconnection cycle.
func IncrementFeedReconnect() {
	atomic.AddInt64(&feedReconnects, 1)
}

// IncrementRESTCall counts one REST request to the exchange.
func IncrementRESTCall() {
	atomic.AddInt64(&restCalls, 1)
}

// IncrementOrderSubmitted counts one accepted market sell.
func IncrementOrderSubmitted() {
	atomic.AddInt64(&ordersSubmitted, 1)
}

// StartReport begins periodic logging of runtime and activity counters.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	log.WithComponent("report").WithFields(Fields{
		"feed_messages":    atomic.LoadInt64(&feedMessages),
		"feed_reconnects":  atomic.LoadInt64(&feedReconnects),
		"rest_calls":       atomic.LoadInt64(&restCalls),
		"orders_submitted": atomic.LoadInt64(&ordersSubmitted),
		"warns_feed":       atomic.LoadInt64(&warnsFeed),
		"warns_engine":     atomic.LoadInt64(&warnsEngine),
		"errors_feed":      atomic.LoadInt64(&errorsFeed),
		"errors_engine":    atomic.LoadInt64(&errorsEngine),
		"goroutines":       runtime.NumGoroutine(),
	}).Info("runtime report")
}
