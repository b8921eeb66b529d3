package internal

import (
	"context"
	"sync"
	"time"

	"autosell/logger"
	"autosell/models"
)

type ChannelStats struct {
	FeedMessagesSent    int64
	FeedMessagesDropped int64
}

// Channels owns the buffered stream between the balance feed and the
// engine and reports occupancy so a stalled consumer is visible in the
// logs before messages back up.
type Channels struct {
	Feed chan models.FeedMessage

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(feedBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Feed: make(chan models.FeedMessage, feedBufferSize),
		log:  log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"feed_buffer_size": feedBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats(c.log)
			}
		}
	}()
}

func (c *Channels) logChannelStats(log *logger.Log) {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	log.WithComponent("channels").WithFields(logger.Fields{
		"feed_messages_sent":    stats.FeedMessagesSent,
		"feed_messages_dropped": stats.FeedMessagesDropped,
		"feed_channel_len":      len(c.Feed),
		"feed_channel_cap":      cap(c.Feed),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Feed)

	c.log.WithComponent("channels").Info("all channels closed")
}

func (c *Channels) IncrementFeedMessagesSent() {
	c.statsMutex.Lock()
	c.stats.FeedMessagesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementFeedMessagesDropped() {
	c.statsMutex.Lock()
	c.stats.FeedMessagesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
