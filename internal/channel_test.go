package internal

import (
	"bytes"
	"encoding/json"
	"testing"

	"autosell/logger"
	"autosell/models"
)

func TestLogChannelStatsReportsOccupancy(t *testing.T) {
	log := logger.GetLogger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	c := NewChannels(4)
	buf.Reset()
	c.IncrementFeedMessagesSent()
	c.IncrementFeedMessagesSent()
	c.IncrementFeedMessagesDropped()
	c.Feed <- models.FeedMessage{Kind: models.FeedSnapshot}
	c.logChannelStats(log)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}

	if got := entry["feed_messages_sent"]; got != float64(2) {
		t.Errorf("feed_messages_sent = %v, want 2", got)
	}
	if got := entry["feed_messages_dropped"]; got != float64(1) {
		t.Errorf("feed_messages_dropped = %v, want 1", got)
	}
	if got := entry["feed_channel_len"]; got != float64(1) {
		t.Errorf("feed_channel_len = %v, want 1", got)
	}
	if got := entry["feed_channel_cap"]; got != float64(4) {
		t.Errorf("feed_channel_cap = %v, want 4", got)
	}
}

func TestGetStatsSnapshot(t *testing.T) {
	log := logger.GetLogger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	c := NewChannels(1)
	c.IncrementFeedMessagesSent()
	c.IncrementFeedMessagesDropped()
	c.IncrementFeedMessagesDropped()

	stats := c.GetStats()
	if stats.FeedMessagesSent != 1 {
		t.Errorf("FeedMessagesSent = %d, want 1", stats.FeedMessagesSent)
	}
	if stats.FeedMessagesDropped != 2 {
		t.Errorf("FeedMessagesDropped = %d, want 2", stats.FeedMessagesDropped)
	}
}
