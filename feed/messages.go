package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"autosell/models"

	"github.com/shopspring/decimal"
)

// subscribeRequest is the payload sent after dialing.
type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

// rawMessage is the superset of every inbound frame; exactly one shape
// is populated per message. Decoded once here so the engine only ever
// sees typed events.
type rawMessage struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`

	// subscribe ack (v2)
	Method  string `json:"method"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`

	// subscription status (v1 compatibility)
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

type rawSnapshotEntry struct {
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

type rawUpdateEntry struct {
	Asset     string          `json:"asset"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerID  string          `json:"ledger_id"`
	RefID     string          `json:"ref_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// decodeMessage turns one wire frame into a typed FeedMessage.
// Unknown frames (pongs, other channels) return ok=false.
func decodeMessage(payload []byte) (models.FeedMessage, bool, error) {
	var raw rawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.FeedMessage{}, false, fmt.Errorf("decode frame: %w", err)
	}

	msg := models.FeedMessage{Received: time.Now()}

	switch {
	case raw.Channel == "heartbeat":
		msg.Kind = models.FeedHeartbeat
		return msg, true, nil

	case raw.Channel == "balances" && raw.Type == "snapshot":
		var entries []rawSnapshotEntry
		if err := json.Unmarshal(raw.Data, &entries); err != nil {
			return msg, false, fmt.Errorf("decode snapshot: %w", err)
		}
		msg.Kind = models.FeedSnapshot
		msg.Snapshot = make([]models.AssetBalance, 0, len(entries))
		for _, e := range entries {
			msg.Snapshot = append(msg.Snapshot, models.AssetBalance{Asset: e.Asset, Balance: e.Balance})
		}
		return msg, true, nil

	case raw.Channel == "balances" && raw.Type == "update":
		var entries []rawUpdateEntry
		if err := json.Unmarshal(raw.Data, &entries); err != nil {
			return msg, false, fmt.Errorf("decode update: %w", err)
		}
		msg.Kind = models.FeedUpdate
		msg.Changes = make([]models.BalanceChange, 0, len(entries))
		for _, e := range entries {
			msg.Changes = append(msg.Changes, models.BalanceChange{
				Asset:     e.Asset,
				Type:      models.EntryType(e.Type),
				Amount:    e.Amount,
				Balance:   e.Balance,
				LedgerID:  e.LedgerID,
				RefID:     e.RefID,
				Timestamp: e.Timestamp,
			})
		}
		return msg, true, nil

	case raw.Method == "subscribe" && raw.Success != nil:
		msg.Kind = models.FeedStatus
		msg.Status = &models.SubscriptionStatus{
			Channel:      "balances",
			OK:           *raw.Success,
			ErrorMessage: raw.Error,
		}
		return msg, true, nil

	case raw.Event == "subscriptionStatus":
		msg.Kind = models.FeedStatus
		msg.Status = &models.SubscriptionStatus{
			Channel:      raw.Channel,
			OK:           raw.Status != "error",
			ErrorMessage: raw.ErrorMessage,
		}
		return msg, true, nil
	}

	return msg, false, nil
}

// permanentSubscribeErrors never resolve by retrying.
var permanentSubscribeErrors = []string{
	"invalid channel",
	"invalid token",
	"event not found",
}

func isPermanentSubscribeError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range permanentSubscribeErrors {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
