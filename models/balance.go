package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType identifies what kind of ledger movement a balance change
// represents on the exchange side.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntryTrade      EntryType = "trade"
	EntryAdjustment EntryType = "adjustment"
	EntryTransfer   EntryType = "transfer"
)

// AssetBalance is one entry of a full balance snapshot.
type AssetBalance struct {
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceChange is a single incremental balance event from the stream.
// Amount is the signed delta, Balance the resulting total.
type BalanceChange struct {
	Asset     string          `json:"asset"`
	Type      EntryType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerID  string          `json:"ledger_id,omitempty"`
	RefID     string          `json:"ref_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FeedMessageKind tags the decoded stream frames.
type FeedMessageKind int

const (
	FeedSnapshot FeedMessageKind = iota
	FeedUpdate
	FeedHeartbeat
	FeedStatus
)

// FeedMessage is a stream frame decoded once at the feed boundary.
// Exactly one of Snapshot, Changes or Status is populated depending
// on Kind; heartbeats carry nothing.
type FeedMessage struct {
	Kind     FeedMessageKind
	Snapshot []AssetBalance
	Changes  []BalanceChange
	Status   *SubscriptionStatus
	Received time.Time
}

// SubscriptionStatus reports the outcome of a subscribe request.
type SubscriptionStatus struct {
	Channel      string
	OK           bool
	ErrorMessage string
}

// Pair describes one tradable market on the exchange.
type Pair struct {
	Symbol   string          `json:"symbol"`
	Altname  string          `json:"altname"`
	Base     string          `json:"base"`
	Quote    string          `json:"quote"`
	OrderMin decimal.Decimal `json:"order_min"`
}
