package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of a submitted order.
type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderOpen     OrderState = "open"
	OrderClosed   OrderState = "closed"
	OrderCanceled OrderState = "canceled"
	OrderFailed   OrderState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s OrderState) Terminal() bool {
	return s == OrderClosed || s == OrderCanceled || s == OrderFailed
}

// Trade is one fill of an order. Immutable once materialized.
type Trade struct {
	TradeID   string          `json:"trade_id"`
	OrderID   string          `json:"order_id"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Cost      decimal.Decimal `json:"cost"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Order tracks one market sell from submission to settlement.
type Order struct {
	TxID            string          `json:"txid"`
	Asset           string          `json:"asset"`
	Pair            string          `json:"pair"`
	RequestedVolume decimal.Decimal `json:"requested_volume"`
	FilledVolume    decimal.Decimal `json:"filled_volume"`
	State           OrderState      `json:"state"`
	Fills           []Trade         `json:"fills,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	FinalizedAt     *time.Time      `json:"finalized_at,omitempty"`
}
