package models

import "time"

// Event type constants
const (
	EventTransactionRecorded = "TRANSACTION_RECORDED"
	EventPortfolioReconciled = "PORTFOLIO_RECONCILED"
)

// TransactionEvent is the inbound Kafka payload. Numeric fields are strings
// so upstream producers never lose precision.
type TransactionEvent struct {
	EventType string               `json:"event_type"`
	Source    string               `json:"source"`
	Timestamp string               `json:"timestamp"`
	Data      TransactionEventData `json:"data"`
}

// TransactionEventData holds the transaction fields of a TransactionEvent
type TransactionEventData struct {
	ID            string   `json:"id"`
	Ticker        string   `json:"ticker"`
	Kind          string   `json:"kind"`
	Quantity      string   `json:"quantity,omitempty"`
	Price         string   `json:"price,omitempty"`
	Amount        string   `json:"amount,omitempty"`
	Ratio         string   `json:"ratio,omitempty"`
	ReinvestPrice string   `json:"reinvest_price,omitempty"`
	LotIDs        []string `json:"lot_ids,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	ExecutedAt    string   `json:"executed_at"`
}

// PortfolioEvent is published after a transaction has been reconciled
type PortfolioEvent struct {
	EventType     string      `json:"event_type"`
	Ticker        string      `json:"ticker"`
	TransactionID string      `json:"transaction_id"`
	Backdated     bool        `json:"backdated"`
	OpenLots      []Lot       `json:"open_lots"`
	ClosedLots    []ClosedLot `json:"closed_lots,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}
