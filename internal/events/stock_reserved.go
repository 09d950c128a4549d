package events

import "time"

const (
	EventTypeStockReserved = "StockReserved"
	stockReservedSchema    = "contracts/events/inventory/StockReserved.v1.payload.schema.json"
)

// StockReserved is the legacy, unenveloped event.
type StockReserved struct {
	EventType string      `json:"eventType"`
	OrderID   string      `json:"orderId"`
	UserID    string      `json:"userId"`
	Timestamp time.Time   `json:"timestamp"`
	Items     []StockLine `json:"items"`
}

type StockLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// StockReservedPayload represents the v1 payload schema.
type StockReservedPayload struct {
	OrderID   string         `json:"orderId"`
	UserID    string         `json:"userId,omitempty"`
	Items     []ReservedItem `json:"items"`
	Timestamp time.Time      `json:"timestamp"`
}

type ReservedItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type StockReservedEvent struct {
	EventEnvelope
	Payload StockReservedPayload `json:"payload"`
}
