package events

import "time"

const (
	EventTypeStockDepleted = "StockDepleted"
	stockDepletedSchema    = "contracts/events/inventory/StockDepleted.v1.payload.schema.json"
)

// StockDepleted is the legacy, unenveloped event.
type StockDepleted struct {
	EventType string         `json:"eventType"`
	OrderID   string         `json:"orderId"`
	UserID    string         `json:"userId"`
	Timestamp time.Time      `json:"timestamp"`
	Depleted  []DepletedLine `json:"depleted"`
	Reserved  []StockLine    `json:"reserved,omitempty"`
}

type DepletedLine struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockDepletedPayload represents the v1 payload schema.
type StockDepletedPayload struct {
	OrderID   string         `json:"orderId"`
	UserID    string         `json:"userId,omitempty"`
	Depleted  []DepletedLine `json:"depleted"`
	Reserved  []ReservedItem `json:"reserved,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type StockDepletedEvent struct {
	EventEnvelope
	Payload StockDepletedPayload `json:"payload"`
}
