package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const EventTypeOrderCreated = "OrderCreated"

// OrderCreated is the legacy, unenveloped event published by order-service.
// The stock engine consumes it and tries to take stock for every line.
type OrderCreated struct {
	EventType   string     `json:"eventType"`
	OrderID     string     `json:"orderId"`
	CartID      string     `json:"cartId,omitempty"`
	UserID      string     `json:"userId"`
	TotalAmount float64    `json:"totalAmount,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Items       []CartItem `json:"items"`
}

// OrderCreatedPayload represents the v1 payload schema.
type OrderCreatedPayload struct {
	OrderID     string     `json:"orderId"`
	CartID      string     `json:"cartId"`
	UserID      string     `json:"userId"`
	Items       []CartItem `json:"items"`
	TotalAmount float64    `json:"totalAmount"`
	Timestamp   time.Time  `json:"timestamp"`
}

// CartItem matches the cart/order item contract used across services.
type CartItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
}

type orderCreatedMessage struct {
	Payload  OrderCreatedPayload
	Envelope *EventEnvelope
}

// parseOrderCreated accepts the v1 envelope when allowEnveloped is set and
// falls back to the legacy bare event otherwise.
func parseOrderCreated(body []byte, allowEnveloped bool) (orderCreatedMessage, error) {
	if allowEnveloped {
		var payload OrderCreatedPayload
		env, err := openEnvelope(body, EventTypeOrderCreated, &payload)
		switch {
		case err == nil:
			return orderCreatedMessage{Payload: payload, Envelope: env}, nil
		case !errors.Is(err, errNotEnveloped):
			return orderCreatedMessage{}, err
		}
	}

	var legacy OrderCreated
	if err := json.Unmarshal(body, &legacy); err != nil {
		return orderCreatedMessage{}, fmt.Errorf("unmarshal legacy OrderCreated: %w", err)
	}
	return orderCreatedMessage{Payload: OrderCreatedPayload{
		OrderID:     legacy.OrderID,
		CartID:      legacy.CartID,
		UserID:      legacy.UserID,
		Items:       legacy.Items,
		TotalAmount: legacy.TotalAmount,
		Timestamp:   legacy.Timestamp,
	}}, nil
}
