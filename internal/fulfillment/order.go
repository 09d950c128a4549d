package fulfillment

import (
	"time"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCommitted Status = "COMMITTED"
	StatusRejected  Status = "REJECTED"
	StatusDuplicate Status = "DUPLICATE"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInsufficientStock Reason = "INSUFFICIENT_STOCK"
	ReasonUnknownProduct    Reason = "UNKNOWN_PRODUCT"
	ReasonInvalidQuantity   Reason = "INVALID_QUANTITY"
	ReasonBusy              Reason = "BUSY"
	ReasonDuplicate         Reason = "DUPLICATE"
)

type Order struct {
	OrderID string           `json:"orderId"`
	Items   []inventory.Line `json:"items"`
}

// Result is the outcome of one submission. ProductID names the product that
// caused a rejection and Shortfall says by how much when stock ran out.
// Original is only set on DUPLICATE and holds the outcome recorded when the
// order id was first processed.
type Result struct {
	OrderID     string                  `json:"orderId"`
	Status      Status                  `json:"status"`
	Reason      Reason                  `json:"reason,omitempty"`
	ProductID   string                  `json:"productId,omitempty"`
	Items       []inventory.Line        `json:"items,omitempty"`
	Shortfall   *inventory.DepletedLine `json:"shortfall,omitempty"`
	Original    *Result                 `json:"original,omitempty"`
	Retryable   bool                    `json:"retryable,omitempty"`
	ProcessedAt time.Time               `json:"processedAt"`
}

func (r Result) Committed() bool {
	return r.Status == StatusCommitted
}
