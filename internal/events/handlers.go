package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
)

type OrderSubmitter interface {
	Submit(ctx context.Context, order fulfillment.Order) (fulfillment.Result, error)
}

// Checkpoints tracks the last envelope sequence handled per partition.
// dedup.Repository implements it.
type Checkpoints interface {
	GetLastSequence(ctx context.Context, consumerName, partitionKey string) (int64, bool, error)
	UpsertLastSequence(ctx context.Context, consumerName, partitionKey string, newSeq int64) error
}

const OrderCreatedConsumerName = "stock-engine-order-created"

type HandlerOptions struct {
	ConsumerName     string
	ConsumeEnveloped bool
	// Checkpoints may be nil; order ids are deduplicated by the engine either way.
	Checkpoints Checkpoints
}

// OrderCreatedHandler submits each OrderCreated event to the engine. Stock
// events are published by the engine's notifier once the outcome is recorded.
// Returning an error will NACK the message (and it will be sent to the DLQ by the Consumer).
func OrderCreatedHandler(engine OrderSubmitter, logger zerolog.Logger, opts HandlerOptions) HandlerFunc {
	consumerName := opts.ConsumerName
	if consumerName == "" {
		consumerName = OrderCreatedConsumerName
	}

	return func(ctx context.Context, body []byte) error {
		msg, err := parseOrderCreated(body, opts.ConsumeEnveloped)
		if err != nil {
			return err
		}
		if msg.Payload.OrderID == "" {
			return fmt.Errorf("missing orderId")
		}

		lines := make([]inventory.Line, 0, len(msg.Payload.Items))
		for _, it := range msg.Payload.Items {
			lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		var partitionKey string
		var incomingSeq int64
		var correlationID, causationID string

		if msg.Envelope != nil {
			partitionKey = msg.Envelope.PartitionKey
			incomingSeq = msg.Envelope.Sequence
			correlationID = msg.Envelope.CorrelationID
			causationID = msg.Envelope.EventID
		}
		if partitionKey == "" {
			partitionKey = msg.Payload.OrderID
		}
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		log := logger.With().Str("order_id", msg.Payload.OrderID).Str("partition", partitionKey).Logger()

		checkSequence := opts.Checkpoints != nil && msg.Envelope != nil && incomingSeq != 0
		if checkSequence {
			lastSeq, ok, err := opts.Checkpoints.GetLastSequence(ctx, consumerName, partitionKey)
			if err != nil {
				return err
			}
			if ok {
				if incomingSeq <= lastSeq {
					log.Info().Int64("seq", incomingSeq).Int64("last", lastSeq).Msg("skip replayed event")
					return nil
				}
				if incomingSeq > lastSeq+1 {
					log.Warn().Int64("seq", incomingSeq).Int64("last", lastSeq).Msg("sequence gap")
				}
			}
		}

		ctx = WithMeta(ctx, EventMeta{
			CorrelationID: correlationID,
			CausationID:   causationID,
			PartitionKey:  msg.Payload.OrderID,
			UserID:        msg.Payload.UserID,
		})

		res, err := engine.Submit(ctx, fulfillment.Order{OrderID: msg.Payload.OrderID, Items: lines})
		if err != nil {
			return fmt.Errorf("submit order %s: %w", msg.Payload.OrderID, err)
		}
		if res.Reason == fulfillment.ReasonBusy {
			return fmt.Errorf("order %s: %w", msg.Payload.OrderID, ErrRetry)
		}

		if checkSequence {
			if err := opts.Checkpoints.UpsertLastSequence(ctx, consumerName, partitionKey, incomingSeq); err != nil {
				return err
			}
		}

		log.Debug().Str("status", string(res.Status)).Str("reason", string(res.Reason)).Msg("order created event handled")
		return nil
	}
}
