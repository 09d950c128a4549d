package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/sequence"
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	ch                 Channel
	seq                sequence.Sequencer
	publishEnveloped   bool
	producerIdentifier string
	logger             zerolog.Logger
	now                func() time.Time
}

type PublisherOptions struct {
	PublishEnveloped bool
	Producer         string
	Logger           zerolog.Logger
}

func NewPublisher(conn *amqp.Connection, seq sequence.Sequencer, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return newPublisher(ch, seq, opts), nil
}

func newPublisher(ch Channel, seq sequence.Sequencer, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = "stock-engine"
	}
	return &Publisher{
		ch:                 ch,
		seq:                seq,
		publishEnveloped:   opts.PublishEnveloped,
		producerIdentifier: producer,
		logger:             opts.Logger,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// OrderProcessed publishes StockReserved for committed orders and
// StockDepleted for orders rejected for lack of stock. Publication failures
// are logged; the recorded outcome stands either way.
func (p *Publisher) OrderProcessed(ctx context.Context, order fulfillment.Order, res fulfillment.Result) {
	meta, ok := MetaFrom(ctx)
	if !ok {
		meta = EventMeta{CorrelationID: uuid.NewString()}
	}
	if meta.PartitionKey == "" {
		meta.PartitionKey = res.OrderID
	}

	var err error
	switch {
	case res.Status == fulfillment.StatusCommitted:
		err = p.PublishStockReserved(ctx, meta, res.OrderID, meta.UserID, res.Items)
	case res.Status == fulfillment.StatusRejected && res.Reason == fulfillment.ReasonInsufficientStock && res.Shortfall != nil:
		err = p.PublishStockDepleted(ctx, meta, res.OrderID, meta.UserID, []inventory.DepletedLine{*res.Shortfall}, nil)
	default:
		return
	}
	if err != nil {
		p.logger.Error().Err(err).Str("order_id", res.OrderID).Str("status", string(res.Status)).Msg("publish stock event")
	}
}

func (p *Publisher) PublishStockReserved(ctx context.Context, meta EventMeta, orderID, userID string, reserved []inventory.Line) error {
	timestamp := p.now()

	if !p.publishEnveloped {
		ev := StockReserved{
			EventType: EventTypeStockReserved,
			OrderID:   orderID,
			UserID:    userID,
			Timestamp: timestamp,
		}
		for _, it := range reserved {
			ev.Items = append(ev.Items, StockLine{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
			})
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal StockReserved: %w", err)
		}
		return p.publishJSON(ctx, StockReservedRoutingKey, body)
	}

	payload := StockReservedPayload{
		OrderID:   orderID,
		UserID:    userID,
		Timestamp: timestamp,
	}
	for _, it := range reserved {
		payload.Items = append(payload.Items, ReservedItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
		})
	}

	seq, err := p.seq.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := newStockReservedEvent(meta, seq, p.producerIdentifier, payload, timestamp)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal StockReserved envelope: %w", err)
	}

	return p.publishJSON(ctx, StockReservedRoutingKey, body)
}

func (p *Publisher) PublishStockDepleted(ctx context.Context, meta EventMeta, orderID, userID string, depleted []inventory.DepletedLine, reserved []inventory.Line) error {
	timestamp := p.now()

	if !p.publishEnveloped {
		ev := StockDepleted{
			EventType: EventTypeStockDepleted,
			OrderID:   orderID,
			UserID:    userID,
			Timestamp: timestamp,
		}
		for _, d := range depleted {
			ev.Depleted = append(ev.Depleted, DepletedLine{
				ProductID: d.ProductID,
				Requested: d.Requested,
				Available: d.Available,
			})
		}
		for _, r := range reserved {
			ev.Reserved = append(ev.Reserved, StockLine{
				ProductID: r.ProductID,
				Quantity:  r.Quantity,
			})
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal StockDepleted: %w", err)
		}
		return p.publishJSON(ctx, StockDepletedRoutingKey, body)
	}

	payload := StockDepletedPayload{
		OrderID:   orderID,
		UserID:    userID,
		Timestamp: timestamp,
	}
	for _, d := range depleted {
		payload.Depleted = append(payload.Depleted, DepletedLine{
			ProductID: d.ProductID,
			Requested: d.Requested,
			Available: d.Available,
		})
	}
	for _, r := range reserved {
		payload.Reserved = append(payload.Reserved, ReservedItem{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
		})
	}

	seq, err := p.seq.NextSequence(ctx, meta.PartitionKey)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	env := newStockDepletedEvent(meta, seq, p.producerIdentifier, payload, timestamp)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal StockDepleted envelope: %w", err)
	}

	return p.publishJSON(ctx, StockDepletedRoutingKey, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func newStockReservedEvent(meta EventMeta, seq int64, producer string, payload StockReservedPayload, occurredAt time.Time) StockReservedEvent {
	return StockReservedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeStockReserved,
			EventVersion:  envelopeVersion,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        stockReservedSchema,
		},
		Payload: payload,
	}
}

func newStockDepletedEvent(meta EventMeta, seq int64, producer string, payload StockDepletedPayload, occurredAt time.Time) StockDepletedEvent {
	return StockDepletedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeStockDepleted,
			EventVersion:  envelopeVersion,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  meta.PartitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        stockDepletedSchema,
		},
		Payload: payload,
	}
}
