package events

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange          = "ecommerce.events"
	DeadLetterExchange      = "ecommerce.events.dlx"
	OrderCreatedRoutingKey  = "order.created.v1"
	StockReservedRoutingKey = "stock.reserved.v1"
	StockDepletedRoutingKey = "stock.depleted.v1"
	stockEngineServiceName  = "stock-engine-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func stockEngineQueueName(routingKey string) string {
	return serviceQueue(stockEngineServiceName, routingKey)
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

func declareDeadLetterExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		DeadLetterExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
