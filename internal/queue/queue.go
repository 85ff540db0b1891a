package queue

import (
	"fmt"
	"time"

	"github.com/sprintly/backend/internal/config"

	"github.com/rabbitmq/amqp091-go"
)

// EventsExchange carries progress and completion events.
const EventsExchange = "ingest_events"

// Channel is the subset of *amqp091.Channel used to declare topology.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// Publisher is the subset of *amqp091.Channel used to send messages.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init(cfg config.RabbitMQConfig) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the events exchange and, per queue, the work queue,
// its dead letter queue and a retry queue that dead-letters back into the
// work queue after retryDelay.
func SetupQueues(ch Channel, queueNames []string, retryDelay time.Duration) error {
	err := ch.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("exchange declare %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}

		if _, err := ch.QueueDeclare(DeadLetterQueue(name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", DeadLetterQueue(name), err)
		}

		if _, err := ch.QueueDeclare(
			RetryQueue(name),
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		); err != nil {
			return fmt.Errorf("queue declare %s: %w", RetryQueue(name), err)
		}
	}

	return nil
}

func DeadLetterQueue(name string) string {
	return name + "_dlq"
}

func RetryQueue(name string) string {
	return name + "_retry"
}

func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func PublishTopic(ch Publisher, topic string, data []byte) error {
	return ch.Publish(
		EventsExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
			Timestamp:   time.Now(),
		},
	)
}
