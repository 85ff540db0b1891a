package queue

import (
	"github.com/sprintly/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// HandleProcessingError routes a failed delivery to the retry queue, or to
// the dead letter queue once maxRetries is reached or when the failure is
// permanent. The delivery is acked after a successful republish and
// requeued otherwise.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, maxRetries int, permanent bool) {
	retries := retryCount(msg.Headers)

	target := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	if permanent || retries >= maxRetries {
		target = DeadLetterQueue(queueName)
		headers = msg.Headers
		logger.Info("[Queue] Sending message to DLQ", "dlq", target, "retries", retries, "permanent", permanent)
	}

	err := ch.Publish(
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
