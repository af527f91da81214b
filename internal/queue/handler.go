package queue

import (
	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	retryHeader = "x-retries"
	maxRetries  = 10
)

func retryCount(headers amqp091.Table) int {
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// Settle acknowledges a processed delivery. Failed deliveries are copied to
// the retry queue, or to the dead-letter queue once they have been retried
// maxRetries times or failed permanently. The original is only acked after
// the copy was published.
func Settle(ch Publisher, msg amqp091.Delivery, queueName string, processingErr error) {
	if processingErr == nil {
		if err := msg.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "queue", queueName, "err", err)
		}
		return
	}

	retries := retryCount(msg.Headers)
	target := queueName + "_retry"
	if retries >= maxRetries || util.IsPermanent(processingErr) {
		target = queueName + "_dlq"
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(retries + 1)
	headers["x-last-error"] = util.Truncate(processingErr.Error(), 500)

	logger.Warn("[Queue] Rerouting failed message", "queue", queueName, "target", target, "retries", retries, "err", processingErr)
	pubErr := ch.Publish(
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
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish failed message", "target", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
