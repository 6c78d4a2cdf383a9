package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/volgapavel/parsAZ/internal/util"
	"github.com/volgapavel/parsAZ/pkg/logger"
)

const (
	// DocumentsQueue carries batches of ingested articles for processing.
	DocumentsQueue = "graph.documents"
	// RetryQueue parks failed deliveries before they are redelivered.
	RetryQueue = "graph.documents.retry"
	// DeadLetterQueue collects deliveries that exhausted their retries.
	DeadLetterQueue = "graph.documents.dead"

	retryExchange      = "graph.retry"
	deadLetterExchange = "graph.dead"

	retryDelay = 30 * time.Second
	maxRetries = 3
)

// Client wraps the AMQP connection and channel used by the worker.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect dials the broker with bounded retries and declares the queue
// topology.
func Connect(ctx context.Context, url string) (*Client, error) {
	conn, err := util.RetryWithContext(ctx, 5, func(_ context.Context) (*amqp.Connection, error) {
		c, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("broker not reachable, retrying", "error", err)
			time.Sleep(2 * time.Second)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// documents are processed one batch at a time per worker
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	client := &Client{conn: conn, channel: channel}
	if err := client.setupQueues(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// setupQueues declares the main queue with its retry and dead-letter
// topology: failed deliveries go to the retry queue, sit out the TTL and
// come back; deliveries that exhausted their retries land in the dead
// letter queue for inspection.
func (c *Client) setupQueues() error {
	if err := c.channel.ExchangeDeclare(retryExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare retry exchange: %w", err)
	}
	if err := c.channel.ExchangeDeclare(deadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	_, err := c.channel.QueueDeclare(DocumentsQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    retryExchange,
		"x-dead-letter-routing-key": RetryQueue,
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", DocumentsQueue, err)
	}

	_, err = c.channel.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(retryDelay / time.Millisecond),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DocumentsQueue,
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", RetryQueue, err)
	}
	if err := c.channel.QueueBind(RetryQueue, RetryQueue, retryExchange, false, nil); err != nil {
		return fmt.Errorf("bind retry queue: %w", err)
	}

	_, err = c.channel.QueueDeclare(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := c.channel.QueueBind(DeadLetterQueue, DeadLetterQueue, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}
	return nil
}

// Publish sends a persistent message to the documents queue.
func (c *Client) Publish(ctx context.Context, correlationID string, body []byte) error {
	return c.channel.PublishWithContext(ctx, "", DocumentsQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
}

// Consume delivers messages from the documents queue.
func (c *Client) Consume() (<-chan amqp.Delivery, error) {
	deliveries, err := c.channel.Consume(DocumentsQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", DocumentsQueue, err)
	}
	return deliveries, nil
}

// deliveryRetries counts how often a delivery has already been through the
// retry loop, read from the x-death header the broker maintains.
func deliveryRetries(d amqp.Delivery) int64 {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	for _, raw := range deaths {
		death, ok := raw.(amqp.Table)
		if !ok {
			continue
		}
		if death["queue"] == RetryQueue {
			if count, ok := death["count"].(int64); ok {
				return count
			}
		}
	}
	return 0
}

// reject routes a failed delivery: back through the retry loop while
// retries remain, to the dead letter queue once they are exhausted.
func (c *Client) reject(ctx context.Context, d amqp.Delivery, reason error) {
	if deliveryRetries(d) >= maxRetries {
		logger.Error("delivery exhausted retries, dead-lettering",
			"correlation_id", d.CorrelationId, "error", reason)
		err := c.channel.PublishWithContext(ctx, deadLetterExchange, DeadLetterQueue, false, false, amqp.Publishing{
			ContentType:   d.ContentType,
			CorrelationId: d.CorrelationId,
			Body:          d.Body,
		})
		if err != nil {
			logger.Error("failed to dead-letter delivery", "error", err)
		}
		if err := d.Ack(false); err != nil {
			logger.Error("failed to ack dead-lettered delivery", "error", err)
		}
		return
	}
	logger.Warn("delivery failed, sending to retry queue",
		"correlation_id", d.CorrelationId, "retries", deliveryRetries(d), "error", reason)
	if err := d.Nack(false, false); err != nil {
		logger.Error("failed to nack delivery", "error", err)
	}
}

// Close shuts down the channel and connection.
func (c *Client) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
