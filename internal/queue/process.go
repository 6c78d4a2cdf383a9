package queue

import (
	"context"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/graph"
	"github.com/volgapavel/parsAZ/pkg/logger"
)

// DocumentBatch is the payload published to the documents queue: a set of
// articles with any pre-extracted spans and relation candidates.
type DocumentBatch struct {
	BatchID   string                `json:"batch_id"`
	Documents []graph.DocumentInput `json:"documents"`
}

// NewBatchID generates a short unique identifier for a published batch.
func NewBatchID() string {
	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the system randomness source is broken
		logger.Fatal("failed to generate batch id", "error", err)
	}
	return id
}

// PublishDocuments validates, encodes and publishes a document batch.
func (c *Client) PublishDocuments(ctx context.Context, docs []graph.DocumentInput) (string, error) {
	for i, doc := range docs {
		if err := doc.Validate(); err != nil {
			return "", fmt.Errorf("document %d: %w", i, err)
		}
	}
	batch := DocumentBatch{BatchID: NewBatchID(), Documents: docs}
	body, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}
	if err := c.Publish(ctx, batch.BatchID, body); err != nil {
		return "", fmt.Errorf("publish batch %s: %w", batch.BatchID, err)
	}
	return batch.BatchID, nil
}

// Run consumes document batches and feeds them through the pipeline until
// the context is canceled or the delivery channel closes. Batch-level
// failures go through the retry topology; per-document failures inside a
// batch are already isolated by the pipeline and only logged.
func (c *Client) Run(ctx context.Context, client *graph.Client) error {
	deliveries, err := c.Consume()
	if err != nil {
		return err
	}
	logger.Info("worker consuming", "queue", DocumentsQueue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var batch DocumentBatch
			if err := json.Unmarshal(d.Body, &batch); err != nil {
				// malformed payloads will never parse, skip the retry loop
				logger.Error("dropping malformed batch", "correlation_id", d.CorrelationId, "error", err)
				if err := d.Ack(false); err != nil {
					logger.Error("failed to ack malformed batch", "error", err)
				}
				continue
			}

			results, err := client.ProcessBatch(ctx, batch.Documents)
			if err != nil {
				c.reject(ctx, d, err)
				continue
			}
			logBatch(batch.BatchID, results)
			if err := d.Ack(false); err != nil {
				logger.Error("failed to ack batch", "batch", batch.BatchID, "error", err)
			}
		}
	}
}

func logBatch(batchID string, results []graph.DocumentResult) {
	entities, edges, failed := 0, 0, 0
	var risky []string
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		entities += r.Aggregate.EntitiesUpserted
		edges += r.Aggregate.EdgesUpserted
		if r.Risk.Level != common.RiskLevelNone && r.Risk.Level != "" {
			risky = append(risky, r.ArticleID)
		}
	}
	logger.Info("batch processed",
		"batch", batchID,
		"documents", len(results),
		"failed", failed,
		"entities", entities,
		"edges", edges,
		"risk_flagged", len(risky))
}
