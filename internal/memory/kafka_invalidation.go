package memory

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// invalidationMessage is the wire format produced by whatever upstream
// system owns files/projects (a separate indexer, a git-sync job, ...) to
// push invalidation events instead of requiring the memory core to poll.
type invalidationMessage struct {
	Kind string `json:"kind"` // "entries" | "owner"
	IDs  []int64 `json:"ids,omitempty"`
	OwnerKind OwnerKind `json:"owner_kind,omitempty"`
	OwnerKey  string    `json:"owner_key,omitempty"`
}

// KafkaInvalidationConsumer subscribes to a topic of invalidation events and
// applies them through InvalidateEntries/InvalidateOwner, committing each
// message's offset once it has been handled; a message that still fails
// after retries is logged and its offset is committed as well.
type KafkaInvalidationConsumer struct {
	reader  *kafka.Reader
	rows    RowStore
	vectors VectorStore
}

// NewKafkaInvalidationConsumer builds a consumer over brokers/topic/groupID.
// Returns nil when brokers is empty, matching the optional-component
// nil-when-disabled pattern used throughout this package.
func NewKafkaInvalidationConsumer(brokers []string, topic, groupID string, rows RowStore, vectors VectorStore) *KafkaInvalidationConsumer {
	if len(brokers) == 0 {
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaInvalidationConsumer{reader: reader, rows: rows, vectors: vectors}
}

// Run consumes until ctx is canceled. Each message is retried up to 3 times
// on a transient failure before being skipped (and logged) so one poison
// message cannot stall the partition.
func (c *KafkaInvalidationConsumer) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return transient("KafkaInvalidationConsumer.Run", err)
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).
				Msg("memory_kafka_invalidation_handle_failed")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("memory_kafka_invalidation_commit_failed")
		}
	}
}

func (c *KafkaInvalidationConsumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	return withRetry(ctx, "KafkaInvalidationConsumer.handle", func() error {
		return c.handle(ctx, msg)
	})
}

func (c *KafkaInvalidationConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var evt invalidationMessage
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fatal("KafkaInvalidationConsumer.handle", err)
	}
	switch evt.Kind {
	case "entries":
		return InvalidateEntries(ctx, c.rows, c.vectors, evt.IDs)
	case "owner":
		return InvalidateOwner(ctx, c.rows, c.vectors, evt.OwnerKind, evt.OwnerKey)
	default:
		return invalidInput("KafkaInvalidationConsumer.handle", nil)
	}
}
