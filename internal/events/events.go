// Package events publishes run progress to a Redis stream so external
// consumers can follow extractions without holding an HTTP connection
// open.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shophound/internal/pipeline"
)

// DefaultStreamPrefix is prepended to the run ID to form the stream key
// unless overridden.
const DefaultStreamPrefix = "shophound:runs"

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// StreamEmitter appends each run's events to its own Redis stream,
// keyed <prefix>:<run_id>, so a consumer can tail a single run with one
// XREAD. The full envelope rides along as JSON under data next to the
// indexed fields.
type StreamEmitter struct {
	client RedisClient
	prefix string
	logger *slog.Logger
}

func NewStreamEmitter(client RedisClient, prefix string, logger *slog.Logger) *StreamEmitter {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &StreamEmitter{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "stream_emitter"),
	}
}

func (e *StreamEmitter) Emit(ctx context.Context, ev *pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	values := map[string]interface{}{
		"data":       string(data),
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
		"run_id":     ev.RunID,
		"timestamp":  fmt.Sprintf("%d", ev.Timestamp.UnixNano()),
	}
	if ev.SiteLabel != "" {
		values["site_label"] = ev.SiteLabel
	}

	stream := e.prefix + ":" + ev.RunID
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	e.logger.Debug("event published",
		"stream", stream,
		"event_type", ev.Type,
		"run_id", ev.RunID,
	)
	return nil
}

func (e *StreamEmitter) Close() error {
	return e.client.Close()
}
