// Package events adapts the Kafka billing topic to the dispatcher.
//
// Delivery semantics: the renderer publishes with at-least-once
// guarantees, so the consumer never needs to be clever about duplicates;
// the processor's idempotency guard absorbs them. The consumer's only
// obligations are to keep malformed messages from wedging the partition
// and to give transient dependency failures a bounded retry before
// moving on. Anything it gives up on is recovered by the scheduled
// sweep, which replays the same effect from the job store.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/fertilia/reconciler/internal/domain"
	"github.com/fertilia/reconciler/internal/reconciler"
)

const (
	dispatchAttempts = 3
	dispatchBackoff  = 500 * time.Millisecond
)

// Consumer reads billing triggers from Kafka and feeds the dispatcher.
type Consumer struct {
	reader     *kafka.Reader
	dispatcher *reconciler.Dispatcher
	log        zerolog.Logger
}

// NewConsumer creates a consumer in the given consumer group.
func NewConsumer(brokers []string, topic, groupID string, d *reconciler.Dispatcher, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0, // explicit commits only
	})
	return &Consumer{
		reader:     reader,
		dispatcher: d,
		log:        logger.With().Str("component", "consumer").Logger(),
	}
}

// Run consumes until the context is canceled. Every message is committed
// exactly once, after handling: junk and rejected payloads immediately
// (redelivering them can never succeed), dependency failures after the
// retry budget is spent (the sweep picks those jobs up later).
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Msg("consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error().Err(err).Msg("commit failed")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var env domain.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.log.Warn().Err(err).
			Int64("offset", msg.Offset).
			Msg("undecodable message, skipping")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= dispatchAttempts; attempt++ {
		resp, err := c.dispatcher.Dispatch(ctx, env)
		if err == nil {
			c.log.Debug().
				Str("type", env.Type).
				Str("job_id", env.JobID).
				Str("outcome", string(resp.Outcome)).
				Msg("trigger processed")
			return
		}
		if domain.IsValidation(err) {
			c.log.Warn().Err(err).
				Str("type", env.Type).
				Str("job_id", env.JobID).
				Msg("trigger rejected")
			return
		}

		lastErr = err
		if attempt < dispatchAttempts {
			select {
			case <-time.After(dispatchBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return
			}
		}
	}

	c.log.Error().Err(lastErr).
		Str("type", env.Type).
		Str("job_id", env.JobID).
		Msg("dispatch failed after retries, leaving job to the sweep")
}

// Close shuts the reader down, committing the group offset.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
