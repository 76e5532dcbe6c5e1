package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

type verdict int

const (
	verdictPublished verdict = iota
	verdictRetry
	verdictDeadLetter
)

// judge decides what happens to a row after a send attempt.
func judge(sendErr error, attempt, maxAttempts int) (verdict, enums.DeadLetterReason) {
	if sendErr == nil {
		return verdictPublished, ""
	}
	var unroutable registry.NonRetryableError
	if errors.As(sendErr, &unroutable) {
		return verdictDeadLetter, enums.DeadLetterUnroutable
	}
	if attempt >= maxAttempts {
		return verdictDeadLetter, enums.DeadLetterMaxAttempts
	}
	return verdictRetry, ""
}

// deliver publishes one row and records the outcome on tx. Only store errors
// are returned; they abort the batch.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	eventType := string(event.EventType)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	})

	resolved, sendErr := s.registry.Resolve(event)
	if sendErr == nil {
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"event_id": resolved.Envelope.EventID,
			"topic":    resolved.Descriptor.Topic,
		})
		sendErr = s.send(ctx, event, resolved)
	} else if !errors.As(sendErr, new(registry.NonRetryableError)) {
		sendErr = registry.NewNonRetryableError(sendErr)
	}

	attempt := event.AttemptCount + 1
	outcome, reason := judge(sendErr, attempt, s.maxAttempts)
	switch outcome {
	case verdictPublished:
		if err := s.store.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(logCtx, "outbox.event_published")
	case verdictRetry:
		s.metrics.IncFailed(eventType)
		s.logg.Warn(s.logg.WithField(logCtx, "error", sendErr.Error()), "outbox.publish_failed")
		if err := s.store.RecordFailureTx(tx, event.ID, sendErr); err != nil {
			return fmt.Errorf("record failure %s: %w", event.ID, err)
		}
	case verdictDeadLetter:
		s.metrics.IncFailed(eventType)
		s.metrics.IncDeadLettered(eventType, string(reason))
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"error":        sendErr.Error(),
			"error_reason": reason,
		}), "outbox.event_dead_lettered")
		if err := s.store.DeadLetterTx(tx, event, reason, sendErr, s.maxAttempts); err != nil {
			return fmt.Errorf("dead letter %s: %w", event.ID, err)
		}
	}
	return nil
}

// send ships the stored envelope as-is; routing metadata travels as attributes.
func (s *Service) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return s.broker.Send(sendCtx, resolved.Descriptor.Topic, msg)
}
