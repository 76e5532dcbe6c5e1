package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	maxErrorWait       = 10 * time.Second
	publishTimeout     = 15 * time.Second
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxStore interface {
	ClaimBatchTx(tx *gorm.DB, limit, attemptCeiling int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	RecordFailureTx(tx *gorm.DB, id uuid.UUID, cause error) error
	DeadLetterTx(tx *gorm.DB, event models.OutboxEvent, reason enums.DeadLetterReason, cause error, attemptCeiling int) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Outbox   config.OutboxConfig
	Logger   *logger.Logger
	DB       dbClient
	Broker   broker
	Store    outboxStore
	Registry eventResolver
	Metrics  *metrics.OutboxMetrics
}

// Service drains outbox_events to the broker. Each batch runs in one
// transaction: rows are claimed, published, then marked, so a crash before
// commit only repeats deliveries.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	broker      broker
	store       outboxStore
	registry    eventResolver
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("broker is required")
	case params.Store == nil:
		return nil, errors.New("outbox store is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}
	svc := &Service{
		logg:        params.Logger,
		db:          params.DB,
		broker:      params.Broker,
		store:       params.Store,
		registry:    params.Registry,
		metrics:     params.Metrics,
		batchSize:   params.Outbox.BatchSize,
		maxAttempts: params.Outbox.MaxAttempts,
		poll:        time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.poll <= 0 {
		svc.poll = defaultPoll
	}
	return svc, nil
}

// Run publishes until ctx is cancelled. Full batches are followed immediately
// by the next one; an empty batch waits one poll interval and a failed batch
// waits with exponential backoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.checkDependencies(ctx); err != nil {
		return err
	}

	wait := newPollBackoff(s.poll, maxErrorWait)
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox.publisher_stopped")
			return err
		}
		handled, err := s.publishBatch(ctx)
		var pause time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			pause = wait.failed()
		case handled < s.batchSize:
			pause = wait.idle()
		default:
			wait.reset()
			continue
		}
		if err := sleepCtx(ctx, pause); err != nil {
			return err
		}
	}
}

func (s *Service) checkDependencies(ctx context.Context) error {
	deps := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"broker", s.broker.Ping},
	}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", dep.name), "outbox.dependency_unavailable", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// publishBatch returns how many rows it claimed.
func (s *Service) publishBatch(ctx context.Context) (int, error) {
	handled := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.ClaimBatchTx(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		handled = len(events)
		for _, event := range events {
			if err := s.deliver(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return handled, err
}
