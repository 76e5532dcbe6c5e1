package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	defaultOutboxRetention  = 30 * 24 * time.Hour
	defaultTerminalAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Repository       outboxRetentionRepo
	Retention        time.Duration
	TerminalAttempts int
}

func (p OutboxRetentionJobParams) validate() error {
	var err error
	if p.Logger == nil {
		err = multierr.Append(err, errors.New("logger required"))
	}
	if p.DB == nil {
		err = multierr.Append(err, errors.New("db runner required"))
	}
	if p.Repository == nil {
		err = multierr.Append(err, errors.New("outbox repository required"))
	}
	return err
}

// NewOutboxRetentionJob builds the job that prunes delivered and dead-lettered
// outbox rows older than Retention.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: defaultOutboxRetention,
		terminal:  defaultTerminalAttempts,
		now:       time.Now,
	}
	if params.Retention > 0 {
		job.retention = params.Retention
	}
	if params.TerminalAttempts > 0 {
		job.terminal = params.TerminalAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	retention time.Duration
	terminal  int
	now       func() time.Time
}

func (*outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes rows that were published, or exhausted their attempts, before
// the retention cutoff.
func (j *outboxRetentionJob) Run(ctx context.Context) (Tally, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	tally := Tally{}
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		deleted, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.terminal)
		if err != nil {
			return err
		}
		tally["deleted"] = int(deleted)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete outbox rows before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted := tally["deleted"]; deleted > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{"deleted": deleted, "cutoff": cutoff}), "outbox.pruned")
	}
	return tally, nil
}
