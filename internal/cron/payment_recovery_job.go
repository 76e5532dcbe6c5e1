package cron

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	defaultRecoveryAfter = 10 * time.Minute
	defaultBatchSize     = 100
)

type staleIntentLister interface {
	ListStaleIntents(ctx context.Context, states []enums.ReconcileState, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
}

type orderRetrier interface {
	Retry(ctx context.Context, reference string) (*reconciler.Result, error)
}

// PaymentRecoveryJobParams configure the job that retries order creation for
// captured payments.
type PaymentRecoveryJobParams struct {
	Logger    *logger.Logger
	Intents   staleIntentLister
	Retrier   orderRetrier
	After     time.Duration
	BatchSize int
}

// NewPaymentRecoveryJob builds the job that re-runs order creation for
// references paid for but left without an order. The same reference is reused,
// so no customer is charged twice.
func NewPaymentRecoveryJob(params PaymentRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Intents == nil {
		return nil, errors.New("payment intent lister required")
	}
	if params.Retrier == nil {
		return nil, errors.New("order retrier required")
	}
	after := params.After
	if after <= 0 {
		after = defaultRecoveryAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentRecoveryJob{
		logg:    params.Logger,
		intents: params.Intents,
		retrier: params.Retrier,
		after:   after,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type paymentRecoveryJob struct {
	logg    *logger.Logger
	intents staleIntentLister
	retrier orderRetrier
	after   time.Duration
	batch   int
	now     func() time.Time
}

func (j *paymentRecoveryJob) Name() string { return "payment-recovery" }

func (j *paymentRecoveryJob) Run(ctx context.Context) (Tally, error) {
	cutoff := j.now().UTC().Add(-j.after)
	intents, err := j.intents.ListStaleIntents(ctx, []enums.ReconcileState{
		enums.ReconcileOrderCreationFailedAfterPayment,
		enums.ReconcileOrderCreationPending,
	}, cutoff, j.batch)
	if err != nil {
		return nil, err
	}

	tally := Tally{}
	var errs error
	for _, intent := range intents {
		refCtx := j.logg.WithPaymentReference(ctx, intent.Reference)
		_, err := j.retrier.Retry(refCtx, intent.Reference)
		switch {
		case err == nil:
			tally.add("recovered")
		case pkgerrors.IsCode(err, pkgerrors.CodeConflict), pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			// another writer holds or already moved the reference
			tally.add("skipped")
		case pkgerrors.IsCode(err, pkgerrors.CodeOrderCreationFailed):
			tally.add("failed")
			j.logg.Warn(refCtx, "sweeper.payment_recovery_failed")
		default:
			tally.add("failed")
			errs = multierr.Append(errs, err)
		}
	}
	return tally, errs
}
