package cron

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const defaultInFlightExpiry = 24 * time.Hour

type paymentCanceller interface {
	Cancel(ctx context.Context, reference, source string) (*reconciler.Result, error)
}

type IntentExpiryJobParams struct {
	Logger    *logger.Logger
	Intents   staleIntentLister
	Canceller paymentCanceller
	After     time.Duration
	BatchSize int
}

// NewIntentExpiryJob builds the job that cancels references left in flight
// past After, which unfreezes their carts. A charge reported later is still
// honoured by the reconciler.
func NewIntentExpiryJob(params IntentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Intents == nil {
		return nil, errors.New("payment intent lister required")
	}
	if params.Canceller == nil {
		return nil, errors.New("payment canceller required")
	}
	after := params.After
	if after <= 0 {
		after = defaultInFlightExpiry
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &intentExpiryJob{
		logg:      params.Logger,
		intents:   params.Intents,
		canceller: params.Canceller,
		after:     after,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type intentExpiryJob struct {
	logg      *logger.Logger
	intents   staleIntentLister
	canceller paymentCanceller
	after     time.Duration
	batch     int
	now       func() time.Time
}

func (j *intentExpiryJob) Name() string { return "intent-expiry" }

func (j *intentExpiryJob) Run(ctx context.Context) (Tally, error) {
	cutoff := j.now().UTC().Add(-j.after)
	intents, err := j.intents.ListStaleIntents(ctx, []enums.ReconcileState{enums.ReconcilePaymentInFlight}, cutoff, j.batch)
	if err != nil {
		return nil, err
	}

	tally := Tally{}
	var errs error
	for _, intent := range intents {
		_, err := j.canceller.Cancel(ctx, intent.Reference, reconciler.SourceExpiry)
		switch {
		case err == nil:
			tally.add("expired")
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			tally.add("skipped")
		default:
			tally.add("failed")
			errs = multierr.Append(errs, err)
		}
	}
	return tally, errs
}
