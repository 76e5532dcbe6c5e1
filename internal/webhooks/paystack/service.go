package paystackwebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/paystack"
)

// EventChargeSuccess is the only delivery that can create an order.
const EventChargeSuccess = "charge.success"

type paymentReconciler interface {
	HandlePaymentSuccess(ctx context.Context, event reconciler.PaymentEvent) (*reconciler.Result, error)
}

type ServiceParams struct {
	Reconciler paymentReconciler
	Logger     *logger.Logger
}

// Service applies gateway webhook deliveries.
type Service struct {
	reconciler paymentReconciler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	return &Service{reconciler: params.Reconciler, logg: params.Logger}, nil
}

// HandleEvent returns an error only when a redelivery could succeed where this
// attempt failed. Outcomes that need a person, such as an amount mismatch or an
// order that failed after payment, are acknowledged so the gateway stops
// retrying; they stay visible through the outbox and the reference's state.
func (s *Service) HandleEvent(ctx context.Context, event *paystack.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "paystack event required")
	}
	if event.Event != EventChargeSuccess {
		return nil
	}
	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge reference missing")
	}
	if s.logg != nil {
		ctx = s.logg.WithPaymentReference(ctx, reference)
	}

	result, err := s.reconciler.HandlePaymentSuccess(ctx, reconciler.PaymentEvent{
		Reference:   reference,
		Outcome:     enums.PaymentOutcomeSuccess,
		AmountMinor: event.Data.Amount,
		Currency:    event.Data.Currency,
		Channel:     event.Data.Channel,
		Source:      reconciler.SourceWebhook,
		Payload:     event.Raw,
		OccurredAt:  event.Data.PaidAt,
	})
	switch {
	case err == nil:
		if s.logg != nil {
			s.logg.Info(s.logg.WithField(ctx, "existing", result.Existing), "paystack_webhook.charge_reconciled")
		}
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeOrderCreationFailed),
		pkgerrors.IsCode(err, pkgerrors.CodePaymentAmount):
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "paystack_webhook.needs_attention")
		}
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		// charges for references this storefront never issued
		if s.logg != nil {
			s.logg.Warn(ctx, "paystack_webhook.unknown_reference")
		}
		return nil
	}
	return err
}
