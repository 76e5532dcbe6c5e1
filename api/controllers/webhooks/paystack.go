package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/paystack"
)

// PaystackConsumer scopes processed-event marks for gateway deliveries.
const PaystackConsumer = "paystack-webhook"

const maxWebhookBody = 1 << 20

type PaystackWebhookService interface {
	HandleEvent(ctx context.Context, event *paystack.Event) error
}

type SignatureVerifier interface {
	ValidSignature(payload []byte, header string) bool
}

// WebhookGuard claims an event id so gateway retries are handled once.
type WebhookGuard interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Release(ctx context.Context, consumer, eventID string) error
}

// PaystackWebhook handles signed charge notifications from the gateway. A
// delivery that fails processing releases its claim so the gateway's retry is
// processed again; duplicates of a processed delivery answer 200 untouched.
func PaystackWebhook(svc PaystackWebhookService, verifier SignatureVerifier, guard WebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || verifier == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "paystack webhook not configured"))
			return
		}

		event, err := verifiedEvent(w, r, verifier)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventID := event.ID()
		if logg != nil {
			ctx = logg.WithPaymentReference(logg.WithField(ctx, "event_id", eventID), event.Data.Reference)
		}

		claimed, err := guard.Claim(ctx, PaystackConsumer, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event"))
			return
		}
		if !claimed {
			if logg != nil {
				logg.Info(ctx, "paystack_webhook.duplicate")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if relErr := guard.Release(context.WithoutCancel(ctx), PaystackConsumer, eventID); relErr != nil && logg != nil {
				logg.Error(ctx, "paystack_webhook.release_failed", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(ctx, "paystack_webhook.processed")
		}
		responses.WriteSuccess(w, nil)
	}
}

// verifiedEvent reads the bounded body, checks its signature and parses it.
func verifiedEvent(w http.ResponseWriter, r *http.Request, verifier SignatureVerifier) (*paystack.Event, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body too large")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read webhook body")
	}

	signature := r.Header.Get(paystack.SignatureHeader)
	switch {
	case signature == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paystack signature missing")
	case !verifier.ValidSignature(payload, signature):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paystack signature invalid")
	}
	return paystack.ParseEvent(payload)
}
