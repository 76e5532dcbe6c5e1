package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/internal/shipping"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

type createSessionRequest struct {
	Currency string `json:"currency"`
}

type setCartRequest struct {
	Lines []pricing.Line `json:"lines" validate:"max=100"`
}

type setCurrencyRequest struct {
	Currency string `json:"currency" validate:"required"`
}

type requestRatesRequest struct {
	Destination shipping.Destination `json:"destination"`
}

type selectRateRequest struct {
	QuoteID string `json:"quoteId" validate:"required,max=128"`
}

type paymentIntentRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// CheckoutCreateSession starts a session in the requested display currency.
func CheckoutCreateSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		var payload createSessionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		currency := enums.SettlementCurrency
		if strings.TrimSpace(payload.Currency) != "" {
			parsed, err := enums.ParseCurrency(payload.Currency)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency"))
				return
			}
			currency = parsed
		}
		session, err := svc.Create(r.Context(), currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

func CheckoutGetSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		session, err := svc.Get(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// CheckoutSetCart replaces the cart lines; the delivery choice is cleared.
func CheckoutSetCart(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		var payload setCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		session, err := svc.SetCart(r.Context(), chi.URLParam(r, "sessionId"), payload.Lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

func CheckoutSetCurrency(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		var payload setCurrencyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency"))
			return
		}
		session, err := svc.SetCurrency(r.Context(), chi.URLParam(r, "sessionId"), currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

// CheckoutPricing returns the breakdown, delivery fee and order total.
func CheckoutPricing(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		summary, err := svc.Price(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// CheckoutRequestRates quotes delivery options. The destination is validated
// by the service so that its phone rule applies.
func CheckoutRequestRates(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		var payload requestRatesRequest
		if err := validators.DecodeJSON(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.RequestRates(r.Context(), chi.URLParam(r, "sessionId"), payload.Destination)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}

func CheckoutSelectRate(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		var payload selectRateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		selection, err := svc.SelectRate(r.Context(), chi.URLParam(r, "sessionId"), payload.QuoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, selection)
	}
}

// CheckoutCreatePaymentIntent freezes the order draft and returns the
// reference to open the gateway with.
func CheckoutCreatePaymentIntent(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		var payload paymentIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.CreatePaymentIntent(r.Context(), chi.URLParam(r, "sessionId"), payload.Email)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if intent.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, intent)
	}
}

// CheckoutConfirmPayment is the storefront's callback after the gateway popup
// closes with a charge.
func CheckoutConfirmPayment(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		reference, err := referenceParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ConfirmPayment(r.Context(), chi.URLParam(r, "sessionId"), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func CheckoutCancelPayment(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		reference, err := referenceParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CancelPayment(r.Context(), chi.URLParam(r, "sessionId"), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CheckoutAcknowledge clears the cart once the customer has seen the order.
func CheckoutAcknowledge(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkoutAvailable(w, r, svc, logg) {
			return
		}
		session, err := svc.Acknowledge(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}

func checkoutAvailable(w http.ResponseWriter, r *http.Request, svc checkoutsvc.Service, logg *logger.Logger) bool {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
		return false
	}
	return true
}

func referenceParam(r *http.Request) (string, error) {
	return validators.PaymentReference(chi.URLParam(r, "reference"))
}
