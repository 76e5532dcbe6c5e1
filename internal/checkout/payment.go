package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/internal/settlement"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
)

const referencePrefix = "SF"

// CreatePaymentIntent freezes the order draft and the NGN amount the gateway
// must charge. Calling it again with an unchanged checkout returns the same
// reference.
func (s *service) CreatePaymentIntent(ctx context.Context, id, email string) (*PaymentIntent, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a valid email is required").
			WithDetails(map[string]any{"email": "must be a valid email address"})
	}
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if err := s.refreshStaleFX(ctx, session); err != nil {
		return nil, err
	}

	summary, err := s.summarize(ctx, session)
	if err != nil {
		return nil, err
	}
	if !summary.PaymentReady {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout is not ready for payment").
			WithDetails(map[string]any{"notice": summary.Notice})
	}
	if session.Destination == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery address is required")
	}

	settled, err := s.converter.ToSettlement(ctx, summary.OrderTotal, session.FX)
	if err != nil {
		return nil, err
	}
	if summary.FeeUnconverted {
		settled, err = s.converter.Unconverted(ctx, settled, summary.DeliveryFee)
		if err != nil {
			return nil, err
		}
	}
	fingerprint, err := paymentFingerprint(email, summary, settled)
	if err != nil {
		return nil, err
	}

	if current := session.Payment; current != nil {
		switch {
		case current.State == enums.ReconcilePaymentInFlight && current.Fingerprint == fingerprint:
			return s.intentView(current, true), nil
		case current.State == enums.ReconcilePaymentInFlight:
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a payment is already in progress; cancel it before changing the order").
				WithDetails(map[string]any{"paymentReference": current.Reference})
		case current.State.PaymentCaptured():
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already captured for this checkout").
				WithDetails(map[string]any{"paymentReference": current.Reference, "state": current.State})
		}
	}

	draft, err := json.Marshal(orderDraft(session, summary, email))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode order draft")
	}
	reference := newReference(s.now())
	intent := &models.PaymentIntent{
		Reference:          reference,
		SessionID:          session.ID,
		Email:              email,
		DisplayCurrency:    summary.OrderTotal.Currency,
		DisplayTotal:       summary.OrderTotal.Amount,
		SettlementCurrency: settled.Total.Currency,
		SettlementTotal:    settled.Total.Amount,
		AmountMinor:        settled.AmountMinor,
		Approximate:        settled.Approximate,
		Fingerprint:        fingerprint,
		State:              enums.ReconcilePaymentInFlight,
		Draft:              draft,
	}
	if settled.FXSnapshotID != "" {
		snapshot := settled.FXSnapshotID
		intent.FXSnapshotID = &snapshot
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.payments.WithTx(tx).CreateIntent(ctx, intent); err != nil {
			return err
		}
		if !intent.Approximate {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventApproximateSettlementUsed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   intent.ID,
			Actor:         &outbox.ActorRef{Source: "checkout", SessionID: session.ID},
			Data: payloads.ApproximateSettlementUsedEvent{
				PaymentIntentID:  intent.ID,
				PaymentReference: intent.Reference,
				DisplayCurrency:  intent.DisplayCurrency,
				DisplayTotal:     intent.DisplayTotal,
				SettlementTotal:  intent.SettlementTotal,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	session.Payment = &PaymentState{
		Reference:       reference,
		Fingerprint:     fingerprint,
		Email:           email,
		State:           enums.ReconcilePaymentInFlight,
		AmountMinor:     settled.AmountMinor,
		SettlementTotal: settled.Total.Amount,
		DisplayTotal:    summary.OrderTotal.Amount,
		DisplayCurrency: summary.OrderTotal.Currency,
		Approximate:     settled.Approximate,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payment_reference": reference,
			"amount_minor":      settled.AmountMinor,
			"approximate":       settled.Approximate,
		}), "checkout.payment_intent_created")
	}
	return s.intentView(session.Payment, false), nil
}

// ConfirmPayment is the client callback after the gateway popup reports
// success. The gateway is asked for the authoritative outcome before any order
// is created.
func (s *service) ConfirmPayment(ctx context.Context, id, reference string) (*reconciler.Result, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if err := sessionOwnsReference(session, reference); err != nil {
		return nil, err
	}

	txn, err := s.gateway.VerifyTransaction(ctx, session.Payment.Reference)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(txn.Reference, session.Payment.Reference) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment provider returned a different reference")
	}

	if !txn.Final() {
		if s.logg != nil {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"payment_reference": session.Payment.Reference,
				"gateway_status":    txn.Status,
			}), "checkout.payment_pending")
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment is still being processed; try again shortly").
			WithDetails(map[string]any{"paymentReference": session.Payment.Reference, "status": txn.Status})
	}

	var result *reconciler.Result
	switch txn.Outcome() {
	case enums.PaymentOutcomeSuccess:
		payload, encodeErr := json.Marshal(txn)
		if encodeErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, encodeErr, "encode gateway transaction")
		}
		occurred := txn.PaidAt
		if occurred.IsZero() {
			occurred = s.now()
		}
		result, err = s.reconciler.HandlePaymentSuccess(ctx, reconciler.PaymentEvent{
			Reference:   session.Payment.Reference,
			Outcome:     enums.PaymentOutcomeSuccess,
			AmountMinor: txn.Amount,
			Currency:    txn.Currency,
			Channel:     txn.Channel,
			Source:      reconciler.SourceClientCallback,
			Payload:     payload,
			OccurredAt:  occurred,
		})
	default:
		result, err = s.reconciler.Cancel(ctx, session.Payment.Reference, reconciler.SourceClientCallback)
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeOrderCreationFailed) {
			session.Payment.State = enums.ReconcileOrderCreationFailedAfterPayment
			if saveErr := s.save(ctx, session); saveErr != nil && s.logg != nil {
				s.logg.Error(ctx, "checkout.session_save_failed", saveErr)
			}
		}
		return nil, err
	}
	applyResult(session, result)
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return result, nil
}

// CancelPayment handles the popup being closed without paying. The reference is
// never reused afterwards.
func (s *service) CancelPayment(ctx context.Context, id, reference string) (*reconciler.Result, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if err := sessionOwnsReference(session, reference); err != nil {
		return nil, err
	}
	result, err := s.reconciler.Cancel(ctx, session.Payment.Reference, reconciler.SourceClientCallback)
	if err != nil {
		return nil, err
	}
	applyResult(session, result)
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) intentView(state *PaymentState, reused bool) *PaymentIntent {
	return &PaymentIntent{
		Reference:       state.Reference,
		Email:           state.Email,
		AmountMinor:     state.AmountMinor,
		Currency:        enums.SettlementCurrency,
		SettlementTotal: money.New(enums.SettlementCurrency, state.SettlementTotal),
		DisplayTotal:    money.New(state.DisplayCurrency, state.DisplayTotal),
		Approximate:     state.Approximate,
		PublicKey:       s.gateway.PublicKey(),
		Reused:          reused,
	}
}

func sessionOwnsReference(session *Session, reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if session.Payment == nil || session.Payment.Reference != reference {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment reference not found for this checkout").
			WithDetails(map[string]any{"paymentReference": reference})
	}
	return nil
}

func orderDraft(session *Session, summary *Summary, email string) orders.CreateOrderInput {
	breakdown := summary.Breakdown
	items := make([]orders.LineItem, 0, len(breakdown.Lines))
	for _, line := range breakdown.Lines {
		items = append(items, orders.LineItem{
			ProductID:          line.ProductID,
			Name:               line.Name,
			Color:              line.Color,
			Size:               line.Size,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice.Amount,
			SizeModSurcharge:   line.SizeModSurcharge.Amount,
			LineTotal:          line.LineTotal.Amount,
			PriceSource:        line.PriceSource,
			CustomMeasurements: line.CustomMeasurements,
		})
	}
	dest := *session.Destination
	return orders.CreateOrderInput{
		Customer: orders.Customer{
			Name:  dest.Name,
			Email: email,
			Phone: dest.Phone,
		},
		Currency:      summary.OrderTotal.Currency,
		Items:         items,
		ItemsSubtotal: breakdown.ItemsSubtotal.Amount,
		SizeModTotal:  breakdown.SizeModTotal.Amount,
		DeliveryFee:   summary.DeliveryFee.Amount,
		Total:         summary.OrderTotal.Amount,
		Shipping: orders.ShippingSnapshot{
			Destination: dest,
			Delivery:    summary.Delivery,
		},
	}
}

type fingerprintInput struct {
	Email        string         `json:"email"`
	Currency     enums.Currency `json:"currency"`
	Total        string         `json:"total"`
	AmountMinor  int64          `json:"amountMinor"`
	Lines        []pricing.Line `json:"lines"`
	QuoteID      string         `json:"quoteId"`
	RequestToken string         `json:"requestToken"`
}

// paymentFingerprint identifies everything a reference was priced for. Any
// change yields a new fingerprint and therefore a new reference.
func paymentFingerprint(email string, summary *Summary, settled settlement.Settlement) (string, error) {
	lines := make([]pricing.Line, 0, len(summary.Breakdown.Lines))
	for _, line := range summary.Breakdown.Lines {
		lines = append(lines, line.Line)
	}
	input := fingerprintInput{
		Email:       email,
		Currency:    summary.OrderTotal.Currency,
		Total:       summary.OrderTotal.Amount.StringFixed(2),
		AmountMinor: settled.AmountMinor,
		Lines:       lines,
	}
	if summary.Delivery != nil {
		input.QuoteID = summary.Delivery.QuoteID
		input.RequestToken = summary.Delivery.RequestToken
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fingerprint payment")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func newReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	return fmt.Sprintf("%s-%s-%s", referencePrefix, now.UTC().Format("20060102"), suffix)
}
