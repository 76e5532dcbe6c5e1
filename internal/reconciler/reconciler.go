package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

const (
	lockScope       = "order_creation"
	defaultLockTTL  = 2 * time.Minute
	maxErrorMessage = 512

	outcomeCreated  = "created"
	outcomeExisting = "existing"
	outcomeFailed   = "failed"
	outcomeMismatch = "mismatch"
	outcomeConflict = "conflict"
)

// Event sources recorded on payment events.
const (
	SourceWebhook        = "webhook"
	SourceClientCallback = "client_callback"
	SourceExpiry         = "expiry"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Locker is the redis surface used for the per-reference in-flight lock.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

// PaymentEvent is a gateway-confirmed outcome for a reference.
type PaymentEvent struct {
	Reference   string
	Outcome     enums.PaymentOutcome
	AmountMinor int64
	Currency    string
	Channel     string
	Source      string
	Payload     json.RawMessage
	OccurredAt  time.Time
}

// Result describes where a reference stands after a reconciler call.
type Result struct {
	Reference string               `json:"paymentReference"`
	State     enums.ReconcileState `json:"state"`
	OrderID   *uuid.UUID           `json:"orderId,omitempty"`
	Email     string               `json:"email,omitempty"`
	Existing  bool                 `json:"existing"`
}

type ServiceParams struct {
	Payments *payments.Repository
	Orders   orders.Service
	Tx       txRunner
	Outbox   outboxPublisher
	Locker   Locker
	LockTTL  time.Duration
	Metrics  *metrics.CheckoutMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service drives a payment reference from captured charge to exactly one order.
type Service struct {
	payments *payments.Repository
	orders   orders.Service
	tx       txRunner
	outbox   outboxPublisher
	locker   Locker
	lockTTL  time.Duration
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, errors.New("payments repository required")
	}
	if params.Orders == nil {
		return nil, errors.New("orders service required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	if params.Locker == nil {
		return nil, errors.New("locker required")
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		payments: params.Payments,
		orders:   params.Orders,
		tx:       params.Tx,
		outbox:   params.Outbox,
		locker:   params.Locker,
		lockTTL:  ttl,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// HandlePaymentSuccess records a successful charge and creates its order. It is
// safe to call any number of times for the same reference, from the client
// callback and the webhook alike.
func (s *Service) HandlePaymentSuccess(ctx context.Context, event PaymentEvent) (*Result, error) {
	started := s.now()
	event.Reference = strings.TrimSpace(event.Reference)
	if event.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if event.Outcome != enums.PaymentOutcomeSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment did not succeed")
	}
	ctx = s.withReference(ctx, event.Reference)

	if _, _, err := s.payments.RecordEvent(ctx, s.eventModel(event)); err != nil {
		return nil, err
	}
	intent, err := s.payments.FindIntent(ctx, event.Reference)
	if err != nil {
		return nil, err
	}

	if mismatch := s.checkAmount(intent, event); mismatch != nil {
		// webhook and callback both report the same charge; alert once
		s.emitOnce(ctx, outbox.DomainEvent{
			EventType:     enums.EventPaymentAmountMismatch,
			AggregateType: enums.AggregatePayment,
			AggregateID:   intent.ID,
			Actor:         &outbox.ActorRef{Source: event.Source, SessionID: intent.SessionID},
			Data: payloads.PaymentAmountMismatchEvent{
				PaymentIntentID:  intent.ID,
				PaymentReference: intent.Reference,
				ExpectedMinor:    intent.AmountMinor,
				ReceivedMinor:    event.AmountMinor,
				ExpectedCurrency: intent.SettlementCurrency,
				ReceivedCurrency: event.Currency,
			},
		})
		s.observe(outcomeMismatch, started)
		if s.logg != nil {
			s.logg.Warn(ctx, "reconciler.amount_mismatch")
		}
		return nil, mismatch
	}

	if _, err := s.payments.TransitionIntent(ctx, intent.Reference,
		[]enums.ReconcileState{enums.ReconcilePaymentInFlight, enums.ReconcilePaymentCancelled},
		enums.ReconcilePaymentSucceeded, payments.IntentUpdate{}); err != nil {
		return nil, err
	}
	intent, err = s.payments.FindIntent(ctx, intent.Reference)
	if err != nil {
		return nil, err
	}

	switch intent.State {
	case enums.ReconcileOrderCreated:
		s.observe(outcomeExisting, started)
		return resultFor(intent, true), nil
	case enums.ReconcileOrderCreationFailedAfterPayment:
		// retries are explicit; a duplicate callback only reports the failure
		return nil, failedError(intent)
	case enums.ReconcilePaymentSucceeded, enums.ReconcileOrderCreationPending:
		return s.createOrder(ctx, intent, event.Channel, started)
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment reference is not payable").
		WithDetails(map[string]any{"paymentReference": intent.Reference, "state": intent.State})
}

// Retry re-attempts order creation for a reference whose payment succeeded but
// whose order could not be created. It reuses the reference and never charges
// again. Calling it for a reference that already has an order returns that order.
func (s *Service) Retry(ctx context.Context, reference string) (*Result, error) {
	started := s.now()
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	ctx = s.withReference(ctx, reference)

	intent, err := s.payments.FindIntent(ctx, reference)
	if err != nil {
		return nil, err
	}
	switch intent.State {
	case enums.ReconcileOrderCreated:
		s.observe(outcomeExisting, started)
		return resultFor(intent, true), nil
	case enums.ReconcileOrderCreationFailedAfterPayment, enums.ReconcileOrderCreationPending:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing to retry for this payment reference").
			WithDetails(map[string]any{"paymentReference": reference, "state": intent.State})
	}

	channel, err := s.channel(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.createOrder(ctx, intent, channel, started)
}

// Place creates the order for a captured reference on behalf of the order API.
// The request must describe exactly what the reference was charged for; the
// order itself is always built from the frozen draft.
func (s *Service) Place(ctx context.Context, input orders.CreateOrderInput) (*Result, error) {
	started := s.now()
	reference := strings.TrimSpace(input.PaymentReference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	input.PaymentReference = reference
	ctx = s.withReference(ctx, reference)

	intent, err := s.payments.FindIntent(ctx, reference)
	if err != nil {
		return nil, err
	}
	if intent.State == enums.ReconcileOrderCreated {
		s.observe(outcomeExisting, started)
		return resultFor(intent, true), nil
	}
	if !orders.Orderable(intent.State) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no successful payment recorded for reference").
			WithDetails(map[string]any{"paymentReference": reference, "state": intent.State})
	}
	frozen, err := orders.FrozenInput(intent)
	if err != nil {
		return nil, err
	}
	if err := orders.ChargedFor(frozen, input); err != nil {
		s.observe(outcomeMismatch, started)
		if s.logg != nil {
			s.logg.Warn(ctx, "reconciler.order_request_mismatch")
		}
		return nil, err
	}

	channel, err := s.channel(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.createOrder(ctx, intent, channel, started)
}

// Cancel marks an in-flight reference as cancelled by the customer. Cancelling
// twice is a no-op; a captured payment cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, reference, source string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	ctx = s.withReference(ctx, reference)

	intent, err := s.payments.FindIntent(ctx, reference)
	if err != nil {
		return nil, err
	}
	if intent.State == enums.ReconcilePaymentCancelled {
		return resultFor(intent, false), nil
	}
	if !intent.State.CanTransitionTo(enums.ReconcilePaymentCancelled) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment can no longer be cancelled").
			WithDetails(map[string]any{"paymentReference": reference, "state": intent.State})
	}

	if source == "" {
		source = SourceClientCallback
	}
	stored, _, err := s.payments.RecordEvent(ctx, &models.PaymentEvent{
		Reference:   reference,
		Outcome:     enums.PaymentOutcomeCancelled,
		AmountMinor: 0,
		Currency:    intent.SettlementCurrency,
		Source:      source,
		OccurredAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if stored.Outcome == enums.PaymentOutcomeSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already succeeded").
			WithDetails(map[string]any{"paymentReference": reference})
	}

	changed, err := s.payments.TransitionIntent(ctx, reference,
		[]enums.ReconcileState{enums.ReconcilePaymentInFlight}, enums.ReconcilePaymentCancelled, payments.IntentUpdate{})
	if err != nil {
		return nil, err
	}
	intent, err = s.payments.FindIntent(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !changed && intent.State != enums.ReconcilePaymentCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment can no longer be cancelled").
			WithDetails(map[string]any{"paymentReference": reference, "state": intent.State})
	}
	if s.logg != nil {
		s.logg.Info(ctx, "reconciler.payment_cancelled")
	}
	return resultFor(intent, false), nil
}

// Status reports the reconcile state of reference.
func (s *Service) Status(ctx context.Context, reference string) (*Result, error) {
	intent, err := s.payments.FindIntent(ctx, strings.TrimSpace(reference))
	if err != nil {
		return nil, err
	}
	return resultFor(intent, intent.State == enums.ReconcileOrderCreated), nil
}

func (s *Service) createOrder(ctx context.Context, intent *models.PaymentIntent, channel string, started time.Time) (*Result, error) {
	release, err := s.acquire(ctx, intent.Reference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.observe(outcomeConflict, started)
		}
		return nil, err
	}
	defer release()

	if _, err := s.payments.TransitionIntent(ctx, intent.Reference,
		[]enums.ReconcileState{
			enums.ReconcilePaymentSucceeded,
			enums.ReconcileOrderCreationFailedAfterPayment,
			enums.ReconcileOrderCreationPending,
		},
		enums.ReconcileOrderCreationPending, payments.IntentUpdate{}); err != nil {
		return nil, err
	}

	input, err := orders.FrozenInput(intent)
	if err != nil {
		return nil, s.fail(ctx, intent, err, started)
	}
	input.PaymentMethod = enums.PaymentMethodFromChannel(channel)

	created, err := s.orders.Create(ctx, input)
	if err != nil {
		return nil, s.fail(ctx, intent, err, started)
	}

	orderID := created.OrderID
	if _, err := s.payments.TransitionIntent(ctx, intent.Reference,
		[]enums.ReconcileState{enums.ReconcileOrderCreationPending, enums.ReconcileOrderCreationFailedAfterPayment},
		enums.ReconcileOrderCreated, payments.IntentUpdate{OrderID: &orderID, ClearErr: true}); err != nil {
		return nil, err
	}

	outcome := outcomeCreated
	if created.Existing {
		outcome = outcomeExisting
	}
	s.observe(outcome, started)
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "order_id", orderID.String()), "reconciler.order_created")
	}
	return &Result{
		Reference: intent.Reference,
		State:     enums.ReconcileOrderCreated,
		OrderID:   &orderID,
		Email:     created.Email,
		Existing:  created.Existing,
	}, nil
}

// channel is the gateway channel the captured charge was paid through.
func (s *Service) channel(ctx context.Context, reference string) (string, error) {
	event, err := s.payments.FindEvent(ctx, reference)
	if err != nil {
		return "", err
	}
	if event.Channel == nil {
		return "", nil
	}
	return *event.Channel, nil
}

func (s *Service) fail(ctx context.Context, intent *models.PaymentIntent, cause error, started time.Time) error {
	msg := truncate(cause.Error())
	if _, err := s.payments.TransitionIntent(ctx, intent.Reference,
		[]enums.ReconcileState{enums.ReconcileOrderCreationPending},
		enums.ReconcileOrderCreationFailedAfterPayment, payments.IntentUpdate{LastError: &msg}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "reconciler.mark_failed", err)
	}
	s.emit(ctx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreationFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   intent.ID,
		Actor:         &outbox.ActorRef{Source: "reconciler", SessionID: intent.SessionID},
		Data: payloads.OrderCreationFailedEvent{
			PaymentIntentID:  intent.ID,
			PaymentReference: intent.Reference,
			Email:            intent.Email,
			Reason:           msg,
		},
	})
	s.observe(outcomeFailed, started)
	if s.logg != nil {
		s.logg.Error(ctx, "reconciler.order_creation_failed", cause)
	}
	failed := *intent
	failed.State = enums.ReconcileOrderCreationFailedAfterPayment
	return pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailed, cause, "order creation failed after payment").
		WithDetails(failureDetails(&failed))
}

// acquire takes the per-reference in-flight lock. The returned func releases it
// only while this caller still owns it.
func (s *Service) acquire(ctx context.Context, reference string) (func(), error) {
	key := s.locker.LockKey(lockScope, reference)
	owner := uuid.NewString()
	ok, err := s.locker.SetNX(ctx, key, owner, s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire order lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order creation already in progress")
	}
	return func() {
		releaseCtx := context.WithoutCancel(ctx)
		current, err := s.locker.Get(releaseCtx, key)
		if err != nil {
			if !errors.Is(err, redis.Nil) && s.logg != nil {
				s.logg.Error(ctx, "reconciler.lock_read_failed", err)
			}
			return
		}
		if current != owner {
			return
		}
		if err := s.locker.Del(releaseCtx, key); err != nil && s.logg != nil {
			s.logg.Error(ctx, "reconciler.lock_release_failed", err)
		}
	}, nil
}

func (s *Service) checkAmount(intent *models.PaymentIntent, event PaymentEvent) error {
	currencyOK := strings.EqualFold(strings.TrimSpace(event.Currency), intent.SettlementCurrency.String())
	if event.AmountMinor == intent.AmountMinor && currencyOK {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodePaymentAmount, "charged amount does not match the checkout total").
		WithDetails(map[string]any{
			"paymentReference": intent.Reference,
			"expectedMinor":    intent.AmountMinor,
			"receivedMinor":    event.AmountMinor,
			"expectedCurrency": intent.SettlementCurrency,
			"receivedCurrency": event.Currency,
		})
}

func (s *Service) eventModel(event PaymentEvent) *models.PaymentEvent {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	currency, err := enums.ParseCurrency(event.Currency)
	if err != nil {
		currency = enums.SettlementCurrency
	}
	row := &models.PaymentEvent{
		Reference:   event.Reference,
		Outcome:     event.Outcome,
		AmountMinor: event.AmountMinor,
		Currency:    currency,
		Source:      event.Source,
		Payload:     event.Payload,
		OccurredAt:  occurred.UTC(),
	}
	if row.Source == "" {
		row.Source = SourceClientCallback
	}
	if channel := strings.TrimSpace(event.Channel); channel != "" {
		row.Channel = &channel
	}
	return row
}

func (s *Service) emit(ctx context.Context, event outbox.DomainEvent) {
	s.queue(ctx, event, s.outbox.Emit)
}

func (s *Service) emitOnce(ctx context.Context, event outbox.DomainEvent) {
	s.queue(ctx, event, s.outbox.EmitIfNotExists)
}

// queue writes the event in its own transaction. Failures are logged only:
// the payment state is already committed.
func (s *Service) queue(ctx context.Context, event outbox.DomainEvent, write func(context.Context, *gorm.DB, outbox.DomainEvent) error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return write(ctx, tx, event)
	})
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, fmt.Sprintf("reconciler.emit_%s_failed", event.EventType), err)
	}
}

func (s *Service) observe(outcome string, started time.Time) {
	s.metrics.ObserveReconciliation(outcome, s.now().Sub(started))
}

func (s *Service) withReference(ctx context.Context, reference string) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithPaymentReference(ctx, reference)
}

func resultFor(intent *models.PaymentIntent, existing bool) *Result {
	return &Result{
		Reference: intent.Reference,
		State:     intent.State,
		OrderID:   intent.OrderID,
		Email:     intent.Email,
		Existing:  existing,
	}
}

func failedError(intent *models.PaymentIntent) error {
	return pkgerrors.New(pkgerrors.CodeOrderCreationFailed, "order creation failed after payment").
		WithDetails(failureDetails(intent))
}

func failureDetails(intent *models.PaymentIntent) map[string]any {
	return map[string]any{
		"paymentReference": intent.Reference,
		"state":            intent.State,
		"retryable":        true,
	}
}

// truncate cuts msg to at most maxErrorMessage bytes without splitting a rune.
func truncate(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
