package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/internal/settlement"
	"github.com/angelmondragon/storefront-checkout/internal/shipping"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/paystack"
)

const (
	quoteOutcomeStale = "stale"

	// NotPayableNotice explains why payment is disabled.
	NotPayableNotice = "select a delivery option to continue to payment"
	// UnconvertedFeeNotice flags a total that includes a fee in another currency.
	UnconvertedFeeNotice = "delivery fee could not be converted; total is approximate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// RateTables returns the current FX snapshot quoted against base.
type RateTables interface {
	Table(ctx context.Context, base enums.Currency) (*fx.Table, error)
}

// Gateway verifies charges with the payment provider.
type Gateway interface {
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
	PublicKey() string
}

// Reconciler turns confirmed payments into orders.
type Reconciler interface {
	HandlePaymentSuccess(ctx context.Context, event reconciler.PaymentEvent) (*reconciler.Result, error)
	Cancel(ctx context.Context, reference, source string) (*reconciler.Result, error)
	Status(ctx context.Context, reference string) (*reconciler.Result, error)
}

// Summary is the priced view of a session.
type Summary struct {
	SessionID      string              `json:"sessionId"`
	Breakdown      *pricing.Breakdown  `json:"breakdown"`
	Delivery       *shipping.Selection `json:"delivery,omitempty"`
	DeliveryFee    money.Money         `json:"deliveryFee"`
	OrderTotal     money.Money         `json:"orderTotal"`
	FeeUnconverted bool                `json:"feeUnconverted"`
	FXDegraded     bool                `json:"fxDegraded"`
	PaymentReady   bool                `json:"paymentReady"`
	Notice         string              `json:"notice,omitempty"`
}

// PaymentIntent is what the storefront needs to open the gateway popup.
type PaymentIntent struct {
	Reference       string         `json:"reference"`
	Email           string         `json:"email"`
	AmountMinor     int64          `json:"amountMinor"`
	Currency        enums.Currency `json:"currency"`
	SettlementTotal money.Money    `json:"settlementTotal"`
	DisplayTotal    money.Money    `json:"displayTotal"`
	Approximate     bool           `json:"approximate"`
	PublicKey       string         `json:"publicKey,omitempty"`
	Reused          bool           `json:"reused"`
}

// Service is the checkout workflow from cart to acknowledged order.
type Service interface {
	Create(ctx context.Context, currency enums.Currency) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Subscribe(ctx context.Context, id string) (<-chan *Session, func() error, error)
	SetCart(ctx context.Context, id string, lines []pricing.Line) (*Session, error)
	SetCurrency(ctx context.Context, id string, currency enums.Currency) (*Session, error)
	Price(ctx context.Context, id string) (*Summary, error)
	RequestRates(ctx context.Context, id string, destination shipping.Destination) (*shipping.Batch, error)
	SelectRate(ctx context.Context, id, quoteID string) (*shipping.Selection, error)
	CreatePaymentIntent(ctx context.Context, id, email string) (*PaymentIntent, error)
	ConfirmPayment(ctx context.Context, id, reference string) (*reconciler.Result, error)
	CancelPayment(ctx context.Context, id, reference string) (*reconciler.Result, error)
	Acknowledge(ctx context.Context, id string) (*Session, error)
}

type ServiceParams struct {
	Store       Store
	Deriver     *pricing.Deriver
	Quoter      *shipping.Quoter
	Generations *shipping.GenerationGuard
	Rates       RateTables
	Converter   *settlement.Converter
	Payments    *payments.Repository
	Tx          txRunner
	Outbox      outboxPublisher
	Reconciler  Reconciler
	Gateway     Gateway
	FXMaxAge    time.Duration
	Metrics     *metrics.CheckoutMetrics
	Logger      *logger.Logger
	Now         func() time.Time
}

type service struct {
	store       Store
	deriver     *pricing.Deriver
	quoter      *shipping.Quoter
	generations *shipping.GenerationGuard
	rates       RateTables
	converter   *settlement.Converter
	payments    *payments.Repository
	tx          txRunner
	outbox      outboxPublisher
	reconciler  Reconciler
	gateway     Gateway
	fxMaxAge    time.Duration
	metrics     *metrics.CheckoutMetrics
	logg        *logger.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService wires the checkout workflow.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Store == nil:
		return nil, errors.New("session store required")
	case params.Deriver == nil:
		return nil, errors.New("price deriver required")
	case params.Quoter == nil:
		return nil, errors.New("rate quoter required")
	case params.Generations == nil:
		return nil, errors.New("quote generation guard required")
	case params.Rates == nil:
		return nil, errors.New("fx rate source required")
	case params.Converter == nil:
		return nil, errors.New("settlement converter required")
	case params.Payments == nil:
		return nil, errors.New("payments repository required")
	case params.Tx == nil:
		return nil, errors.New("tx runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case params.Reconciler == nil:
		return nil, errors.New("reconciler required")
	case params.Gateway == nil:
		return nil, errors.New("payment gateway required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		store:       params.Store,
		deriver:     params.Deriver,
		quoter:      params.Quoter,
		generations: params.Generations,
		rates:       params.Rates,
		converter:   params.Converter,
		payments:    params.Payments,
		tx:          params.Tx,
		outbox:      params.Outbox,
		reconciler:  params.Reconciler,
		gateway:     params.Gateway,
		fxMaxAge:    params.FXMaxAge,
		metrics:     params.Metrics,
		logg:        params.Logger,
		validate:    validator.New(),
		now:         now,
	}, nil
}

func (s *service) Create(ctx context.Context, currency enums.Currency) (*Session, error) {
	if currency == "" {
		currency = enums.SettlementCurrency
	}
	if !currency.IsValid() {
		return nil, unsupportedCurrency(currency)
	}
	now := s.now().UTC()
	session := &Session{
		ID:              uuid.NewString(),
		DisplayCurrency: currency,
		Lines:           []pricing.Line{},
		CreatedAt:       now,
	}
	ctx = s.withSession(ctx, session.ID)
	s.attachFX(ctx, session)
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session with its payment state refreshed from the reconciler,
// so webhook-driven progress shows up without a client call.
func (s *service) Get(ctx context.Context, id string) (*Session, error) {
	ctx = s.withSession(ctx, id)
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := s.refreshPayment(ctx, session)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.save(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (s *service) Subscribe(ctx context.Context, id string) (<-chan *Session, func() error, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, nil, err
	}
	return s.store.Subscribe(ctx, id)
}

// SetCart replaces the cart lines. Quotes and any selection are dropped because
// they were priced for the previous package.
func (s *service) SetCart(ctx context.Context, id string, lines []pricing.Line) (*Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if session.paymentLocked() {
		return nil, paymentLockedError(session)
	}
	if lines == nil {
		lines = []pricing.Line{}
	}
	if _, err := s.deriver.Derive(ctx, lines, session.DisplayCurrency); err != nil {
		return nil, err
	}
	session.Lines = lines
	session.clearDelivery()
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SetCurrency switches the display currency and takes a fresh FX snapshot for
// it. A delivery selection keeps the fee and currency it was priced in.
func (s *service) SetCurrency(ctx context.Context, id string, currency enums.Currency) (*Session, error) {
	if !currency.IsValid() {
		return nil, unsupportedCurrency(currency)
	}
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if session.paymentLocked() {
		return nil, paymentLockedError(session)
	}
	session.DisplayCurrency = currency
	s.attachFX(ctx, session)
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *service) Price(ctx context.Context, id string) (*Summary, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if err := s.refreshStaleFX(ctx, session); err != nil {
		return nil, err
	}
	return s.summarize(ctx, session)
}

func (s *service) summarize(ctx context.Context, session *Session) (*Summary, error) {
	breakdown, err := s.deriver.Derive(ctx, session.Lines, session.DisplayCurrency)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		SessionID:   session.ID,
		Breakdown:   breakdown,
		Delivery:    session.Selection,
		DeliveryFee: money.Zero(session.DisplayCurrency),
		OrderTotal:  breakdown.BaseTotal,
		FXDegraded:  session.FXDegraded,
	}
	switch {
	case len(breakdown.Lines) == 0:
		summary.Notice = "cart is empty"
	case session.Selection == nil:
		if session.Quotes != nil && len(session.Quotes.Quotes) == 0 {
			summary.Notice = shipping.NoOptionsNotice
		} else {
			summary.Notice = NotPayableNotice
		}
	case session.Selection.DisplayCurrency != session.DisplayCurrency:
		summary.Notice = "display currency changed; request delivery rates again"
	default:
		fee := session.Selection.DisplayFee
		counted := fee
		if fee.Currency != session.DisplayCurrency {
			// no rate for the courier's currency; the fee is counted at face value
			counted = money.New(session.DisplayCurrency, fee.Amount)
			summary.FeeUnconverted = true
			summary.FXDegraded = true
			summary.Notice = UnconvertedFeeNotice
		}
		total, err := breakdown.BaseTotal.Add(counted)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add delivery fee")
		}
		summary.DeliveryFee = fee
		summary.OrderTotal = total.Round2()
		summary.PaymentReady = true
	}
	return summary, nil
}

// RequestRates asks the courier for quotes. A response that is overtaken by a
// later request for the same session is discarded.
func (s *service) RequestRates(ctx context.Context, id string, destination shipping.Destination) (*shipping.Batch, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if session.paymentLocked() {
		return nil, paymentLockedError(session)
	}
	dest, err := s.quoter.ValidateDestination(destination)
	if err != nil {
		return nil, err
	}
	if err := s.refreshStaleFX(ctx, session); err != nil {
		return nil, err
	}
	breakdown, err := s.deriver.Derive(ctx, session.Lines, session.DisplayCurrency)
	if err != nil {
		return nil, err
	}
	generation, err := s.generations.Next(ctx, id)
	if err != nil {
		return nil, err
	}

	batch, err := s.quoter.RequestQuotes(ctx, shipping.QuoteRequest{
		Destination:     dest,
		Breakdown:       breakdown,
		DisplayCurrency: session.DisplayCurrency,
		FX:              session.FX,
		Generation:      generation,
	})
	if err != nil {
		return nil, err
	}
	if err := s.generations.EnsureLatest(ctx, id, generation); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.metrics.IncQuoteOutcome(quoteOutcomeStale)
			if s.logg != nil {
				s.logg.Info(s.logg.WithField(ctx, "generation", generation), "checkout.stale_rates_discarded")
			}
		}
		return nil, err
	}

	// reload so a concurrent cart or currency change is not overwritten
	session, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Destination = &dest
	session.Quotes = batch
	session.Selection = nil
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *service) SelectRate(ctx context.Context, id, quoteID string) (*shipping.Selection, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if session.paymentLocked() {
		return nil, paymentLockedError(session)
	}
	if session.Quotes != nil && session.Quotes.DisplayCurrency != session.DisplayCurrency {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "display currency changed; request delivery rates again")
	}
	selection, err := shipping.Select(session.Quotes, strings.TrimSpace(quoteID), s.now())
	if err != nil {
		return nil, err
	}
	session.Selection = selection
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return selection, nil
}

func (s *service) Acknowledge(ctx context.Context, id string) (*Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = s.withSession(ctx, id)
	if session.Payment == nil || session.Payment.State != enums.ReconcileOrderCreated || session.Payment.OrderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no created order to acknowledge")
	}
	session.LastOrder = &OrderRef{
		OrderID:          *session.Payment.OrderID,
		PaymentReference: session.Payment.Reference,
		Email:            session.Payment.Email,
		Acknowledged:     true,
	}
	session.Lines = []pricing.Line{}
	session.Payment = nil
	session.clearDelivery()
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(ctx, "checkout.order_acknowledged")
	}
	return session, nil
}

// attachFX records the snapshot for the session's display currency. Failure
// leaves the session without conversion.
func (s *service) attachFX(ctx context.Context, session *Session) {
	table, err := s.rates.Table(ctx, session.DisplayCurrency)
	if err != nil {
		session.FX = nil
		session.FXDegraded = true
		s.metrics.IncFXDegraded("session")
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.fx_unavailable")
		}
		return
	}
	session.FX = table
	session.FXDegraded = false
}

// refreshStaleFX refetches the session's snapshot once it is older than the
// configured max age. A session with a charge underway keeps its snapshot.
func (s *service) refreshStaleFX(ctx context.Context, session *Session) error {
	if session.FX == nil || session.paymentLocked() || !session.FX.Stale(s.now(), s.fxMaxAge) {
		return nil
	}
	previous := session.FX.ID
	s.attachFX(ctx, session)
	if s.logg != nil {
		fields := map[string]any{"previous_snapshot": previous}
		if session.FX != nil {
			fields["snapshot"] = session.FX.ID
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "checkout.fx_refreshed")
	}
	return s.save(ctx, session)
}

// refreshPayment pulls the reconcile state of the session's reference.
func (s *service) refreshPayment(ctx context.Context, session *Session) (bool, error) {
	if session.Payment == nil || session.Payment.State == enums.ReconcileOrderCreated {
		return false, nil
	}
	status, err := s.reconciler.Status(ctx, session.Payment.Reference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	if status.State == session.Payment.State {
		return false, nil
	}
	applyResult(session, status)
	return true, nil
}

func (s *service) save(ctx context.Context, session *Session) error {
	session.UpdatedAt = s.now().UTC()
	return s.store.Set(ctx, session)
}

func (s *service) withSession(ctx context.Context, id string) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithSessionID(ctx, id)
}

func applyResult(session *Session, result *reconciler.Result) {
	if session.Payment == nil || result == nil {
		return
	}
	session.Payment.State = result.State
	if result.OrderID != nil {
		id := *result.OrderID
		session.Payment.OrderID = &id
	}
}

func paymentLockedError(session *Session) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout is locked by the current payment").
		WithDetails(map[string]any{
			"paymentReference": session.Payment.Reference,
			"state":            session.Payment.State,
		})
}

func unsupportedCurrency(currency enums.Currency) error {
	return pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported currency %q", currency)
}
