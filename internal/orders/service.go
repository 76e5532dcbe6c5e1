package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PaymentLedger answers what checkout froze for a reference and whether the
// gateway confirmed the charge.
type PaymentLedger interface {
	FindIntent(ctx context.Context, reference string) (*models.PaymentIntent, error)
	HasSuccessfulEvent(ctx context.Context, reference string) (bool, error)
}

// Service is the idempotent order persistence API.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*CreatedOrder, error)
	FindByPaymentReference(ctx context.Context, reference string) (*OrderDetail, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	payments PaymentLedger
	logg     *logger.Logger
	validate *validator.Validate
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, payments PaymentLedger, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   outbox,
		payments: payments,
		logg:     logg,
		validate: validator.New(),
	}, nil
}

// Create persists the order for input.PaymentReference exactly once. Repeated
// calls return the existing order with Existing set; they never fail because the
// order already exists. The order is built from the draft frozen on the payment
// intent, and input must agree with it on every amount.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*CreatedOrder, error) {
	input.PaymentReference = strings.TrimSpace(input.PaymentReference)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	if existing, err := s.existing(ctx, input.PaymentReference); err != nil || existing != nil {
		return existing, err
	}

	frozen, err := s.paidInput(ctx, input)
	if err != nil {
		return nil, err
	}
	order, err := toModel(frozen)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Source: "orders"},
			Data: payloads.OrderCreatedEvent{
				OrderID:          order.ID,
				PaymentReference: order.PaymentReference,
				Email:            order.Email,
				CustomerName:     order.CustomerName,
				Currency:         order.Currency,
				Total:            order.Total,
				TotalInNaira:     order.TotalInNaira,
				Approximate:      order.Approximate,
				ItemCount:        len(order.LineItems),
			},
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// lost the race to a concurrent create for the same reference
			winner, findErr := s.existing(ctx, input.PaymentReference)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}

	if s.logg != nil {
		logCtx := s.logg.WithPaymentReference(ctx, order.PaymentReference)
		logCtx = s.logg.WithField(logCtx, "order_id", order.ID.String())
		s.logg.Info(logCtx, "orders.created")
	}
	return &CreatedOrder{
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		Email:            order.Email,
	}, nil
}

// paidInput returns the frozen draft for a captured reference.
func (s *service) paidInput(ctx context.Context, input CreateOrderInput) (CreateOrderInput, error) {
	reference := input.PaymentReference
	intent, err := s.payments.FindIntent(ctx, reference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return CreateOrderInput{}, unpaid(reference, "")
		}
		return CreateOrderInput{}, err
	}
	if !Orderable(intent.State) {
		return CreateOrderInput{}, unpaid(reference, intent.State)
	}
	paid, err := s.payments.HasSuccessfulEvent(ctx, reference)
	if err != nil {
		return CreateOrderInput{}, err
	}
	if !paid {
		return CreateOrderInput{}, unpaid(reference, intent.State)
	}

	frozen, err := FrozenInput(intent)
	if err != nil {
		return CreateOrderInput{}, err
	}
	if err := ChargedFor(frozen, input); err != nil {
		return CreateOrderInput{}, err
	}
	frozen.PaymentMethod = input.PaymentMethod
	return frozen, nil
}

func unpaid(reference string, state enums.ReconcileState) error {
	details := map[string]any{"paymentReference": reference}
	if state != "" {
		details["state"] = state
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "no successful payment recorded for reference").
		WithDetails(details)
}

func (s *service) existing(ctx context.Context, reference string) (*CreatedOrder, error) {
	order, err := s.repo.FindByPaymentReference(ctx, reference)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return &CreatedOrder{
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
		Email:            order.Email,
		Existing:         true,
	}, nil
}

func (s *service) FindByPaymentReference(ctx context.Context, reference string) (*OrderDetail, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	order, err := s.repo.FindByPaymentReference(ctx, reference)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return toDetail(*order)
}

func (s *service) validateInput(input CreateOrderInput) error {
	if err := s.validate.Struct(input); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order")
	}
	if !input.Currency.IsValid() {
		return pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported currency %q", input.Currency)
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported payment method %q", input.PaymentMethod)
	}
	return nil
}

func toModel(input CreateOrderInput) (*models.Order, error) {
	shippingJSON, err := json.Marshal(input.Shipping)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode shipping")
	}
	order := &models.Order{
		ID:               uuid.New(),
		PaymentReference: input.PaymentReference,
		Email:            strings.TrimSpace(input.Customer.Email),
		CustomerName:     strings.TrimSpace(input.Customer.Name),
		Phone:            strings.TrimSpace(input.Customer.Phone),
		PaymentMethod:    input.PaymentMethod,
		Currency:         input.Currency,
		ItemsSubtotal:    input.ItemsSubtotal,
		SizeModTotal:     input.SizeModTotal,
		DeliveryFee:      input.DeliveryFee,
		Total:            input.Total,
		TotalInNaira:     input.TotalInNaira,
		Approximate:      input.Approximate,
		Shipping:         shippingJSON,
		LineItems:        make([]models.OrderLineItem, 0, len(input.Items)),
	}
	for _, item := range input.Items {
		var measurements json.RawMessage
		if len(item.CustomMeasurements) > 0 {
			raw, err := json.Marshal(item.CustomMeasurements)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode measurements")
			}
			measurements = raw
		}
		source := item.PriceSource
		if source == "" {
			source = enums.PriceSourceCatalog
		}
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			ProductID:          item.ProductID,
			Name:               item.Name,
			Color:              orDefault(item.Color),
			Size:               orDefault(item.Size),
			Quantity:           item.Quantity,
			UnitPrice:          item.UnitPrice,
			SizeModSurcharge:   item.SizeModSurcharge,
			LineTotal:          item.LineTotal,
			PriceSource:        source,
			CustomMeasurements: measurements,
		})
	}
	return order, nil
}

func toDetail(order models.Order) (*OrderDetail, error) {
	detail := &OrderDetail{
		ID:               order.ID,
		PaymentReference: order.PaymentReference,
		Customer:         Customer{Name: order.CustomerName, Email: order.Email, Phone: order.Phone},
		PaymentMethod:    order.PaymentMethod,
		Currency:         order.Currency,
		ItemsSubtotal:    order.ItemsSubtotal,
		SizeModTotal:     order.SizeModTotal,
		DeliveryFee:      order.DeliveryFee,
		Total:            order.Total,
		TotalInNaira:     order.TotalInNaira,
		Approximate:      order.Approximate,
		Items:            make([]LineItem, 0, len(order.LineItems)),
		CreatedAt:        order.CreatedAt,
	}
	if len(order.Shipping) > 0 {
		if err := json.Unmarshal(order.Shipping, &detail.Shipping); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode shipping")
		}
	}
	for _, item := range order.LineItems {
		line := LineItem{
			ProductID:        item.ProductID,
			Name:             item.Name,
			Color:            item.Color,
			Size:             item.Size,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			SizeModSurcharge: item.SizeModSurcharge,
			LineTotal:        item.LineTotal,
			PriceSource:      item.PriceSource,
		}
		if len(item.CustomMeasurements) > 0 {
			if err := json.Unmarshal(item.CustomMeasurements, &line.CustomMeasurements); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode measurements")
			}
		}
		detail.Items = append(detail.Items, line)
	}
	return detail, nil
}

func orDefault(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return pricing.NotApplicable
}
