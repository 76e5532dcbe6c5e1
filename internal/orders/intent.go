package orders

import (
	"encoding/json"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// orderableStates are the intent states in which a captured charge may still
// become an order.
var orderableStates = []enums.ReconcileState{
	enums.ReconcilePaymentSucceeded,
	enums.ReconcileOrderCreationPending,
	enums.ReconcileOrderCreationFailedAfterPayment,
}

// Orderable reports whether an intent in state may produce an order.
func Orderable(state enums.ReconcileState) bool {
	return slices.Contains(orderableStates, state)
}

// FrozenInput rebuilds the order input checkout froze when the reference was
// issued. The naira total and approximate flag come from the intent itself.
func FrozenInput(intent *models.PaymentIntent) (CreateOrderInput, error) {
	var input CreateOrderInput
	if err := json.Unmarshal(intent.Draft, &input); err != nil {
		return CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode order draft")
	}
	input.PaymentReference = intent.Reference
	input.TotalInNaira = intent.SettlementTotal
	input.Approximate = intent.Approximate
	return input, nil
}

// ChargedFor rejects a request whose amounts or lines differ from what the
// reference was charged for.
func ChargedFor(frozen, requested CreateOrderInput) error {
	field := chargeDifference(frozen, requested)
	if field == "" {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodePaymentAmount, "order does not match the paid checkout").
		WithDetails(map[string]any{"paymentReference": frozen.PaymentReference, "field": field})
}

func chargeDifference(frozen, requested CreateOrderInput) string {
	if frozen.Currency != requested.Currency {
		return "currency"
	}
	amounts := []struct {
		field     string
		want, got decimal.Decimal
	}{
		{"itemsSubtotal", frozen.ItemsSubtotal, requested.ItemsSubtotal},
		{"sizeModTotal", frozen.SizeModTotal, requested.SizeModTotal},
		{"deliveryFee", frozen.DeliveryFee, requested.DeliveryFee},
		{"total", frozen.Total, requested.Total},
		{"totalInNaira", frozen.TotalInNaira, requested.TotalInNaira},
	}
	for _, amount := range amounts {
		if !amount.want.Equal(amount.got) {
			return amount.field
		}
	}
	if len(frozen.Items) != len(requested.Items) {
		return "items"
	}
	for i, item := range frozen.Items {
		other := requested.Items[i]
		if item.ProductID != other.ProductID || item.Quantity != other.Quantity || !item.LineTotal.Equal(other.LineTotal) {
			return "items"
		}
	}
	return ""
}
