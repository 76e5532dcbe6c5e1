package enums

import "slices"

// ReconcileState tracks a payment reference from charge to persisted order.
type ReconcileState string

const (
	ReconcileNoPayment                       ReconcileState = "no_payment"
	ReconcilePaymentInFlight                 ReconcileState = "payment_in_flight"
	ReconcilePaymentCancelled                ReconcileState = "payment_cancelled"
	ReconcilePaymentSucceeded                ReconcileState = "payment_succeeded"
	ReconcileOrderCreationPending            ReconcileState = "order_creation_pending"
	ReconcileOrderCreated                    ReconcileState = "order_created"
	ReconcileOrderCreationFailedAfterPayment ReconcileState = "order_creation_failed_after_payment"
)

var validReconcileStates = []ReconcileState{
	ReconcileNoPayment,
	ReconcilePaymentInFlight,
	ReconcilePaymentCancelled,
	ReconcilePaymentSucceeded,
	ReconcileOrderCreationPending,
	ReconcileOrderCreated,
	ReconcileOrderCreationFailedAfterPayment,
}

// A cancelled reference may still report success: the customer can close the
// payment popup after the charge went through, and captured money always wins.
var reconcileTransitions = map[ReconcileState][]ReconcileState{
	ReconcileNoPayment:                       {ReconcilePaymentInFlight},
	ReconcilePaymentCancelled:                {ReconcilePaymentInFlight, ReconcilePaymentSucceeded},
	ReconcilePaymentInFlight:                 {ReconcilePaymentCancelled, ReconcilePaymentSucceeded},
	ReconcilePaymentSucceeded:                {ReconcileOrderCreationPending},
	ReconcileOrderCreationPending:            {ReconcileOrderCreated, ReconcileOrderCreationFailedAfterPayment},
	ReconcileOrderCreationFailedAfterPayment: {ReconcileOrderCreationPending},
}

// String implements fmt.Stringer.
func (s ReconcileState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconcileState.
func (s ReconcileState) IsValid() bool {
	return slices.Contains(validReconcileStates, s)
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ReconcileState) CanTransitionTo(next ReconcileState) bool {
	return slices.Contains(reconcileTransitions[s], next)
}

// IsTerminal reports whether no further transitions exist for the reference.
func (s ReconcileState) IsTerminal() bool {
	return len(reconcileTransitions[s]) == 0
}

// PaymentCaptured reports whether money has been taken for the reference.
func (s ReconcileState) PaymentCaptured() bool {
	switch s {
	case ReconcilePaymentSucceeded, ReconcileOrderCreationPending, ReconcileOrderCreated, ReconcileOrderCreationFailedAfterPayment:
		return true
	}
	return false
}

// ParseReconcileState converts raw input into a ReconcileState.
func ParseReconcileState(value string) (ReconcileState, error) {
	return parse("reconcile state", value, validReconcileStates)
}
