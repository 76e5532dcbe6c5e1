package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, validAggregateTypes)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated              OutboxEventType = "order_created"
	EventOrderCreationFailed       OutboxEventType = "order_creation_failed"
	EventPaymentAmountMismatch     OutboxEventType = "payment_amount_mismatch"
	EventApproximateSettlementUsed OutboxEventType = "approximate_settlement_used"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderCreationFailed,
	EventPaymentAmountMismatch,
	EventApproximateSettlementUsed,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, validOutboxEventTypes)
}

// DeadLetterReason records why an outbox row was moved to outbox_dlq.
type DeadLetterReason string

const (
	DeadLetterMaxAttempts DeadLetterReason = "max_attempts"
	DeadLetterUnroutable  DeadLetterReason = "non_retryable"
)

func (r DeadLetterReason) IsValid() bool {
	return r == DeadLetterMaxAttempts || r == DeadLetterUnroutable
}
