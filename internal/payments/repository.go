package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// Repository persists payment intents and gateway outcomes.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// CreateIntent inserts a new intent. A duplicate reference is a CONFLICT.
func (r *Repository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil || strings.TrimSpace(intent.Reference) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment reference already used")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment intent")
	}
	return nil
}

// FindIntent loads the intent frozen for reference.
func (r *Repository) FindIntent(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&intent).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found").
				WithDetails(map[string]any{"reference": reference})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	return &intent, nil
}

// LatestIntentForSession returns the most recent intent created by a session,
// or nil when the session never started a payment.
func (r *Repository) LatestIntentForSession(ctx context.Context, sessionID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&intent).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load session payment intent")
	}
	return &intent, nil
}

// IntentUpdate holds optional columns written alongside a state change.
type IntentUpdate struct {
	OrderID   *uuid.UUID
	LastError *string
	ClearErr  bool
}

// TransitionIntent moves reference to next only when its current state is one of
// from. It reports whether a row changed; false means another writer got there
// first or the intent was in a different state.
func (r *Repository) TransitionIntent(ctx context.Context, reference string, from []enums.ReconcileState, next enums.ReconcileState, update IntentUpdate) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("at least one source state is required")
	}
	values := map[string]any{"state": next}
	if update.OrderID != nil {
		values["order_id"] = *update.OrderID
	}
	if update.LastError != nil {
		values["last_error"] = *update.LastError
	} else if update.ClearErr {
		values["last_error"] = nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("reference = ? AND state IN ?", reference, from).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update payment intent state")
	}
	return res.RowsAffected > 0, nil
}

// RecordEvent stores the outcome reported for a reference and returns the row
// now on record. The first report wins, except that a success always replaces an
// earlier cancellation or failure: captured money is never ignored. recorded is
// false when the call changed nothing.
func (r *Repository) RecordEvent(ctx context.Context, event *models.PaymentEvent) (stored *models.PaymentEvent, recorded bool, err error) {
	if event == nil || strings.TrimSpace(event.Reference) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if !event.Outcome.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment outcome")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "reference"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "record payment event")
	}
	if res.RowsAffected > 0 {
		return event, true, nil
	}

	if event.Outcome == enums.PaymentOutcomeSuccess {
		upgrade := r.db.WithContext(ctx).
			Model(&models.PaymentEvent{}).
			Where("reference = ? AND outcome <> ?", event.Reference, enums.PaymentOutcomeSuccess).
			Updates(map[string]any{
				"outcome":      event.Outcome,
				"amount_minor": event.AmountMinor,
				"currency":     event.Currency,
				"channel":      event.Channel,
				"source":       event.Source,
				"payload":      event.Payload,
				"occurred_at":  event.OccurredAt,
			})
		if upgrade.Error != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, upgrade.Error, "upgrade payment event")
		}
		recorded = upgrade.RowsAffected > 0
	}
	existing, err := r.FindEvent(ctx, event.Reference)
	if err != nil {
		return nil, false, err
	}
	return existing, recorded, nil
}

// FindEvent loads the recorded outcome for reference.
func (r *Repository) FindEvent(ctx context.Context, reference string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&event).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment event not found").
				WithDetails(map[string]any{"reference": reference})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment event")
	}
	return &event, nil
}

// HasSuccessfulEvent reports whether the gateway confirmed a charge for reference.
func (r *Repository) HasSuccessfulEvent(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("reference = ? AND outcome = ?", reference, enums.PaymentOutcomeSuccess).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check payment event")
	}
	return count > 0, nil
}

// ListStaleIntents returns up to limit intents sitting in one of states whose
// last change happened before cutoff, oldest first.
func (r *Repository) ListStaleIntents(ctx context.Context, states []enums.ReconcileState, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	if len(states) == 0 {
		return nil, errors.New("at least one state is required")
	}
	query := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", states, cutoff).
		Order("updated_at ASC").
		Order("reference ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var intents []models.PaymentIntent
	if err := query.Find(&intents).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale payment intents")
	}
	return intents, nil
}
