package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

const maxStoredErrorLen = 1024

var errTxRequired = errors.New("transaction required")

// Repository owns the outbox_events and outbox_dlq tables. Every write takes
// the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// ExistsTx reports whether an event of the type was already queued for the aggregate.
func (r *Repository) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	var count int64
	err := tx.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_type = ? AND aggregate_id = ?", eventType, aggregateType, aggregateID).
		Count(&count).Error
	return count > 0, err
}

// ClaimBatchTx returns the oldest unpublished rows below attemptCeiling. On
// Postgres the rows stay locked (SKIP LOCKED) until tx ends, so publishers
// running side by side never share a row.
func (r *Repository) ClaimBatchTx(tx *gorm.DB, limit, attemptCeiling int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	query := tx.Where("published_at IS NULL")
	if attemptCeiling > 0 {
		query = query.Where("attempt_count < ?", attemptCeiling)
	}
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("published_at", time.Now().UTC()).Error
}

// RecordFailureTx bumps the attempt counter and keeps the error for the next try.
func (r *Repository) RecordFailureTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    clipError(cause),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// DeadLetterTx copies the event into outbox_dlq and raises its attempt count to
// attemptCeiling so ClaimBatchTx skips it from then on.
func (r *Repository) DeadLetterTx(tx *gorm.DB, event models.OutboxEvent, reason enums.DeadLetterReason, cause error, attemptCeiling int) error {
	if tx == nil {
		return errTxRequired
	}
	letter := models.DeadLetterFor(event, reason, cause, time.Now())
	if letter.ErrorMessage != nil {
		msg := clipError(cause)
		letter.ErrorMessage = &msg
	}
	if err := tx.Create(&letter).Error; err != nil {
		return err
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"last_error":    clipError(cause),
			"attempt_count": attemptCeiling,
		}).Error
}

// DeletePublishedBefore removes rows published before cutoff, together with
// dead-lettered rows (attempt count at terminalAttempts) created before cutoff.
// A non-positive terminalAttempts keeps every unpublished row.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	query := tx.WithContext(ctx)
	if terminalAttempts > 0 {
		query = query.Where(
			"(published_at IS NOT NULL AND published_at < ?) OR (published_at IS NULL AND attempt_count >= ? AND created_at < ?)",
			cutoff, terminalAttempts, cutoff,
		)
	} else {
		query = query.Where("published_at IS NOT NULL AND published_at < ?", cutoff)
	}
	res := query.Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func clipError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}
