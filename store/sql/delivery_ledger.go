package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-request-network/webhooks"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeliveryLedger is a webhooks.DeliveryLedger stored in the
// webhook_deliveries table. Claims are taken with conditional updates so
// concurrent processes never hold the same delivery at once.
type DeliveryLedger struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
	now  func() time.Time
}

func NewDeliveryLedger(db *bun.DB) (*DeliveryLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryLedger{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *DeliveryLedger) Claim(
	ctx context.Context,
	event string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if l == nil || l.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	event = strings.TrimSpace(event)
	deliveryID = strings.TrimSpace(deliveryID)
	if event == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: event and delivery id are required")
	}

	now := l.now()
	leaseUntil := now.Add(lease)
	record := &deliveryRecord{
		ID:         uuid.NewString(),
		Event:      event,
		DeliveryID: deliveryID,
		ClaimID:    uuid.NewString(),
		Status:     webhooks.DeliveryStatusProcessing,
		Attempts:   1,
		Payload:    append([]byte(nil), payload...),
		LeaseUntil: &leaseUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := l.db.NewInsert().Model(record).Exec(ctx)
	if err == nil {
		return deliveryToDomain(record), true, nil
	}
	if !isUniqueViolation(err) {
		return webhooks.DeliveryRecord{}, false, err
	}

	claimID := uuid.NewString()
	res, err := l.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = attempts + 1").
		Set("lease_until = ?", leaseUntil).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("event = ?", event).
		Where("delivery_id = ?", deliveryID).
		Where(
			"(status IN (?, ?) OR (status = ? AND (lease_until IS NULL OR lease_until <= ?)))",
			webhooks.DeliveryStatusPending,
			webhooks.DeliveryStatusRetryReady,
			webhooks.DeliveryStatusProcessing,
			now,
		).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	current, err := l.Get(ctx, event, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	return current, affected > 0 && current.ClaimID == claimID, nil
}

func (l *DeliveryLedger) Get(ctx context.Context, event string, deliveryID string) (webhooks.DeliveryRecord, error) {
	if l == nil || l.repo == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	records, _, err := l.repo.List(ctx,
		repository.SelectBy("event", "=", strings.TrimSpace(event)),
		repository.SelectBy("delivery_id", "=", strings.TrimSpace(deliveryID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	if len(records) == 0 {
		return webhooks.DeliveryRecord{}, fmt.Errorf(
			"sqlstore: delivery %q for event %q not found",
			deliveryID,
			event,
		)
	}
	return deliveryToDomain(records[0]), nil
}

func (l *DeliveryLedger) Complete(ctx context.Context, claimID string) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	res, err := l.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("claim_id = NULL").
		Set("lease_until = NULL").
		Set("next_attempt_at = NULL").
		Set("last_error = ?", "").
		Set("updated_at = ?", l.now()).
		Where("claim_id = ?", strings.TrimSpace(claimID)).
		Exec(ctx)
	return claimUpdated(res, err, claimID)
}

func (l *DeliveryLedger) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if l == nil || l.repo == nil {
		return fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	records, _, err := l.repo.List(ctx,
		repository.SelectBy("claim_id", "=", claimID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("sqlstore: claim %q not found", claimID)
	}

	status := webhooks.FailState(records[0].Attempts, maxAttempts)
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	query := l.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", status).
		Set("claim_id = NULL").
		Set("lease_until = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", l.now()).
		Where("claim_id = ?", claimID)
	if status == webhooks.DeliveryStatusRetryReady {
		query = query.Set("next_attempt_at = ?", nextAttemptAt.UTC())
	} else {
		query = query.Set("next_attempt_at = NULL")
	}
	res, err := query.Exec(ctx)
	return claimUpdated(res, err, claimID)
}

// ListDue returns retry_ready deliveries whose next attempt is at or before now.
func (l *DeliveryLedger) ListDue(ctx context.Context, now time.Time, limit int) ([]webhooks.DeliveryRecord, error) {
	if l == nil || l.repo == nil {
		return nil, fmt.Errorf("sqlstore: delivery ledger is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	records, _, err := l.repo.List(ctx,
		repository.SelectBy("status", "=", webhooks.DeliveryStatusRetryReady),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("(?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?)", now.UTC())
		}),
		repository.OrderBy("next_attempt_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]webhooks.DeliveryRecord, 0, len(records))
	for _, record := range records {
		out = append(out, deliveryToDomain(record))
	}
	return out, nil
}

func claimUpdated(res interface{ RowsAffected() (int64, error) }, err error, claimID string) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: claim %q not found", claimID)
	}
	return nil
}

func deliveryToDomain(record *deliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:            record.ID,
		ClaimID:       record.ClaimID,
		Event:         record.Event,
		DeliveryID:    record.DeliveryID,
		Status:        record.Status,
		Attempts:      record.Attempts,
		LastError:     record.LastError,
		Payload:       append([]byte(nil), record.Payload...),
		NextAttemptAt: cloneTime(record.NextAttemptAt),
		LeaseUntil:    cloneTime(record.LeaseUntil),
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var (
	_ webhooks.DeliveryLedger    = (*DeliveryLedger)(nil)
	_ webhooks.DueDeliveryLister = (*DeliveryLedger)(nil)
)
