package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	Event         string
	DeliveryID    string
	Status        string
	Attempts      int
	LastError     string
	Payload       []byte
	NextAttemptAt *time.Time
	LeaseUntil    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger tracks each delivery through
// pending/retry_ready -> processing -> processed|dead.
//
// Claim returns claimed=false when the delivery is already finished or is
// held by an unexpired lease.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		event string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, event string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// DueDeliveryLister lists retry_ready deliveries whose next attempt is due
// at now, oldest first.
type DueDeliveryLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]DeliveryRecord, error)
}

// ClaimState decides whether an existing record may be claimed at now.
func ClaimState(record DeliveryRecord, now time.Time) bool {
	switch record.Status {
	case DeliveryStatusProcessed, DeliveryStatusDead:
		return false
	case DeliveryStatusProcessing:
		return record.LeaseUntil == nil || !now.Before(*record.LeaseUntil)
	default:
		return true
	}
}

// FailState returns the status a failed claim moves to.
func FailState(attempts int, maxAttempts int) string {
	if maxAttempts > 0 && attempts >= maxAttempts {
		return DeliveryStatusDead
	}
	return DeliveryStatusRetryReady
}

// MemoryDeliveryLedger is a process-local DeliveryLedger.
type MemoryDeliveryLedger struct {
	mu      sync.Mutex
	records map[string]DeliveryRecord
	claims  map[string]string
	now     func() time.Time
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: map[string]DeliveryRecord{},
		claims:  map[string]string{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	event string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	event = strings.TrimSpace(event)
	deliveryID = strings.TrimSpace(deliveryID)
	if event == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: event and delivery id are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := event + ":" + deliveryID
	record, exists := l.records[key]
	if exists && !ClaimState(record, now) {
		return record, false, nil
	}
	if !exists {
		record = DeliveryRecord{
			ID:         uuid.NewString(),
			Event:      event,
			DeliveryID: deliveryID,
			Payload:    append([]byte(nil), payload...),
			CreatedAt:  now,
		}
	}
	if record.ClaimID != "" {
		delete(l.claims, record.ClaimID)
	}
	leaseUntil := now.Add(lease)
	record.ClaimID = uuid.NewString()
	record.Status = DeliveryStatusProcessing
	record.Attempts++
	record.LeaseUntil = &leaseUntil
	record.NextAttemptAt = nil
	record.UpdatedAt = now
	l.records[key] = record
	l.claims[record.ClaimID] = key
	return record, true, nil
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, event string, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[strings.TrimSpace(event)+":"+strings.TrimSpace(deliveryID)]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery %q for %q not found", deliveryID, event)
	}
	return record, nil
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	return l.update(claimID, func(record *DeliveryRecord) {
		record.Status = DeliveryStatusProcessed
		record.NextAttemptAt = nil
		record.LastError = ""
	})
}

func (l *MemoryDeliveryLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	return l.update(claimID, func(record *DeliveryRecord) {
		record.Status = FailState(record.Attempts, maxAttempts)
		if cause != nil {
			record.LastError = cause.Error()
		}
		if record.Status == DeliveryStatusRetryReady {
			next := nextAttemptAt.UTC()
			record.NextAttemptAt = &next
		} else {
			record.NextAttemptAt = nil
		}
	})
}

func (l *MemoryDeliveryLedger) update(claimID string, mutate func(*DeliveryRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.claims[strings.TrimSpace(claimID)]
	if !ok {
		return fmt.Errorf("webhooks: claim %q not found", claimID)
	}
	record := l.records[key]
	mutate(&record)
	record.LeaseUntil = nil
	record.ClaimID = ""
	record.UpdatedAt = l.now()
	l.records[key] = record
	delete(l.claims, strings.TrimSpace(claimID))
	return nil
}

func (l *MemoryDeliveryLedger) ListDue(_ context.Context, now time.Time, limit int) ([]DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	due := make([]DeliveryRecord, 0)
	for _, record := range l.records {
		if record.Status != DeliveryStatusRetryReady {
			continue
		}
		if record.NextAttemptAt != nil && record.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, record)
	}
	sort.Slice(due, func(i, j int) bool {
		return nextAttempt(due[i]).Before(nextAttempt(due[j]))
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func nextAttempt(record DeliveryRecord) time.Time {
	if record.NextAttemptAt == nil {
		return record.UpdatedAt
	}
	return *record.NextAttemptAt
}

var (
	_ DeliveryLedger    = (*MemoryDeliveryLedger)(nil)
	_ DueDeliveryLister = (*MemoryDeliveryLedger)(nil)
)
