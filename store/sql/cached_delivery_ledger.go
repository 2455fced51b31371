package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-request-network/webhooks"
)

const deliveryCacheKeyPrefix = "go-request-network::delivery::v1"

// CachedDeliveryLedger serves Get through a go-repository-cache service.
// Writes go to the base ledger and evict the cached entry. Claims taken by
// other processes are only observed once the cache TTL expires.
type CachedDeliveryLedger struct {
	base  webhooks.DeliveryLedger
	cache repositorycache.CacheService

	mu     sync.Mutex
	claims map[string]string
}

func NewCachedDeliveryLedger(
	base webhooks.DeliveryLedger,
	cacheService repositorycache.CacheService,
) (*CachedDeliveryLedger, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base delivery ledger is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: delivery cache service is required")
	}
	return &CachedDeliveryLedger{base: base, cache: cacheService, claims: map[string]string{}}, nil
}

// DeliveryCacheKey returns go-request-network::delivery::v1::<event>::<delivery_id>
// with both segments path-escaped.
func DeliveryCacheKey(event string, deliveryID string) (string, error) {
	event = strings.TrimSpace(event)
	deliveryID = strings.TrimSpace(deliveryID)
	if event == "" || deliveryID == "" {
		return "", fmt.Errorf("sqlstore: event and delivery id are required")
	}
	return strings.Join([]string{
		deliveryCacheKeyPrefix,
		url.PathEscape(event),
		url.PathEscape(deliveryID),
	}, "::"), nil
}

func (l *CachedDeliveryLedger) Claim(
	ctx context.Context,
	event string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if l == nil || l.base == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: cached delivery ledger is not configured")
	}
	record, claimed, err := l.base.Claim(ctx, event, deliveryID, payload, lease)
	if err != nil {
		return record, claimed, err
	}
	key, err := DeliveryCacheKey(event, deliveryID)
	if err != nil {
		return record, claimed, err
	}
	if claimed {
		l.mu.Lock()
		l.claims[record.ClaimID] = key
		l.mu.Unlock()
	}
	if err := l.cache.Delete(ctx, key); err != nil {
		return record, claimed, err
	}
	return record, claimed, nil
}

func (l *CachedDeliveryLedger) Get(ctx context.Context, event string, deliveryID string) (webhooks.DeliveryRecord, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: cached delivery ledger is not configured")
	}
	key, err := DeliveryCacheKey(event, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	record, err := repositorycache.GetOrFetch(ctx, l.cache, key, func(ctx context.Context) (webhooks.DeliveryRecord, error) {
		return l.base.Get(ctx, event, deliveryID)
	})
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	return cloneDelivery(record), nil
}

func (l *CachedDeliveryLedger) Complete(ctx context.Context, claimID string) error {
	if l == nil || l.base == nil {
		return fmt.Errorf("sqlstore: cached delivery ledger is not configured")
	}
	if err := l.base.Complete(ctx, claimID); err != nil {
		return err
	}
	return l.evictClaim(ctx, claimID)
}

func (l *CachedDeliveryLedger) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if l == nil || l.base == nil {
		return fmt.Errorf("sqlstore: cached delivery ledger is not configured")
	}
	if err := l.base.Fail(ctx, claimID, cause, nextAttemptAt, maxAttempts); err != nil {
		return err
	}
	return l.evictClaim(ctx, claimID)
}

// ListDue bypasses the cache.
func (l *CachedDeliveryLedger) ListDue(ctx context.Context, now time.Time, limit int) ([]webhooks.DeliveryRecord, error) {
	lister, ok := l.base.(webhooks.DueDeliveryLister)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base delivery ledger %T cannot list due deliveries", l.base)
	}
	return lister.ListDue(ctx, now, limit)
}

func (l *CachedDeliveryLedger) evictClaim(ctx context.Context, claimID string) error {
	l.mu.Lock()
	key, ok := l.claims[claimID]
	delete(l.claims, claimID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.cache.Delete(ctx, key)
}

func cloneDelivery(record webhooks.DeliveryRecord) webhooks.DeliveryRecord {
	cloned := record
	cloned.Payload = append([]byte(nil), record.Payload...)
	cloned.NextAttemptAt = cloneTime(record.NextAttemptAt)
	cloned.LeaseUntil = cloneTime(record.LeaseUntil)
	return cloned
}

var (
	_ webhooks.DeliveryLedger    = (*CachedDeliveryLedger)(nil)
	_ webhooks.DueDeliveryLister = (*CachedDeliveryLedger)(nil)
)
