package sqlstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-request-network/webhooks"
)

type countingLedger struct {
	*webhooks.MemoryDeliveryLedger
	getCalls int
	getErr   error
}

func (l *countingLedger) Get(ctx context.Context, event string, deliveryID string) (webhooks.DeliveryRecord, error) {
	l.getCalls++
	if l.getErr != nil {
		return webhooks.DeliveryRecord{}, l.getErr
	}
	return l.MemoryDeliveryLedger.Get(ctx, event, deliveryID)
}

func TestCachedDeliveryLedger_GetMissFetchThenHit(t *testing.T) {
	ctx := context.Background()
	base := &countingLedger{MemoryDeliveryLedger: webhooks.NewMemoryDeliveryLedger()}
	ledger, err := NewCachedDeliveryLedger(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}
	record, _, err := ledger.Claim(ctx, "payment.confirmed", "delivery-1", []byte("{}"), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.Complete(ctx, record.ClaimID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := ledger.Get(ctx, "payment.confirmed", "delivery-1")
		if err != nil {
			t.Fatalf("get %d: %v", i+1, err)
		}
		if got.Status != webhooks.DeliveryStatusProcessed {
			t.Fatalf("expected processed record, got %q", got.Status)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be a cache hit, base get calls=%d", base.getCalls)
	}
}

func TestCachedDeliveryLedger_WritesEvictCachedRecord(t *testing.T) {
	ctx := context.Background()
	base := &countingLedger{MemoryDeliveryLedger: webhooks.NewMemoryDeliveryLedger()}
	ledger, err := NewCachedDeliveryLedger(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}

	record, _, err := ledger.Claim(ctx, "payment.failed", "delivery-2", nil, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	cached, err := ledger.Get(ctx, "payment.failed", "delivery-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cached.Status != webhooks.DeliveryStatusProcessing {
		t.Fatalf("expected processing, got %q", cached.Status)
	}

	if err := ledger.Fail(ctx, record.ClaimID, errors.New("boom"), time.Now().Add(time.Minute), 5); err != nil {
		t.Fatalf("fail: %v", err)
	}
	after, err := ledger.Get(ctx, "payment.failed", "delivery-2")
	if err != nil {
		t.Fatalf("get after fail: %v", err)
	}
	if after.Status != webhooks.DeliveryStatusRetryReady {
		t.Fatalf("expected eviction to expose retry_ready, got %q", after.Status)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected a refetch after eviction, got %d base gets", base.getCalls)
	}

	due, err := ledger.ListDue(ctx, time.Now().Add(2*time.Minute), 0)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected one due delivery through the cache wrapper, got %d", len(due))
	}
}

func TestCachedDeliveryLedger_PropagatesBaseErrors(t *testing.T) {
	errDown := errors.New("db down")
	base := &countingLedger{
		MemoryDeliveryLedger: webhooks.NewMemoryDeliveryLedger(),
		getErr:               errDown,
	}
	ledger, err := NewCachedDeliveryLedger(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached ledger: %v", err)
	}
	if _, err := ledger.Get(context.Background(), "payment.confirmed", "x"); !errors.Is(err, errDown) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}

func TestDeliveryCacheKey(t *testing.T) {
	key, err := DeliveryCacheKey(" payment.confirmed ", "a/b c")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-request-network::delivery::v1::payment.confirmed::a%2Fb%20c" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := DeliveryCacheKey("payment.confirmed", " "); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("expected required error, got %v", err)
	}
}

func newTestCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
