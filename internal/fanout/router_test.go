package fanout

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/internal/registry"
	"TweetStreamPlatform/pkg/logger"
)

// fakeDelivery фиксирует публикации по адресатам
type fakeDelivery struct {
	mu        sync.Mutex
	published map[string][]domain.AnalyzedBatch
	failFor   map[string]bool
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{
		published: make(map[string][]domain.AnalyzedBatch),
		failFor:   make(map[string]bool),
	}
}

func deliveryAddr(tenantID, userID string) string {
	return tenantID + ":" + userID
}

func (f *fakeDelivery) Publish(ctx context.Context, tenantID, userID string, batch domain.AnalyzedBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := deliveryAddr(tenantID, userID)
	if f.failFor[addr] {
		return fmt.Errorf("subscriber gone")
	}
	f.published[addr] = append(f.published[addr], batch)
	return nil
}

func (f *fakeDelivery) Subscribe(ctx context.Context, tenantID, userID string, handler func(domain.AnalyzedBatch)) error {
	return nil
}

func (f *fakeDelivery) Unsubscribe(tenantID, userID string) error {
	return nil
}

func (f *fakeDelivery) batchesFor(tenantID, userID string) []domain.AnalyzedBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AnalyzedBatch(nil), f.published[deliveryAddr(tenantID, userID)]...)
}

func newTestRouter(reg *registry.Registry, delivery *fakeDelivery) *Router {
	return NewRouter(
		reg,
		delivery,
		logging.NewStreamLogger(logger.NewNop()),
		metrics.NewStreamMetrics("fanout_test"),
	)
}

func batchFor(tenantID, keyword string) domain.AnalyzedBatch {
	return domain.AnalyzedBatch{
		TenantID: tenantID,
		Keyword:  keyword,
		AnalyzedTweets: []domain.AnalyzedTweet{
			{Tweet: domain.Tweet{ID: "1", Text: "about " + keyword}, Score: 0.5, Sentiment: "positive"},
		},
	}
}

func TestRouter_DeliversOncePerMatchingUser(t *testing.T) {
	reg := registry.NewRegistry()
	reg.AddKeyword("tenant-1", "user-1", "go")
	reg.AddKeyword("tenant-1", "user-2", "go")
	reg.AddKeyword("tenant-1", "user-3", "rust")

	delivery := newFakeDelivery()
	router := newTestRouter(reg, delivery)

	err := router.Deliver(context.Background(), batchFor("tenant-1", "go"))
	require.NoError(t, err)

	assert.Len(t, delivery.batchesFor("tenant-1", "user-1"), 1)
	assert.Len(t, delivery.batchesFor("tenant-1", "user-2"), 1)
	assert.Empty(t, delivery.batchesFor("tenant-1", "user-3"))
}

func TestRouter_DoesNotCrossTenants(t *testing.T) {
	reg := registry.NewRegistry()
	reg.AddKeyword("tenant-1", "user-1", "go")
	reg.AddKeyword("tenant-2", "user-1", "go")

	delivery := newFakeDelivery()
	router := newTestRouter(reg, delivery)

	err := router.Deliver(context.Background(), batchFor("tenant-1", "go"))
	require.NoError(t, err)

	assert.Len(t, delivery.batchesFor("tenant-1", "user-1"), 1)
	assert.Empty(t, delivery.batchesFor("tenant-2", "user-1"))
}

func TestRouter_NoSubscribersIsNotAnError(t *testing.T) {
	reg := registry.NewRegistry()
	delivery := newFakeDelivery()
	router := newTestRouter(reg, delivery)

	err := router.Deliver(context.Background(), batchFor("tenant-1", "go"))
	assert.NoError(t, err)
}

func TestRouter_DeliveryMissIsDropped(t *testing.T) {
	reg := registry.NewRegistry()
	reg.AddKeyword("tenant-1", "user-1", "go")
	reg.AddKeyword("tenant-1", "user-2", "go")

	delivery := newFakeDelivery()
	delivery.failFor[deliveryAddr("tenant-1", "user-1")] = true
	router := newTestRouter(reg, delivery)

	// Промах одного адресата не мешает остальным
	err := router.Deliver(context.Background(), batchFor("tenant-1", "go"))
	require.NoError(t, err)

	assert.Empty(t, delivery.batchesFor("tenant-1", "user-1"))
	assert.Len(t, delivery.batchesFor("tenant-1", "user-2"), 1)
}

func TestRouter_KeywordsAreCaseSensitive(t *testing.T) {
	reg := registry.NewRegistry()
	reg.AddKeyword("tenant-1", "user-1", "Go")

	delivery := newFakeDelivery()
	router := newTestRouter(reg, delivery)

	err := router.Deliver(context.Background(), batchFor("tenant-1", "go"))
	require.NoError(t, err)

	assert.Empty(t, delivery.batchesFor("tenant-1", "user-1"))
}
