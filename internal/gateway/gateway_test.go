package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TweetStreamPlatform/internal/credentials"
	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/internal/registry"
	"TweetStreamPlatform/pkg/config"
	"TweetStreamPlatform/pkg/logger"
)

// memoryStore - минимальное хранилище членства для тестов шлюза
type memoryStore struct {
	mu       sync.Mutex
	creds    map[string]domain.Credentials
	users    map[string]map[string][]string
	removals []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		creds: make(map[string]domain.Credentials),
		users: make(map[string]map[string][]string),
	}
}

func (s *memoryStore) CreateTenant(ctx context.Context, c domain.Credentials) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.creds[c.ID()]
	s.creds[c.ID()] = c
	if !existed {
		s.users[c.ID()] = make(map[string][]string)
	}
	return !existed, nil
}

func (s *memoryStore) GetTenant(ctx context.Context, tenantID string) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[tenantID], nil
}

func (s *memoryStore) RefreshTenantExpiration(ctx context.Context, tenantID string) error {
	return nil
}

func (s *memoryStore) RemoveTenant(ctx context.Context, tenantID string) error {
	return nil
}

func (s *memoryStore) AddUser(ctx context.Context, tenantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[tenantID] == nil {
		s.users[tenantID] = make(map[string][]string)
	}
	if s.users[tenantID][userID] == nil {
		s.users[tenantID][userID] = []string{}
	}
	return nil
}

func (s *memoryStore) RemoveUser(ctx context.Context, tenantID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users[tenantID], userID)
	s.removals = append(s.removals, tenantID+":"+userID)
	return len(s.users[tenantID]) == 0, nil
}

func (s *memoryStore) AddKeyword(ctx context.Context, tenantID, userID, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[tenantID][userID] = append(s.users[tenantID][userID], keyword)
	return nil
}

func (s *memoryStore) RemoveKeyword(ctx context.Context, tenantID, userID, keyword string) error {
	return nil
}

func (s *memoryStore) KeywordsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	return nil, nil
}

func (s *memoryStore) UsersByTenant(ctx context.Context, tenantID string) (map[string][]string, error) {
	return nil, nil
}

func (s *memoryStore) HasUsers(ctx context.Context, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[tenantID]) > 0, nil
}

func (s *memoryStore) TenantIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *memoryStore) userKeywords(tenantID, userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users[tenantID][userID]...)
}

func (s *memoryStore) removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removals...)
}

// memoryDelivery раздает пачки напрямую зарегистрированным обработчикам
type memoryDelivery struct {
	mu       sync.Mutex
	handlers map[string]func(domain.AnalyzedBatch)
}

func newMemoryDelivery() *memoryDelivery {
	return &memoryDelivery{handlers: make(map[string]func(domain.AnalyzedBatch))}
}

func (d *memoryDelivery) Publish(ctx context.Context, tenantID, userID string, batch domain.AnalyzedBatch) error {
	d.mu.Lock()
	handler := d.handlers[tenantID+":"+userID]
	d.mu.Unlock()
	if handler != nil {
		handler(batch)
	}
	return nil
}

func (d *memoryDelivery) Subscribe(ctx context.Context, tenantID, userID string, handler func(domain.AnalyzedBatch)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tenantID+":"+userID] = handler
	return nil
}

func (d *memoryDelivery) Unsubscribe(tenantID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, tenantID+":"+userID)
	return nil
}

func (d *memoryDelivery) subscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		DefaultTenant: config.DefaultTenantConfig{
			ConsumerKey:    "default-tenant",
			ConsumerSecret: "default-secret",
			Token:          "default-token",
			TokenSecret:    "default-token-secret",
		},
		SendBufferSize: 8,
	}
}

type gatewayFixture struct {
	registry *registry.Registry
	store    *memoryStore
	delivery *memoryDelivery
	gateway  *Gateway
	server   *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	reg := registry.NewRegistry()
	store := newMemoryStore()
	delivery := newMemoryDelivery()

	g := NewGateway(
		reg,
		store,
		delivery,
		credentials.NewValidator(nil),
		logging.NewStreamLogger(logger.NewNop()),
		metrics.NewStreamMetrics("gateway_test"),
		testGatewayConfig(),
		10*time.Millisecond,
	)

	server := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	t.Cleanup(server.Close)

	return &gatewayFixture{registry: reg, store: store, delivery: delivery, gateway: g, server: server}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readResponse(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var response map[string]json.RawMessage
	require.NoError(t, ws.ReadJSON(&response))
	return response
}

func subscribeAndAck(t *testing.T, ws *websocket.Conn, payload string) subscribeAck {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(payload)))
	response := readResponse(t, ws)
	raw, ok := response["subscribed"]
	require.True(t, ok, "expected subscribe ack, got %v", response)
	var ack subscribeAck
	require.NoError(t, json.Unmarshal(raw, &ack))
	return ack
}

func TestGateway_SubscribeWithExplicitTenant(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	ack := subscribeAndAck(t, ws, `{
		"tenant": {
			"consumerKey": "tenant-1",
			"consumerSecret": "secret",
			"token": "token",
			"tokenSecret": "token-secret"
		},
		"keywords": ["go", "rust"]
	}`)

	assert.Equal(t, "tenant-1", ack.TenantID)
	assert.NotEmpty(t, ack.UserID)
	assert.ElementsMatch(t, []string{"go", "rust"}, ack.Keywords)

	assert.ElementsMatch(t, []string{"go", "rust"}, f.registry.KeywordsByUser("tenant-1", ack.UserID))
	assert.ElementsMatch(t, []string{"go", "rust"}, f.store.userKeywords("tenant-1", ack.UserID))
	assert.Equal(t, 1, f.delivery.subscriberCount())
}

func TestGateway_SubscribeWithoutTenantUsesDefault(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	ack := subscribeAndAck(t, ws, `{"keywords": ["go"]}`)

	assert.Equal(t, "default-tenant", ack.TenantID)
	assert.ElementsMatch(t, []string{"go"}, f.registry.KeywordsByUser("default-tenant", ack.UserID))
}

func TestGateway_EachConnectionGetsFreshUserID(t *testing.T) {
	f := newGatewayFixture(t)

	ack1 := subscribeAndAck(t, f.dial(t), `{"keywords": ["go"]}`)
	ack2 := subscribeAndAck(t, f.dial(t), `{"keywords": ["go"]}`)

	assert.NotEqual(t, ack1.UserID, ack2.UserID)
}

func TestGateway_InvalidPayloadKeepsConnectionOpen(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	// Отсутствие поля keywords нарушает схему
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	response := readResponse(t, ws)
	_, hasError := response["error"]
	assert.True(t, hasError, "expected structured validation error, got %v", response)

	// Не-JSON тоже отклоняется, но подключение живо
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	response = readResponse(t, ws)
	_, hasError = response["error"]
	assert.True(t, hasError)

	// После ошибок корректная подписка проходит
	ack := subscribeAndAck(t, ws, `{"keywords": ["go"]}`)
	assert.Equal(t, "default-tenant", ack.TenantID)
}

func TestGateway_EmptyKeywordsMeansNoActiveKeywords(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	// Пустой массив валиден: пользователь зарегистрирован, слов нет
	ack := subscribeAndAck(t, ws, `{"keywords": []}`)

	assert.Equal(t, "default-tenant", ack.TenantID)
	assert.Empty(t, ack.Keywords)
	assert.Contains(t, f.registry.UserIDs("default-tenant"), ack.UserID)
	assert.Empty(t, f.registry.KeywordsByUser("default-tenant", ack.UserID))
}

func TestGateway_InvalidTenantShapeRejected(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{
		"tenant": {"consumerKey": "only-key"},
		"keywords": ["go"]
	}`)))
	response := readResponse(t, ws)
	_, hasError := response["error"]
	assert.True(t, hasError)
	assert.Empty(t, f.registry.TenantIDs())
}

func TestGateway_DeliversBatchesToSubscriber(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	ack := subscribeAndAck(t, ws, `{"keywords": ["go"]}`)

	batch := domain.AnalyzedBatch{
		TenantID: "default-tenant",
		Keyword:  "go",
		AnalyzedTweets: []domain.AnalyzedTweet{
			{Tweet: domain.Tweet{ID: "1", Text: "go is fun"}, Score: 0.8, Sentiment: "positive"},
		},
	}
	require.NoError(t, f.delivery.Publish(context.Background(), "default-tenant", ack.UserID, batch))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received domain.AnalyzedBatch
	require.NoError(t, ws.ReadJSON(&received))
	assert.Equal(t, "go", received.Keyword)
	require.Len(t, received.AnalyzedTweets, 1)
	assert.Equal(t, "positive", received.AnalyzedTweets[0].Sentiment)
}

func TestGateway_ResubscribeReplacesRegistration(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	ack := subscribeAndAck(t, ws, `{"keywords": ["go"]}`)
	_ = subscribeAndAck(t, ws, `{"keywords": ["rust"]}`)

	assert.ElementsMatch(t, []string{"rust"}, f.registry.KeywordsByUser("default-tenant", ack.UserID))
	assert.Equal(t, 1, f.delivery.subscriberCount())
}

func TestGateway_DisconnectTearsDownRegistration(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	ack := subscribeAndAck(t, ws, `{"keywords": ["go"]}`)
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return f.delivery.subscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.registry.UserIDs("default-tenant"))
	assert.Contains(t, f.store.removed(), "default-tenant:"+ack.UserID)
}
