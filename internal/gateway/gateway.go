package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"TweetStreamPlatform/internal/credentials"
	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/internal/logging"
	"TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/internal/registry"
	"TweetStreamPlatform/internal/repository"
	"TweetStreamPlatform/pkg/config"
	"TweetStreamPlatform/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// subscribeRequest - единственное сообщение, которое принимает шлюз.
// Тенант опционален: подключение без него попадает в тенанта по умолчанию.
type subscribeRequest struct {
	Tenant   *domain.Credentials `json:"tenant,omitempty"`
	Keywords []string            `json:"keywords"`
}

// subscribeAck подтверждает принятую подписку
type subscribeAck struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Keywords []string `json:"keywords"`
}

// Gateway принимает WebSocket-подключения, регистрирует их пользователей
// в реестре и общем хранилище и доставляет им проанализированные пачки.
// Каждому подключению выдается свежий uuid; пользователь существует ровно
// столько, сколько живет его подключение.
type Gateway struct {
	registry  *registry.Registry
	store     repository.TenantStore
	delivery  repository.DeliveryChannel
	validator *credentials.Validator
	logger    *logging.StreamLogger
	metrics   *metrics.StreamMetrics
	config    config.GatewayConfig
	keepAlive time.Duration
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*connection]struct{}
}

// connection хранит состояние одного живого подключения.
// writeMu сериализует записи в сокет: у gorilla может быть только один
// пишущий в каждый момент.
type connection struct {
	userID  string
	ws      *websocket.Conn
	send    chan domain.AnalyzedBatch
	done    chan struct{}
	writeMu sync.Mutex

	mu       sync.Mutex
	tenantID string
	keywords []string
}

func (c *connection) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *connection) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// NewGateway создает новый шлюз подключений
func NewGateway(
	reg *registry.Registry,
	store repository.TenantStore,
	delivery repository.DeliveryChannel,
	validator *credentials.Validator,
	streamLogger *logging.StreamLogger,
	streamMetrics *metrics.StreamMetrics,
	cfg config.GatewayConfig,
	keepAlive time.Duration,
) *Gateway {
	return &Gateway{
		registry:  reg,
		store:     store,
		delivery:  delivery,
		validator: validator,
		logger:    streamLogger,
		metrics:   streamMetrics,
		config:    cfg,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*connection]struct{}),
	}
}

// Run продлевает presence-ключи тенантов, у которых есть живые подключения
// на этой реплике. Пока хоть одна реплика держит подключение тенанта, его
// ключ не истекает.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tenantID := range g.liveTenants() {
				if err := g.store.RefreshTenantExpiration(ctx, tenantID); err != nil {
					g.logger.LogFeedError(tenantID, err, 0, 0)
				}
			}
		}
	}
}

// HandleWS обслуживает одно WebSocket-подключение
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &connection{
		userID: uuid.NewString(),
		ws:     ws,
		send:   make(chan domain.AnalyzedBatch, g.sendBufferSize()),
		done:   make(chan struct{}),
	}

	g.mu.Lock()
	g.conns[conn] = struct{}{}
	count := len(g.conns)
	g.mu.Unlock()
	g.metrics.SetActiveConnections(count)
	g.logger.LogConnectionOpened(conn.userID)

	go g.writePump(conn)
	g.readLoop(r.Context(), conn)
}

// readLoop обрабатывает входящие сообщения до разрыва подключения
func (g *Gateway) readLoop(ctx context.Context, conn *connection) {
	defer g.teardown(ctx, conn)

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			g.sendError(conn, errors.New(errors.ErrValidation, "malformed subscribe payload").WithDetails(err.Error()))
			continue
		}

		if err := g.subscribe(ctx, conn, req); err != nil {
			g.sendError(conn, err)
		}
	}
}

// subscribe применяет подписку подключения: проверяет схему, регистрирует
// пользователя в реестре и хранилище, подключает канал доставки. Повторная
// подписка заменяет предыдущую.
func (g *Gateway) subscribe(ctx context.Context, conn *connection, req subscribeRequest) error {
	if err := validateSubscribe(req); err != nil {
		return err
	}

	creds := g.defaultCredentials()
	if req.Tenant != nil {
		creds = *req.Tenant
	}
	if err := g.validator.Validate(ctx, creds); err != nil {
		return err
	}
	tenantID := creds.ID()

	g.unsubscribe(ctx, conn)

	g.registry.AddTenant(creds)
	g.registry.AddUser(tenantID, conn.userID)
	if _, err := g.store.CreateTenant(ctx, creds); err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to register tenant")
	}
	if err := g.store.AddUser(ctx, tenantID, conn.userID); err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to register user")
	}

	for _, keyword := range req.Keywords {
		g.registry.AddKeyword(tenantID, conn.userID, keyword)
		if err := g.store.AddKeyword(ctx, tenantID, conn.userID, keyword); err != nil {
			return errors.Wrap(err, errors.ErrUnavailable, "failed to register keyword")
		}
	}

	err := g.delivery.Subscribe(ctx, tenantID, conn.userID, func(batch domain.AnalyzedBatch) {
		select {
		case conn.send <- batch:
		default:
			// Медленный потребитель не тормозит доставку остальным
			g.metrics.RecordDelivery(false)
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to open delivery channel")
	}

	conn.mu.Lock()
	conn.tenantID = tenantID
	conn.keywords = append([]string(nil), req.Keywords...)
	conn.mu.Unlock()

	g.sendAck(conn, subscribeAck{
		UserID:   conn.userID,
		TenantID: tenantID,
		Keywords: req.Keywords,
	})
	return nil
}

// unsubscribe снимает текущую регистрацию подключения, если она есть
func (g *Gateway) unsubscribe(ctx context.Context, conn *connection) {
	conn.mu.Lock()
	tenantID := conn.tenantID
	conn.tenantID = ""
	conn.keywords = nil
	conn.mu.Unlock()

	if tenantID == "" {
		return
	}

	if err := g.delivery.Unsubscribe(tenantID, conn.userID); err != nil {
		g.logger.LogFeedError(tenantID, err, 0, 0)
	}
	g.registry.RemoveUser(tenantID, conn.userID)
	if _, err := g.store.RemoveUser(ctx, tenantID, conn.userID); err != nil {
		g.logger.LogFeedError(tenantID, err, 0, 0)
	}
}

// teardown разбирает подключение после разрыва
func (g *Gateway) teardown(ctx context.Context, conn *connection) {
	conn.mu.Lock()
	tenantID := conn.tenantID
	conn.mu.Unlock()

	g.unsubscribe(ctx, conn)

	close(conn.done)
	_ = conn.ws.Close()

	g.mu.Lock()
	delete(g.conns, conn)
	count := len(g.conns)
	g.mu.Unlock()
	g.metrics.SetActiveConnections(count)
	g.logger.LogConnectionClosed(conn.userID, tenantID)
}

// writePump сериализует записи в сокет: пачки, подтверждения и пинги
// уходят из одной горутины
func (g *Gateway) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case batch := <-conn.send:
			if err := conn.writeJSON(batch); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.writePing(); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) sendError(conn *connection, err error) {
	appErr, ok := err.(*errors.Error)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrInternal, "subscribe failed")
	}
	_ = conn.writeJSON(map[string]interface{}{"error": appErr})
}

func (g *Gateway) sendAck(conn *connection, ack subscribeAck) {
	_ = conn.writeJSON(map[string]interface{}{"subscribed": ack})
}

// liveTenants возвращает тенантов с хотя бы одним живым подключением
func (g *Gateway) liveTenants() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{})
	var tenantIDs []string
	for conn := range g.conns {
		conn.mu.Lock()
		tenantID := conn.tenantID
		conn.mu.Unlock()
		if tenantID == "" {
			continue
		}
		if _, ok := seen[tenantID]; !ok {
			seen[tenantID] = struct{}{}
			tenantIDs = append(tenantIDs, tenantID)
		}
	}
	return tenantIDs
}

func (g *Gateway) defaultCredentials() domain.Credentials {
	return domain.Credentials{
		ConsumerKey:    g.config.DefaultTenant.ConsumerKey,
		ConsumerSecret: g.config.DefaultTenant.ConsumerSecret,
		Token:          g.config.DefaultTenant.Token,
		TokenSecret:    g.config.DefaultTenant.TokenSecret,
	}
}

func (g *Gateway) sendBufferSize() int {
	if g.config.SendBufferSize > 0 {
		return g.config.SendBufferSize
	}
	return 64
}

// validateSubscribe проверяет сообщение по фиксированной схеме.
// Пустой массив keywords допустим и означает подписку без активных
// ключевых слов; отсутствие поля - нарушение схемы.
func validateSubscribe(req subscribeRequest) error {
	if req.Keywords == nil {
		return errors.New(errors.ErrValidation, "keywords is required")
	}
	for _, keyword := range req.Keywords {
		if keyword == "" {
			return errors.New(errors.ErrValidation, "keywords must not contain empty strings")
		}
	}
	if req.Tenant != nil {
		if err := credentials.ValidateShape(*req.Tenant); err != nil {
			return err
		}
	}
	return nil
}
