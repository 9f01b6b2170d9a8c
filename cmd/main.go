package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"TweetStreamPlatform/internal/analyzer"
	"TweetStreamPlatform/internal/credentials"
	"TweetStreamPlatform/internal/events"
	"TweetStreamPlatform/internal/fanout"
	"TweetStreamPlatform/internal/gateway"
	"TweetStreamPlatform/internal/handler"
	"TweetStreamPlatform/internal/logging"
	internal_metrics "TweetStreamPlatform/internal/metrics"
	"TweetStreamPlatform/internal/ownership"
	"TweetStreamPlatform/internal/recorder"
	"TweetStreamPlatform/internal/registry"
	repo_postgres "TweetStreamPlatform/internal/repository/postgres"
	repo_redis "TweetStreamPlatform/internal/repository/redis"
	"TweetStreamPlatform/internal/stream"
	"TweetStreamPlatform/pkg/config"
	"TweetStreamPlatform/pkg/database"
	"TweetStreamPlatform/pkg/errors"
	"TweetStreamPlatform/pkg/health"
	"TweetStreamPlatform/pkg/logger"
	pkg_rabbitmq "TweetStreamPlatform/pkg/rabbitmq"
	pkg_redis "TweetStreamPlatform/pkg/redis"

	"TweetStreamPlatform/internal/domain"
)

const (
	serviceName    = "tweetstream"
	serviceVersion = "v1.0.0"
)

func main() {
	// Определяем путь к конфигурации
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath == "" {
		log.Fatalf("Could not find config.yaml file")
	}

	// Инициализация конфигурации
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	replicaID := uuid.NewString()

	appLogger.Info("Starting tweet stream replica",
		logger.String("version", serviceVersion),
		logger.String("replica_id", replicaID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем метрики
	streamMetrics := internal_metrics.NewStreamMetrics(serviceName)

	// Инициализируем Redis
	redisConfig := pkg_redis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
	redisConfig.MaxRetries = cfg.Redis.MaxRetries

	redisClient, err := pkg_redis.Connect(ctx, redisConfig)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Уведомления keyspace нужны для обнаружения истекших аренд всем флотом
	if err := redisClient.EnableKeyspaceNotifications(ctx); err != nil {
		appLogger.Error("Failed to enable keyspace notifications", logger.Error(err))
		os.Exit(1)
	}

	// Инициализируем RabbitMQ
	rabbitConfig := pkg_rabbitmq.NewConfig()
	rabbitConfig.URL = cfg.RabbitMQ.URL
	rabbitConfig.Exchange = cfg.RabbitMQ.Exchange
	rabbitConfig.RoutingKey = cfg.RabbitMQ.RoutingKey
	rabbitConfig.Queue = cfg.RabbitMQ.Queue

	rabbitConn, err := pkg_rabbitmq.Connect(rabbitConfig)
	if err != nil {
		appLogger.Error("Failed to connect to RabbitMQ", logger.Error(err))
		os.Exit(1)
	}
	defer rabbitConn.Close()

	producer, err := pkg_rabbitmq.NewProducer(rabbitConn, rabbitConfig)
	if err != nil {
		appLogger.Error("Failed to create producer", logger.Error(err))
		os.Exit(1)
	}

	// Инициализируем базу данных
	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name

	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		appLogger.Error("Failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Общая для флота шина событий и ее источник в Redis
	reg := registry.NewRegistry()
	bus := events.NewBus()
	eventStream := repo_redis.NewEventStream(redisClient.Client, bus, cfg.Redis.DB, appLogger)
	go func() {
		if err := eventStream.Run(ctx); err != nil {
			appLogger.Error("Event stream stopped", logger.Error(err))
		}
	}()

	// Хранилища
	tenantStore := repo_redis.NewTenantStore(redisClient.Client, cfg.Stream.TTL())
	leaseStore := repo_redis.NewLeaseStore(redisClient.Client)
	delivery := repo_redis.NewDeliveryChannel(redisClient.Client, appLogger)
	recordRepo := repo_postgres.NewRecordRepository(db.Pool)
	tweetRepo := repo_postgres.NewTweetRepository(db.Pool)

	streamLogger := logging.NewStreamLogger(appLogger)
	sentiment := analyzer.NewSentimentAnalyzer()
	validator := credentials.NewValidator(nil)

	// Конвейер стримов: фид -> анализ -> доставка подписчикам.
	// Фатальная ошибка фида возвращается менеджеру владения, который
	// снимает аренду, чтобы тенанта могла подхватить другая реплика.
	router := fanout.NewRouter(reg, delivery, streamLogger, streamMetrics)

	var manager *ownership.Manager
	controller := stream.NewController(
		func() stream.FeedClient { return stream.NewSimulatedFeed() },
		sentiment,
		router,
		func(tenantID string, err error) { manager.OnStreamFatal(tenantID, err) },
		streamLogger,
		streamMetrics,
		cfg.Stream,
	)

	manager = ownership.NewManager(
		replicaID,
		reg,
		tenantStore,
		leaseStore,
		controller,
		bus,
		streamLogger,
		streamMetrics,
		cfg.Stream,
	)
	if err := manager.Start(ctx); err != nil {
		appLogger.Error("Failed to start ownership manager", logger.Error(err))
		os.Exit(1)
	}

	// Шлюз подключений
	gw := gateway.NewGateway(
		reg,
		tenantStore,
		delivery,
		validator,
		streamLogger,
		streamMetrics,
		cfg.Gateway,
		cfg.Stream.KeepAlive(),
	)
	go gw.Run(ctx)

	// Роль записи включается на одной реплике деплоя
	var recorderService *recorder.Service
	recordCreator := handler.RecordCreator(unavailableCreator{})
	if cfg.Recorder.Enabled {
		recorderService = recorder.NewService(recordRepo, tenantStore, delivery, producer, streamLogger, cfg.Stream)
		if err := recorderService.Start(ctx); err != nil {
			appLogger.Error("Failed to start recorder", logger.Error(err))
			os.Exit(1)
		}
		recordCreator = recorderService

		consumer := pkg_rabbitmq.NewConsumer(rabbitConn, rabbitConfig)
		recorder.NewConsumer(tweetRepo, appLogger).Register(consumer, rabbitConfig.Queue)
		go func() {
			// Блокируется до отмены контекста
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				appLogger.Error("Recorder consumer stopped", logger.Error(err))
			}
		}()
	}

	// Health checker с проверками зависимостей
	healthChecker := health.NewChecker(serviceVersion)
	healthChecker.Register("redis", redisClient.HealthCheck)
	healthChecker.Register("postgres", db.HealthCheck)
	healthChecker.Register("rabbitmq", func(ctx context.Context) error {
		return rabbitConn.HealthCheck()
	})

	// HTTP сервер: WebSocket шлюз, API записей, health и metrics
	httpHandler := handler.NewHTTPHandler(recordCreator, recordRepo, tweetRepo, validator, appLogger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	httpHandler.RegisterRoutes(mux)
	mux.HandleFunc("/health", health.Handler(healthChecker))
	mux.HandleFunc("/ready", health.ReadyHandler())
	mux.HandleFunc("/live", health.LiveHandler())
	mux.Handle("/metrics", streamMetrics.GetBaseMetrics().GetHandler())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: httpHandler.LoggingMiddleware(mux),
	}

	go func() {
		appLogger.Info("HTTP server started",
			logger.String("host", cfg.Server.Host),
			logger.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed", logger.Error(err))
		}
	}()

	appLogger.Info("Replica started successfully", logger.String("replica_id", replicaID))

	// Ожидаем сигналы для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down replica...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Failed to shutdown HTTP server", logger.Error(err))
	}

	// Снимаем аренды явно, чтобы другие реплики подхватили тенантов сразу
	manager.Stop(shutdownCtx)
	if recorderService != nil {
		recorderService.Stop(shutdownCtx)
	}
	cancel()

	appLogger.Info("Replica stopped gracefully")
}

// findConfigFile ищет config.yaml рядом с рабочей директорией и выше
func findConfigFile() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for i := 0; i < 5; i++ {
		candidate := filepath.Join(dir, "config", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

// unavailableCreator отклоняет создание записей на репликах без роли записи
type unavailableCreator struct{}

func (unavailableCreator) CreateRecord(ctx context.Context, record *domain.Record) error {
	return errors.New(errors.ErrUnavailable, "recorder is disabled on this replica")
}
