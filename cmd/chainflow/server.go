package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/chainflow/api/handlers"
	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/breaker"
	"github.com/BaSui01/chainflow/chaintx"
	"github.com/BaSui01/chainflow/config"
	"github.com/BaSui01/chainflow/engine"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/internal/metrics"
	"github.com/BaSui01/chainflow/internal/server"
	"github.com/BaSui01/chainflow/internal/telemetry"
	"github.com/BaSui01/chainflow/internal/tlsutil"
	"github.com/BaSui01/chainflow/pause"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/triggers"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ChainFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	store     *store.Store
	bus       *events.Bus
	pauser    *pause.Manager
	registry  *blocks.Registry
	breaker   *breaker.Breaker
	engine    *engine.Engine
	tracker   *chaintx.Tracker
	scheduler *triggers.CronScheduler

	redisClient *redis.Client

	// Handlers
	healthHandler    *handlers.HealthHandler
	executionHandler *handlers.ExecutionHandler
	workflowHandler  *handlers.WorkflowHandler
	scheduleHandler  *handlers.ScheduleHandler
	chainHandler     *handlers.ChainHandler
	eventHandler     *handlers.EventStreamHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// OpenTelemetry
	otelProviders *telemetry.Providers

	// 后台循环生命周期管理
	loopCancel context.CancelFunc
	loopGroup  *errgroup.Group

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, st *store.Store) *Server {
	return &Server{
		cfg:           cfg,
		configPath:    configPath,
		logger:        logger,
		otelProviders: otelProviders,
		store:         st,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("chainflow", s.logger)

	// 2. 初始化核心组件（事件总线、暂停管理、链上追踪、区块注册表、熔断器、引擎）
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 4. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. 启动后台循环（引擎调度循环 + 链上确认循环 + 定时触发器）
	s.startLoops()

	// 6. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("chain_tracking_enabled", s.cfg.Chain.Enabled),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 按依赖顺序装配引擎协作组件
func (s *Server) initComponents() error {
	// 事件总线和暂停管理器
	s.bus = events.NewBus(s.logger)
	s.pauser = pause.NewManager(s.store, s.bus, s.logger)

	// 链上交易追踪器（可选，Chain.Enabled 时启用）
	var submitter blocks.TxSubmitter
	if s.cfg.Chain.Enabled {
		client := chaintx.NewRPCClient(s.cfg.Chain.RPCURL, tlsutil.SecureHTTPClient(30*time.Second))
		s.tracker = chaintx.NewTracker(s.store, client, s.pauser, s.bus, chaintx.Config{
			Account:         s.cfg.Chain.Account,
			ConfirmInterval: s.cfg.Chain.ConfirmInterval,
			GasBumpAfter:    s.cfg.Chain.GasBumpAfter,
			GasBumpPercent:  int64(s.cfg.Chain.GasBumpPercent),
			MaxGasBumps:     s.cfg.Chain.MaxGasBumps,
		}, s.logger)
		submitter = s.tracker
		s.logger.Info("Chain transaction tracker initialized",
			zap.String("rpc_url", s.cfg.Chain.RPCURL),
			zap.String("account", s.cfg.Chain.Account))
	} else {
		s.logger.Info("Chain tracking disabled, chain_tx blocks unavailable")
	}

	// 邮件发送器（可选，SMTP.Addr 配置时启用）
	var mailer blocks.Mailer
	if s.cfg.SMTP.Addr != "" {
		var auth smtp.Auth
		if s.cfg.SMTP.Username != "" {
			if host, _, splitErr := net.SplitHostPort(s.cfg.SMTP.Addr); splitErr == nil {
				auth = smtp.PlainAuth("", s.cfg.SMTP.Username, s.cfg.SMTP.Password, host)
			}
		}
		mailer = &blocks.SMTPMailer{
			Addr: s.cfg.SMTP.Addr,
			From: s.cfg.SMTP.From,
			Auth: auth,
		}
		s.logger.Info("SMTP mailer initialized", zap.String("addr", s.cfg.SMTP.Addr))
	} else {
		s.logger.Info("SMTP not configured, email blocks unavailable")
	}

	// 区块注册表
	s.registry = blocks.NewDefaultRegistry(blocks.DefaultRegistryDeps{
		Mailer:    mailer,
		Submitter: submitter,
		Logger:    s.logger,
	})

	// 熔断器（可选 Redis 共享状态）
	var breakerStore breaker.StateStore
	if s.cfg.Breaker.UseRedis {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		breakerStore = breaker.NewRedisStore(s.redisClient, s.cfg.Breaker.StateTTL)
		s.logger.Info("Circuit breaker using Redis state store", zap.String("addr", s.cfg.Redis.Addr))
	} else {
		breakerStore = breaker.NewLocalStore()
	}
	s.breaker = breaker.New(breaker.Config{
		FailureThreshold:  s.cfg.Breaker.FailureThreshold,
		RecoveryTimeout:   s.cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxProbes: s.cfg.Breaker.HalfOpenMaxProbes,
		SuccessThreshold:  s.cfg.Breaker.SuccessThreshold,
	}, breakerStore, s.logger)

	// 执行引擎
	s.engine = engine.New(engine.Deps{
		Store:    s.store,
		Registry: s.registry,
		Breaker:  s.breaker,
		Bus:      s.bus,
		Pauser:   s.pauser,
		Metrics:  s.metricsCollector,
		Logger:   s.logger,
	}, engine.Config{
		WorkerID:           s.cfg.Engine.WorkerID,
		TickInterval:       s.cfg.Engine.TickInterval,
		HeartbeatInterval:  s.cfg.Engine.HeartbeatInterval,
		ReclaimAfter:       s.cfg.Engine.ReclaimAfter,
		MaxConcurrentNodes: s.cfg.Engine.MaxConcurrentNodes,
		DefaultNodeTimeout: s.cfg.Engine.DefaultNodeTimeout,
		DefaultMaxRetries:  s.cfg.Engine.DefaultMaxRetries,
	})

	// 定时触发器
	s.scheduler = triggers.NewCronScheduler(s.engine, s.logger)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
		sqlDB, err := s.store.DB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	s.executionHandler = handlers.NewExecutionHandler(s.engine, s.pauser, s.store, s.logger)
	s.workflowHandler = handlers.NewWorkflowHandler(s.registry, s.logger)
	s.scheduleHandler = handlers.NewScheduleHandler(s.scheduler, s.registry, s.logger)
	s.chainHandler = handlers.NewChainHandler(s.store, s.logger)
	s.eventHandler = handlers.NewEventStreamHandler(s.bus, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// =============================================================================
// ⚙️ 后台循环
// =============================================================================

// startLoops 启动引擎调度循环、链上确认循环和定时触发器
func (s *Server) startLoops() {
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	s.loopGroup = g

	g.Go(func() error {
		s.engine.Run(ctx)
		return nil
	})

	if s.tracker != nil {
		g.Go(func() error {
			s.tracker.Run(ctx)
			return nil
		})
	}

	s.scheduler.Start()

	s.logger.Info("Background loops started",
		zap.Bool("tracker_running", s.tracker != nil))
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 执行生命周期 API
	// ========================================
	mux.HandleFunc("POST /api/v1/executions", s.executionHandler.HandleEnqueue)
	mux.HandleFunc("GET /api/v1/executions", s.executionHandler.HandleList)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.executionHandler.HandleGet)
	mux.HandleFunc("GET /api/v1/executions/{id}/logs", s.executionHandler.HandleLogs)
	mux.HandleFunc("POST /api/v1/executions/{id}/pause", s.executionHandler.HandlePause)
	mux.HandleFunc("POST /api/v1/executions/{id}/resume", s.executionHandler.HandleResume)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.executionHandler.HandleCancel)
	mux.HandleFunc("POST /api/v1/executions/{id}/nodes/{node_id}/retry", s.executionHandler.HandleRetryNode)

	// 工作流校验 API
	mux.HandleFunc("POST /api/v1/workflows/validate", s.workflowHandler.HandleValidate)

	// 定时调度 API
	mux.HandleFunc("POST /api/v1/schedules", s.scheduleHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/schedules", s.scheduleHandler.HandleList)
	mux.HandleFunc("DELETE /api/v1/schedules/{workflow_id}", s.scheduleHandler.HandleDelete)

	// 链上交易查询 API
	mux.HandleFunc("GET /api/v1/chain/transactions/unsettled", s.chainHandler.HandleListUnsettled)
	mux.HandleFunc("GET /api/v1/chain/transactions/hash/{hash}", s.chainHandler.HandleGetByHash)
	mux.HandleFunc("GET /api/v1/chain/transactions/{id}", s.chainHandler.HandleGet)

	// 事件流 API（WebSocket）
	mux.HandleFunc("GET /api/v1/events", s.eventHandler.HandleStream)
	mux.HandleFunc("GET /api/v1/executions/{id}/events", s.eventHandler.HandleStream)

	// ========================================
	// 配置管理 API（需要独立认证保护）
	// 安全修复：配置 API 是敏感的管理端点，必须经过认证中间件保护，
	// 不依赖全局中间件链的顺序，而是显式包装认证检查。
	// ========================================
	if s.configAPIHandler != nil {
		configAuth := config.NewConfigAPIMiddleware(s.configAPIHandler, s.getFirstAPIKey())
		mux.HandleFunc("/api/v1/config", configAuth.RequireAuth(s.configAPIHandler.HandleConfig))
		mux.HandleFunc("/api/v1/config/reload", configAuth.RequireAuth(s.configAPIHandler.HandleReload))
		mux.HandleFunc("/api/v1/config/fields", configAuth.RequireAuth(s.configAPIHandler.HandleFields))
		mux.HandleFunc("/api/v1/config/changes", configAuth.RequireAuth(s.configAPIHandler.HandleChanges))
		s.logger.Info("Configuration API registered with authentication")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst, s.logger),
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	} else {
		s.logger.Warn("No API keys configured, API authentication disabled")
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// getFirstAPIKey 返回配置中的第一个 API Key，用于配置 API 的独立认证。
// 如果未配置任何 API Key，返回空字符串（ConfigAPIMiddleware 会跳过认证检查）。
func (s *Server) getFirstAPIKey() string {
	if len(s.cfg.Server.APIKeys) > 0 {
		return s.cfg.Server.APIKeys[0]
	}
	return ""
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 停止定时触发器（不再入队新执行）
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	// 2. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 HTTP 服务器（不再接受新请求）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 5. 停止引擎调度循环和链上确认循环
	if s.loopCancel != nil {
		s.loopCancel()
	}
	if s.loopGroup != nil {
		if err := s.loopGroup.Wait(); err != nil {
			s.logger.Error("Background loop error", zap.Error(err))
		}
	}

	// 6. 关闭事件总线（断开所有 WebSocket 订阅）
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Error("Event bus shutdown error", zap.Error(err))
		}
	}

	// 7. 关闭 Redis 连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}

	// 8. 关闭 OpenTelemetry
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 9. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
