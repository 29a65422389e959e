package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/careflow/agent/conversation"
	"github.com/BaSui01/careflow/agent/orchestrator"
	"github.com/BaSui01/careflow/agent/patient"
	"github.com/BaSui01/careflow/agent/persistence"
	"github.com/BaSui01/careflow/api/handlers"
	"github.com/BaSui01/careflow/config"
	"github.com/BaSui01/careflow/internal/cache"
	"github.com/BaSui01/careflow/internal/database"
	"github.com/BaSui01/careflow/internal/metrics"
	"github.com/BaSui01/careflow/internal/server"
	"github.com/BaSui01/careflow/internal/telemetry"
	"github.com/BaSui01/careflow/llm"
	"github.com/BaSui01/careflow/llm/providers/openai"
	"github.com/BaSui01/careflow/llm/tokenizer"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装 CareFlow 的全部组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	metrics   *metrics.Collector

	store persistence.BlobStore
	pool  *database.PoolManager
	locks *cache.Manager

	orchestrator *orchestrator.Orchestrator
	signer       *orchestrator.URLSigner
	health       *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 按配置构建所有组件，失败时释放已打开的资源
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}
	if err := s.init(ctx); err != nil {
		s.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (s *Server) init(ctx context.Context) error {
	cfg := s.cfg

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = otelProviders
	s.metrics = metrics.NewCollector("careflow", s.logger)

	tokenizer.RegisterOpenAITokenizers()
	provider := newProvider(cfg.LLM, s.logger)

	if err := s.openStore(); err != nil {
		return err
	}

	retry := storeRetry(cfg.Storage)
	contexts := persistence.NewChatContextAccessor(s.store, s.logger, persistence.WithRetry(retry))
	registry := persistence.NewRegistryAccessor(s.store, s.logger, persistence.WithRetry(retry))

	analyzer := patient.NewAnalyzer(provider, patient.AnalyzerConfig{
		Model:       firstNonEmpty(cfg.Patient.AnalyzerModel, cfg.LLM.DefaultModel),
		Temperature: cfg.Patient.AnalyzerTemperature,
		MaxTokens:   cfg.Patient.AnalyzerMaxTokens,
		Timeout:     cfg.Patient.AnalyzerTimeout,
	}, s.logger)

	patients, err := patient.NewService(analyzer, registry, contexts, patient.ServiceConfig{
		PatientIDPattern:     cfg.Patient.PatientIDPattern,
		ShortMessageMaxLen:   cfg.Patient.ShortMessageMaxLen,
		ShortMessageKeywords: cfg.Patient.ShortMessageKeywords,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create patient service: %w", err)
	}

	busy, err := s.busyGuard()
	if err != nil {
		return err
	}

	if cfg.Blob.SigningSecret != "" {
		s.signer, err = orchestrator.NewURLSigner(cfg.Blob.SigningSecret, cfg.Blob.URLTTL)
		if err != nil {
			return fmt.Errorf("failed to create url signer: %w", err)
		}
	}

	s.orchestrator, err = orchestrator.New(orchestrator.Config{
		Agents:       cfg.Agents,
		TenantID:     cfg.Auth.TenantID,
		DefaultModel: cfg.LLM.DefaultModel,
		Strategy: conversation.StrategyConfig{
			Model:     firstNonEmpty(cfg.GroupChat.StrategyModel, cfg.LLM.DefaultModel),
			MaxTokens: cfg.GroupChat.StrategyMaxTokens,
			Timeout:   cfg.GroupChat.StrategyTimeout,
		},
		MaximumIterations: cfg.GroupChat.MaximumIterations,
		MaxResponseTokens: cfg.GroupChat.MaxResponseTokens,
		PlanGate:          cfg.GroupChat.PlanGate,
		ProbeTimeout:      cfg.GroupChat.ProbeTimeout,
		PersistTimeout:    cfg.GroupChat.PersistTimeout,
	}, orchestrator.Deps{
		Provider: provider,
		Contexts: contexts,
		Patients: patients,
		Busy:     busy,
		Signer:   s.signer,
		Metrics:  s.metrics,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck("blob_store", s.store.Ping))
	if s.pool != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.locks != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("redis", s.locks.Ping))
	}

	s.logger.Info("components initialized",
		zap.String("storage", cfg.Storage.Type),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("agents", len(s.orchestrator.Agents())),
		zap.Bool("redis_locks", s.locks != nil),
		zap.Bool("signed_blobs", s.signer != nil),
	)
	return nil
}

// newProvider 创建带重试与断路器的模型 Provider
func newProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	base := openai.NewProvider(openai.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.DefaultModel,
		Timeout:    cfg.Timeout,
		Azure:      cfg.Provider == "azure",
		APIVersion: cfg.APIVersion,
	}, logger)

	policy := llm.DefaultRetryPolicy()
	policy.MaxRetries = max(cfg.MaxRetries, 0)
	return llm.NewResilientProvider(base, llm.ResilientConfig{
		Retry:          policy,
		CircuitBreaker: llm.DefaultCircuitBreakerConfig(),
	}, logger)
}

// openStore 打开聊天上下文存储；database 后端同时建立受监控的连接池
func (s *Server) openStore() error {
	storeCfg, err := blobStoreConfig(s.cfg)
	if err != nil {
		return err
	}

	var opts []persistence.FactoryOption
	if storeCfg.Type == persistence.StoreTypeDatabase {
		db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxOpenConns:        s.cfg.Database.MaxOpenConns,
			MaxIdleConns:        s.cfg.Database.MaxIdleConns,
			ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
			HealthCheckInterval: database.DefaultPoolConfig().HealthCheckInterval,
		}, s.logger, database.WithStatsRecorder(s.cfg.Database.Driver, s.metrics.RecordDBConnections))
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		s.pool = pool
		opts = append(opts, persistence.WithGormDB(pool.DB()))
	}

	store, err := persistence.NewBlobStore(storeCfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to open %s blob store: %w", storeCfg.Type, err)
	}
	s.store = store
	return nil
}

// blobStoreConfig 把扁平配置映射为存储后端配置
func blobStoreConfig(cfg *config.Config) (persistence.StoreConfig, error) {
	out := persistence.DefaultStoreConfig()
	out.Type = persistence.StoreType(cfg.Storage.Type)
	if cfg.Storage.BaseDir != "" {
		out.BaseDir = cfg.Storage.BaseDir
	}
	out.Retry = storeRetry(cfg.Storage)

	switch out.Type {
	case persistence.StoreTypeRedis:
		host, port, err := splitHostPort(cfg.Redis.Addr)
		if err != nil {
			return out, fmt.Errorf("invalid redis addr %q: %w", cfg.Redis.Addr, err)
		}
		out.Redis.Host = host
		out.Redis.Port = port
		out.Redis.Password = cfg.Redis.Password
		out.Redis.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			out.Redis.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Storage.KeyPrefix != "" {
			out.Redis.KeyPrefix = cfg.Storage.KeyPrefix
		}
	case persistence.StoreTypeDatabase:
		out.Database.Driver = cfg.Database.Driver
		out.Database.DSN = cfg.Database.DSN()
		out.Database.AutoMigrate = cfg.Database.AutoMigrate
		if cfg.Storage.Table != "" {
			out.Database.Table = cfg.Storage.Table
		}
	case persistence.StoreTypeMongoDB:
		if cfg.Mongo.URI != "" {
			out.Mongo.URI = cfg.Mongo.URI
		}
		if cfg.Mongo.Database != "" {
			out.Mongo.Database = cfg.Mongo.Database
		}
		if cfg.Mongo.Collection != "" {
			out.Mongo.Collection = cfg.Mongo.Collection
		}
		if cfg.Mongo.Timeout > 0 {
			out.Mongo.Timeout = cfg.Mongo.Timeout
		}
	}
	return out, nil
}

func storeRetry(cfg config.StorageConfig) persistence.RetryConfig {
	retry := persistence.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return retry
}

// busyGuard 启用 Redis 时使用跨实例会话锁，否则使用进程内锁
func (s *Server) busyGuard() (orchestrator.BusyGuard, error) {
	if !s.cfg.Redis.Enabled {
		return orchestrator.NewMemoryBusyGuard(), nil
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = s.cfg.Redis.Addr
	cacheCfg.Password = s.cfg.Redis.Password
	cacheCfg.DB = s.cfg.Redis.DB
	cacheCfg.TLS = s.cfg.Redis.TLS
	if s.cfg.Redis.PoolSize > 0 {
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
	}
	if s.cfg.Redis.MinIdleConns > 0 {
		cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
	}
	if s.cfg.Redis.LockTTL > 0 {
		cacheCfg.LockTTL = s.cfg.Redis.LockTTL
	}

	locks, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis session locks: %w", err)
	}
	s.locks = locks
	return locks, nil
}

// =============================================================================
// 🌐 路由
// =============================================================================

// routes 注册 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}))

	agentHandler := handlers.NewAgentHandler(s.orchestrator, s.logger)
	mux.HandleFunc("GET /v1/agents", agentHandler.HandleListAgents)

	chatHandler := handlers.NewChatHandler(s.orchestrator, s.logger,
		handlers.WithOriginPatterns(s.cfg.Server.AllowedOrigins...))
	mux.HandleFunc("GET /v1/chats/{cid}/messages", chatHandler.HandleMessages)
	mux.HandleFunc("POST /v1/chats/{cid}/patient", chatHandler.HandleSetPatient)
	mux.HandleFunc("POST /v1/chats/{cid}/clear", chatHandler.HandleClear)
	mux.HandleFunc("GET /v1/chats/{cid}/ws", chatHandler.HandleStream)

	if s.signer != nil {
		blobHandler := handlers.NewBlobHandler(s.store, s.signer, s.logger)
		mux.HandleFunc("GET "+handlers.BlobPrefix, blobHandler.HandleGet)
	}
	return mux
}

// handler 构建中间件链
func (s *Server) handler(ctx context.Context) http.Handler {
	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst),
		JWTTenant(s.cfg.Auth, publicPaths, s.logger),
	)
}

// =============================================================================
// 🚀 运行
// =============================================================================

// Run 启动 API 与 Metrics 服务器，阻塞到 ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	httpCfg := server.DefaultConfig()
	httpCfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	httpCfg.ReadTimeout = s.cfg.Server.ReadTimeout
	httpCfg.WriteTimeout = s.cfg.Server.WriteTimeout
	httpCfg.IdleTimeout = s.cfg.Server.IdleTimeout
	httpCfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsCfg := httpCfg
	metricsCfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	metricsCfg.H2C = false

	s.httpManager = server.NewManager("api", s.handler(ctx), httpCfg, s.logger)
	s.metricsManager = server.NewManager("metrics", metricsMux, metricsCfg, s.logger)

	if err := s.httpManager.Start(); err != nil {
		s.close(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.metricsManager.Start(); err != nil {
		_ = s.httpManager.Shutdown(context.WithoutCancel(ctx))
		s.close(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Wait(gctx) })
	g.Go(func() error { return s.metricsManager.Wait(gctx) })
	err := g.Wait()

	s.logger.Info("Starting graceful shutdown...")
	s.close(context.WithoutCancel(ctx))
	s.logger.Info("Graceful shutdown completed")
	return err
}

// close 释放存储、锁、连接池与遥测
func (s *Server) close(ctx context.Context) {
	var errs []error
	if s.store != nil && s.pool == nil {
		errs = append(errs, s.store.Close())
	}
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.locks != nil {
		errs = append(errs, s.locks.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown cleanup failed", zap.Error(err))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
