package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"plum/internal/ai"
	"plum/internal/config"
	"plum/internal/handler"
	authHandler "plum/internal/handler/auth"
	"plum/internal/pkg/cache"
	"plum/internal/pkg/mongodb"
	"plum/internal/pkg/ratelimit"
	"plum/internal/pkg/storage"
	"plum/internal/pkg/storagefactory"
	"plum/internal/repository"
	authRepo "plum/internal/repository/auth"
	taskRepo "plum/internal/repository/task"
	"plum/internal/server/middleware"
	"plum/internal/service"
	"plum/internal/tool"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
}

// New 创建服务器实例
// 依赖按可选性分级：MongoDB 缺失时仅保留健康检查，Redis 缺失时关闭限流，
// 模型凭证缺失时 /chat 返回 50301 但任务接口照常工作
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	engine := gin.New()

	// 初始化 MongoDB (可选)
	var mongoClient *mongodb.Client
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			// 创建索引
			if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure indexes")
			}
		}
	}

	// 初始化 Redis (可选，限流用)
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
	}

	// 设置路由
	srv.setupRoutes(ctx)

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(ctx context.Context) {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if s.mongo == nil {
		log.Warn().Msg("MongoDB not configured, API endpoints disabled")
		return
	}

	db := s.mongo.Database()

	// 仓库层
	userRepo := authRepo.NewUserRepo(db)
	convRepo := repository.NewConversationRepo(db)
	msgRepo := repository.NewMessageRepo(db)
	tasks := taskRepo.NewTaskRepo(db)

	// 认证服务
	jwtSecret := s.cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	accessTokenExpiry := s.cfg.Auth.AccessTokenExpiry
	if accessTokenExpiry == 0 {
		accessTokenExpiry = 24 * time.Hour
	}
	authSvc := service.NewAuthService(userRepo, jwtSecret, accessTokenExpiry)
	authHdl := authHandler.NewHandler(authSvc)

	// 模型能力客户端 (可选)
	// APIKey 未配置时 capability 为 nil，ChatService 返回能力不可用错误
	var capability ai.Capability
	if s.cfg.AI.APIKey != "" {
		client, err := ai.NewClient(ctx, &s.cfg.AI, tool.Catalog())
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize chat model, chat endpoint degraded")
		} else {
			capability = client
			log.Info().Str("provider", s.cfg.AI.Provider).Str("model", s.cfg.AI.Model).Msg("initialized chat model")
		}
	}

	// 导出存储 (可选)
	var store storage.Storage
	if s.cfg.Storage.Type != "" {
		st, err := storagefactory.NewStorage(&s.cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize storage, export endpoint degraded")
		} else {
			store = st
			log.Info().Str("type", st.GetStorageType()).Msg("initialized storage")
		}
	}

	// 业务服务
	executor := tool.NewExecutor(tasks)
	chatSvc := service.NewChatService(
		capability, convRepo, msgRepo, executor,
		s.cfg.Chat.HistoryLimit, s.cfg.Chat.MaxToolRounds,
	)
	convSvc := service.NewConversationService(convRepo, msgRepo, store)

	chatHdl := handler.NewChatHandler(chatSvc)
	convHdl := handler.NewConversationHandler(convSvc)
	taskHdl := handler.NewTaskHandler(tasks)

	// 限流器 (Redis 缺失时为 nil，中间件直接放行)
	var limiter middleware.Allower
	if s.redis != nil {
		limiter = ratelimit.NewLimiter(s.redis.Client())
	}
	rl := &s.cfg.RateLimit

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 认证接口（公开）
		v1.POST("/auth/register", authHdl.Register)
		v1.POST("/auth/login", authHdl.Login)

		// 需要认证的接口
		authed := v1.Group("")
		authed.Use(middleware.Auth(authSvc.JWT()))
		{
			authed.GET("/auth/me", authHdl.GetMe)

			// 对话编排（独立限流档位）
			authed.POST("/chat",
				middleware.RateLimit(limiter, "chat", rl.ChatLimit, rl.ChatWindow),
				chatHdl.Chat,
			)

			// 对话管理
			authed.GET("/conversations", convHdl.List)
			authed.GET("/conversations/:id/messages",
				middleware.RateLimit(limiter, "history", rl.HistoryLimit, rl.HistoryWindow),
				convHdl.Messages,
			)
			authed.DELETE("/conversations/:id", convHdl.Delete)
			authed.POST("/conversations/:id/export", convHdl.Export)

			// 任务直连接口（不经过模型，与工具共用同一套校验和存储）
			authed.POST("/tasks", taskHdl.Create)
			authed.GET("/tasks", taskHdl.List)
			authed.PATCH("/tasks/:id", taskHdl.Update)
			authed.POST("/tasks/:id/complete", taskHdl.Complete)
			authed.DELETE("/tasks/:id", taskHdl.Delete)
		}
	}
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// 启动服务器
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待关闭信号或错误
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		// 关闭连接
		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
