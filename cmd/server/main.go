// Package main 是应用程序的入口点。
package main

import (
	"askto-go/internal/config"
	"askto-go/internal/handler"
	"askto-go/internal/middleware"
	"askto-go/internal/model"
	"askto-go/internal/pipeline"
	"askto-go/internal/repository"
	"askto-go/internal/service"
	"askto-go/pkg/database"
	"askto-go/pkg/es"
	"askto-go/pkg/kafka"
	"askto-go/pkg/llm"
	"askto-go/pkg/log"
	"askto-go/pkg/storage"
	"askto-go/pkg/token"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	configPath := "./configs/config.yaml"
	if p := os.Getenv("ASKTO_CONFIG"); p != "" {
		configPath = p
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	defaultPhase, err := model.ParsePhase(cfg.Agent.DefaultPhase)
	if err != nil {
		log.Fatalf("agent.default_phase 配置无效: %v", err)
	}

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL)
	database.InitRedis(cfg.Database.Redis)
	if err := repository.AutoMigrate(database.DB); err != nil {
		log.Fatal("数据库迁移失败", err)
	}

	// 4. 初始化 Repository
	cacheRepo := repository.NewSessionCacheRepository(database.RDB, cfg.Agent.SessionTTL, cfg.Agent.ContextTTL)
	identityRepo := repository.NewIdentityRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	insightRepo := repository.NewInsightRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, time.Duration(cfg.JWT.SessionTokenExpireHours)*time.Hour)
	llmClient := llm.NewClient(cfg.LLM)
	identityService := service.NewIdentityService(identityRepo)
	insightService := service.NewInsightService(insightRepo)
	memoryService := service.NewMemoryService(cacheRepo, identityRepo, sessionRepo, identityService, insightService,
		cfg.Agent.HistoryLimit, cfg.Agent.RecentSessions)
	var semantic service.SemanticExtractor
	if cfg.LLM.BaseURL != "" {
		semantic = service.NewLLMExtractor(llmClient, cfg.LLM.Extraction)
	} else {
		log.Warnf("未配置 llm.base_url，只使用规则抽取")
	}
	extractionService := service.NewExtractionService(semantic)
	generator := service.NewLLMReplyGenerator(llmClient, cfg.LLM.Generation)

	opts := pipeline.Options{
		DefaultPhase:    defaultPhase,
		RelaxedIdentity: cfg.Agent.RelaxedIdentity,
		HistoryLimit:    cfg.Agent.HistoryLimit,
		ApologyText:     cfg.Agent.ApologyText,
		TurnLockTTL:     cfg.Agent.TurnLockTTL,
	}

	// 6. 可选组件：对象存储归档、会话检索、持久化重试队列
	if cfg.MinIO.Endpoint != "" {
		if err := storage.InitMinIO(cfg.MinIO); err != nil {
			log.Errorf("MinIO 初始化失败，关闭对话归档: %v", err)
		} else {
			opts.Archiver = storage.NewTranscriptArchiver(storage.MinioClient, cfg.MinIO.BucketName)
		}
	}

	var searcher service.SessionSearcher
	if cfg.Elasticsearch.Addresses != "" {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败，关闭会话检索: %v", err)
		} else {
			index := es.NewSessionIndex(es.ESClient, cfg.Elasticsearch.IndexName)
			opts.Indexer = index
			searcher = index
		}
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		opts.Retry = producer
		// 7. 启动后台 Kafka 消费者，重放写入失败的持久化任务
		go kafka.StartConsumer(consumerCtx, cfg.Kafka, database.RDB, pipeline.NewMemoryReplayer(memoryService))
	}

	orchestrator := pipeline.NewOrchestrator(cacheRepo, memoryService, identityService, sessionRepo,
		extractionService, generator, opts)
	adminService := service.NewAdminService(memoryService, insightService, searcher)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	sessionHandler := handler.NewSessionHandler(orchestrator, jwtManager)
	adminHandler := handler.NewAdminHandler(adminService)
	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/sessions", sessionHandler.Start)

		// 需要会话令牌的路由
		sessions := apiV1.Group("/sessions/:sessionId")
		sessions.Use(middleware.SessionAuthMiddleware(jwtManager))
		{
			sessions.POST("/messages", sessionHandler.PostMessage)
			sessions.POST("/end", sessionHandler.End)
			sessions.GET("/turns", sessionHandler.ListTurns)
		}

		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware(cfg.Admin.APIKey))
		{
			admin.GET("/identities/:identityId/context", adminHandler.GetContext)
			admin.GET("/identities/:identityId/insights", adminHandler.ListInsights)
			admin.GET("/sessions/search", adminHandler.SearchSessions)
		}
	}
	r.GET("/chat/:token", handler.NewChatHandler(orchestrator, jwtManager).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if err := database.RDB.Close(); err != nil {
		log.Errorf("关闭 Redis 客户端失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
