package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "invoiceflow/api/swagger" // swagger docs
	"invoiceflow/internal/action"
	"invoiceflow/internal/config"
	"invoiceflow/internal/database"
	"invoiceflow/internal/evaluator"
	"invoiceflow/internal/extraction"
	"invoiceflow/internal/filestate"
	"invoiceflow/internal/gcp"
	"invoiceflow/internal/handler"
	"invoiceflow/internal/idempotency"
	"invoiceflow/internal/notifier"
	"invoiceflow/internal/pipeline"
	"invoiceflow/internal/service"
	"invoiceflow/internal/websocket"
	"invoiceflow/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/viant/afs"
	"go.uber.org/zap"
)

// @title           Invoice Approval API
// @version         1.0
// @description     Routes invoice documents through extraction, evaluation and manual review.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("configs/.env")
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	log := logger.New(cfg.LogFile, cfg.Debug)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	log.Info("connected to PostgreSQL")

	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)

	categoryService := service.NewCategoryService(db, log)
	seeds, err := database.LoadCategorySeed(cfg.CategorySeed)
	if err != nil {
		log.Fatal("failed to load category seed", zap.String("path", cfg.CategorySeed), zap.Error(err))
	}
	if created, err := categoryService.Seed(ctx, seeds); err != nil {
		log.Error("category seeding failed", zap.Error(err))
	} else if created > 0 {
		log.Info("categories seeded", zap.Int("created", created))
	}

	requestService := service.NewRequestService(db, log, wsHub)

	files, err := filestate.New(ctx, afs.New(), cfg.Folders, log)
	if err != nil {
		log.Fatal("failed to prepare folders", zap.Error(err))
	}

	var vertex *gcp.VertexClient
	if cfg.Vertex.ProjectID != "" {
		vertex, err = gcp.NewVertexClient(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Region, cfg.Vertex.EvaluatorModel, cfg.Vertex.ExtractionModel)
		if err != nil {
			log.Fatal("failed to create Vertex AI client", zap.Error(err))
		}
		defer vertex.Close()
	}

	var strategy evaluator.Strategy = evaluator.RuleStrategy{}
	if cfg.Evaluator.Strategy == config.StrategyModel {
		if vertex == nil {
			log.Fatal("EVALUATOR_STRATEGY=model needs a Vertex AI client")
		}
		strategy = evaluator.NewModelStrategy(vertex)
	}
	approvalEvaluator := evaluator.New(strategy, evaluator.Options{
		DefaultThreshold: decimal.NewNullDecimal(cfg.Evaluator.DefaultThreshold),
		MaxItems:         cfg.Evaluator.MaxItems,
		Timeout:          cfg.Evaluator.ModelTimeout,
	}, log)

	var extractor extraction.Extractor = extraction.Unconfigured{}
	if vertex != nil {
		extractor = extraction.NewVertexExtractor(vertex, 0)
	} else {
		log.Warn("PROJECT_ID not set, documents cannot be extracted")
	}

	channel, err := newChannel(cfg.Notify)
	if err != nil {
		log.Fatal("failed to set up notification channel", zap.Error(err))
	}
	dispatcher := notifier.NewDispatcher(channel, cfg.BaseURL, cfg.Notify.Timeout, log)

	var markers idempotency.Markers = idempotency.NewMemory()
	if cfg.Redis.Addr != "" {
		client, err := idempotency.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		defer client.Close()
		markers = idempotency.NewRedis(client, cfg.Pipeline.MarkerPrefix, cfg.Pipeline.MarkerTTL)
	}

	actions := action.NewHandler(requestService, files, dispatcher, log)
	pipe := pipeline.New(pipeline.Deps{
		Files:      files,
		Extractor:  extractor,
		Categories: categoryService,
		Evaluator:  approvalEvaluator,
		Requests:   requestService,
		Notifier:   dispatcher,
		Markers:    markers,
	}, cfg.Pipeline, log)

	go func() {
		if err := pipe.Run(ctx); err != nil {
			log.Error("pipeline stopped", zap.Error(err))
		}
	}()

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		log.Warn("JWT_SECRET not set, write endpoints are unauthenticated")
	}

	requestHandler := handler.NewRequestHandler(requestService, actions, secret)
	invoiceHandler := handler.NewInvoiceHandler(actions, files, pipe, secret)
	categoryHandler := handler.NewCategoryHandler(categoryService, secret)
	pipelineHandler := handler.NewPipelineHandler(pipe, secret)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		status := "OK"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = "DEGRADED"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "channel": dispatcher.ChannelName(), "strategy": approvalEvaluator.StrategyName()})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, secret)
	})

	requestHandler.RegisterRoutes(router.Group(""))
	invoiceHandler.RegisterRoutes(router.Group(""))
	categoryHandler.RegisterRoutes(router.Group(""))
	pipelineHandler.RegisterRoutes(router.Group(""))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newChannel(cfg config.Notify) (notifier.Channel, error) {
	switch cfg.Channel {
	case config.ChannelTeams:
		return notifier.NewTeams(cfg.TeamsWebhookURL, &http.Client{Timeout: cfg.Timeout}), nil
	case config.ChannelVKTeams:
		bot, err := notifier.NewVKBot(cfg.VKBotToken, cfg.VKBotAPIURL)
		if err != nil {
			return nil, err
		}
		return notifier.NewVKTeams(bot, cfg.VKChatID), nil
	default:
		return notifier.Nop{}, nil
	}
}
