package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service"
	"github.com/ifuryst/reelwave/internal/service/ads"
	"github.com/ifuryst/reelwave/internal/service/approval"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
	"github.com/ifuryst/reelwave/internal/service/store"
)

type Generator interface {
	Generate(ctx context.Context, req service.GenerateRequest) (*service.GenerateResponse, error)
}

type Renderer interface {
	RenderBatch(ctx context.Context, req pipeline.RenderRequest) (*pipeline.RunResult, error)
	UploadFootage(ctx context.Context, req pipeline.FootageUploadRequest) (*pipeline.RunResult, error)
}

type Approvals interface {
	ScheduleApproval(ctx context.Context, batchID string, delayMinutes int) (*approval.Dispatch, error)
	Validate(ctx context.Context, batchID string) error
	SubmitDecision(d approval.DecisionInput) error
}

type Publisher interface {
	UploadBatch(ctx context.Context, assets []ads.Asset) *ads.BatchUploadResult
	UploadRawResumable(ctx context.Context, asset ads.Asset) (string, error)
	CreateCampaign(ctx context.Context, req ads.CampaignRequest) (*ads.CampaignResult, error)
}

// Services are the handlers' dependencies. Publisher, Scheduler and Retention may be nil.
type Services struct {
	Store     *store.Store
	Auth      *service.AuthService
	Generator Generator
	Renderer  Renderer
	Approvals Approvals
	Publisher Publisher
	Scheduler *approval.Scheduler
	Retention *service.RetentionWorker
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Services
}

// NewServer opens the database and wires every adapter from configuration
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc, err := buildServices(ctx, cfg, db, logger)
	if err != nil {
		return nil, err
	}

	srv := New(cfg, svc, logger)
	srv.DB = db
	return srv, nil
}

// New builds a server around ready-made services
func New(cfg *config.Config, svc Services, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)

	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		Services: svc,
	}
	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/login", s.handleLogin)
		// Slack posts here directly; it signs requests instead of carrying a session
		api.POST("/webhooks/approval", s.slackSignatureMiddleware(), s.handleApprovalWebhook)

		operator := api.Group("", s.Auth.AuthMiddleware())

		operator.POST("/decisions", s.handleSubmitDecision)

		batches := operator.Group("/batches")
		{
			batches.POST("", s.handleGenerateBatch)
			batches.GET("", s.handleListBatches)
			batches.GET("/:id", s.handleGetBatch)
			batches.GET("/:id/validate", s.handleValidateBatch)
			batches.POST("/:id/render", s.handleRenderBatch)
			batches.POST("/:id/approval", s.handleScheduleApproval)
		}

		operator.POST("/footage/upload", s.handleUploadFootage)

		publish := operator.Group("/publish")
		{
			publish.POST("/uploads", s.handleUploadBatch)
			publish.POST("/uploads/resumable", s.handleUploadResumable)
			publish.POST("/campaigns", s.handleCreateCampaign)
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.Scheduler != nil {
		if err := s.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start approval scheduler: %w", err)
		}
	}
	if s.Retention != nil {
		s.Retention.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	if s.Server != nil {
		err = s.Server.Shutdown(shutdownCtx)
	}

	// Stop after the listener so in-flight webhooks can still enqueue
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Retention != nil {
		s.Retention.Stop()
	}

	if s.DB != nil {
		if sqlDB, dbErr := s.DB.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}
	return err
}
