package app

import (
	"context"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/controller"
	"lingo_assess_backend/internal/repository"
	"lingo_assess_backend/internal/service"
	"lingo_assess_backend/internal/util"
	"lingo_assess_backend/pkg/configwatcher"
	"lingo_assess_backend/pkg/database"
	"lingo_assess_backend/pkg/logger"
	"lingo_assess_backend/pkg/monitoring"
	"lingo_assess_backend/pkg/security"
	"lingo_assess_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigFile      string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)
	shutdownHooks   []func(context.Context) error
}

type repositories struct {
	user   *repository.UserRepository
	record *repository.AssessmentRecordRepository
	media  *repository.MediaUploadRepository
}

type services struct {
	auth         *service.AuthService
	availability *service.AvailabilityService
	aiScorer     *service.AIScorer
	scoring      *service.ScoringService
	assessment   *service.AssessmentService
	supervisor   *service.SupervisorService
	statistics   *service.StatisticsService
	storage      *service.StorageService
	media        *service.MediaService
}

type controllers struct {
	auth       *controller.AuthController
	assessment *controller.AssessmentController
	supervisor *controller.SupervisorController
	media      *controller.MediaController
	health     *controller.HealthController
}

// RegisterConfigCallback 配置文件热更新后依次调用
func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:   repository.NewUserRepository(db),
		record: repository.NewAssessmentRecordRepository(db),
		media:  repository.NewMediaUploadRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	aiScorer := service.NewAIScorer(cfg.AI)
	scoring := service.NewScoringService(aiScorer, cfg.Assessment.ScoringTimeout())
	availability := service.NewAvailabilityService(repos.record)
	guard := service.NewSubmissionGuard(rdb, cfg.Assessment.SubmissionLockTTL())
	storage := service.NewStorageService(&cfg.Storage)
	media := service.NewMediaService(storage, repos.media, cfg.Assessment.MaxMediaSize(), filepath.Join(cfg.Storage.LocalPath, "temp"))

	a.RegisterConfigCallback(func(newCfg *config.Config) {
		aiScorer.UpdateConfig(newCfg.AI)
		scoring.SetTimeout(newCfg.Assessment.ScoringTimeout())
	})

	return &services{
		auth:         service.NewAuthService(repos.user, cfg),
		availability: availability,
		aiScorer:     aiScorer,
		scoring:      scoring,
		assessment:   service.NewAssessmentService(repos.record, availability, scoring, guard, media),
		supervisor:   service.NewSupervisorService(repos.record, media),
		statistics:   service.NewStatisticsService(repos.record),
		storage:      storage,
		media:        media,
	}
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		assessment: controller.NewAssessmentController(s.assessment, s.statistics, a.Config.Assessment.HistoryPageSize),
		supervisor: controller.NewSupervisorController(s.supervisor),
		media:      controller.NewMediaController(s.media),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 只做依赖装配，不初始化日志、监控和追踪这些全局组件，rdb 可以为 nil
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, rdb)
	controllers := app.initControllers(app.services, db, rdb)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	return app
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}

	// 监控初始化
	monitoring.Init()

	app := New(cfg, db, rdb)
	app.ConfigFile = filepath.Join(configDir, "config.yaml")

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("lingo-assess", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.shutdownHooks = append(app.shutdownHooks, tp.Shutdown)
	}

	if rdb != nil {
		app.shutdownHooks = append(app.shutdownHooks, func(context.Context) error { return rdb.Close() })
	}

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if a.ConfigFile != "" {
		go func() {
			if err := configwatcher.WatchConfig(watchCtx, a.ConfigFile, a.applyConfig); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	stopWatch()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	for _, hook := range a.shutdownHooks {
		if err := hook(ctx); err != nil {
			logger.Log.Error("Shutdown hook failed", zap.Error(err))
		}
	}

	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Log.Info("Server exiting")
	_ = logger.Log.Sync()
}
