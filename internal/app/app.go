package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/controller"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/service"
	"exam_portal_backend/internal/util"
	"exam_portal_backend/pkg/configwatcher"
	"exam_portal_backend/pkg/database"
	"exam_portal_backend/pkg/logger"
	"exam_portal_backend/pkg/monitoring"
	"exam_portal_backend/pkg/security"
	"exam_portal_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
	tracer   *sdktrace.TracerProvider

	mu              sync.Mutex
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user     *repository.UserRepository
	exam     *repository.ExamRepository
	question *repository.QuestionRepository
	attempt  *repository.AttemptRepository
	ranking  *repository.RankingRepository
}

type services struct {
	auth    *service.AuthService
	storage *service.StorageService
	exam    *service.ExamService
	attempt *service.AttemptService
	ranking *service.RankingService
	hub     *service.AttemptHub
}

type controllers struct {
	auth      *controller.AuthController
	exam      *controller.ExamController
	attempt   *controller.AttemptController
	adminExam *controller.AdminExamController
	health    *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig 把热更新后的配置交给已注册的回调
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	questions := repository.NewQuestionRepository(db)
	return &repositories{
		user:     repository.NewUserRepository(db),
		exam:     repository.NewExamRepository(db, questions),
		question: questions,
		attempt:  repository.NewAttemptRepository(db),
		ranking:  repository.NewRankingRepository(db),
	}
}

// attemptStores 选择备份存储和快照缓存；没有 Redis 时退回进程内实现
func attemptStores(cfg *config.Config, rdb *redis.Client) (attempt.BackupStore, attempt.SnapshotCache, service.SnapshotInvalidator) {
	var backup attempt.BackupStore
	if rdb != nil {
		backup = repository.NewBackupRepository(rdb, cfg.Attempt.BackupTTL)
	} else {
		logger.Log.Warn("Redis unavailable, answer backups are kept in process memory")
		backup = attempt.NewMemoryBackup()
	}

	if cfg.Attempt.CacheBackend == "redis" && rdb != nil {
		cache := repository.NewSnapshotCacheRepository(rdb, cfg.Attempt.CacheTTL)
		return backup, cache, cache
	}
	if cfg.Attempt.CacheBackend == "redis" {
		logger.Log.Warn("attempt.cache_backend is redis but Redis is unavailable, using memory cache")
	}
	cache := attempt.NewMemoryCache()
	return backup, cache, cache
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)

	backup, cache, invalidator := attemptStores(cfg, rdb)
	s.exam = service.NewExamService(repos.exam, repos.question, invalidator, s.storage)
	s.ranking = service.NewRankingService(repos.exam, repos.attempt, repos.ranking, repos.user, s.storage)

	s.hub = service.NewAttemptHub(rdb)
	go s.hub.Run()

	s.attempt = service.NewAttemptService(service.AttemptDeps{
		Exams:    repos.exam,
		Attempts: repos.attempt,
		Backup:   backup,
		Cache:    cache,
		Hub:      s.hub,
	}, cfg.Attempt.Policy())

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:      controller.NewAuthController(s.auth, s.attempt),
		exam:      controller.NewExamController(s.exam, s.attempt, s.ranking),
		attempt:   controller.NewAttemptController(s.attempt, s.hub),
		adminExam: controller.NewAdminExamController(s.exam, s.ranking, s.hub),
		health:    controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, window, "/metrics", "/api/health"))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// Build 在已连接的数据库和可选的 Redis 上组装应用，测试直接使用
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg, repos.user)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	// 只有 attempt 段支持热更新
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		services.attempt.UpdatePolicy(newCfg.Attempt.Policy())
	})

	return app
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	migrate := cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode
	db, err := database.InitDB(&cfg.Database, migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Warn("Failed to initialize redis, continuing without it", zap.Error(err))
		rdb = nil
	}

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err = tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app := Build(cfg, db, rdb)
	app.tracer = tp
	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if a.Config.ConfigFile != "" {
		go func() {
			if err := configwatcher.WatchConfig(watchCtx, a.Config.ConfigFile, a.ApplyConfig); err != nil {
				logger.Log.Error("Config hot reload disabled", zap.Error(err))
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

	// 关闭实时推送连接
	if a.services != nil && a.services.hub != nil {
		a.services.hub.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	logger.Log.Info("Server exiting")
}
