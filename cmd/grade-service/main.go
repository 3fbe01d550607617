package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/grade/controller"
	"judgeflow/internal/grade/evaluator"
	"judgeflow/internal/grade/metrics"
	"judgeflow/internal/grade/repository"
	"judgeflow/internal/grade/sandbox"
	"judgeflow/internal/grade/scoring"
	"judgeflow/internal/grade/service"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath  = "configs/grade_service.yaml"
	healthCheckTimeout = 2 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewManager(mysqlDB)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var events repository.EventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		events = repository.NewMQEventPublisher(producer, appCfg.Grade.EventTopic)
	} else {
		logger.Warn(context.Background(), "kafka brokers not configured, submission events disabled")
	}

	var archive service.SourceArchiver
	if appCfg.Grade.ArchiveSource {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		sourceArchive, err := repository.NewSourceArchive(objStorage, appCfg.Grade.SourceBucket, appCfg.Grade.SourceKeyPrefix)
		if err != nil {
			logger.Error(context.Background(), "init source archive failed", zap.Error(err))
			return
		}
		archive = sourceArchive
	}

	collector := metrics.NewCollector()
	sandboxClient, err := sandbox.NewClient(appCfg.Sandbox, sandbox.WithObserver(collector))
	if err != nil {
		logger.Error(context.Background(), "init sandbox client failed", zap.Error(err))
		return
	}
	evaluatorClient, err := evaluator.NewClient(appCfg.Evaluator, nil)
	if err != nil {
		logger.Error(context.Background(), "init evaluator client failed", zap.Error(err))
		return
	}

	progressStore := repository.NewProgressStore(dbProvider, redisCache, appCfg.Grade.SolvedCacheTTL)
	gradeService, err := service.NewGradeService(service.Config{
		Problems:    repository.NewProblemRepository(dbProvider, redisCache, appCfg.Grade.ProblemCacheTTL, appCfg.Grade.ProblemEmptyTTL),
		Submissions: repository.NewSubmissionRepository(dbProvider, redisCache, appCfg.Grade.SubmissionCacheTTL),
		Progress:    progressStore,
		Awarder:     scoring.NewEngine(progressStore),
		Sandbox:     sandboxClient,
		Evaluator:   evaluatorClient,
		Events:      events,
		Archive:     archive,
		Cache:       redisCache,
		Recorder:    collector,

		Parallelism:     appCfg.Grade.Parallelism,
		GradeTimeout:    appCfg.Grade.GradeTimeout,
		FinalizeTimeout: appCfg.Grade.FinalizeTimeout,
		MaxCodeBytes:    appCfg.Grade.MaxCodeBytes,
		IdempotencyTTL:  appCfg.Grade.IdempotencyTTL,
		Timeouts: service.TimeoutConfig{
			DB:      appCfg.Grade.Timeouts.DB,
			Cache:   appCfg.Grade.Timeouts.Cache,
			MQ:      appCfg.Grade.Timeouts.MQ,
			Storage: appCfg.Grade.Timeouts.Storage,
		},
	})
	if err != nil {
		logger.Error(context.Background(), "init grade service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, gradeService, collector, mysqlDB, redisCache)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "grade http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(cfg ServerConfig, gradeService *service.GradeService, collector *metrics.Collector, deps ...pinger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())
	router.Use(collector.Middleware())

	router.GET("/metrics", collector.Handler())
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		for _, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				response.ErrorWithCode(c, appErr.ServiceUnavailable, "dependency unavailable")
				return
			}
		}
		response.Success(c, gin.H{"status": "ok"})
	})

	controller.NewGradeController(gradeService).Register(router.Group("/api/v1"))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
