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

	"rejudge/internal/common/cache"
	"rejudge/internal/common/db"
	commonmw "rejudge/internal/common/http/middleware"
	"rejudge/internal/common/mq"
	"rejudge/internal/common/storage"
	"rejudge/internal/rejudge/controller"
	"rejudge/internal/rejudge/repository"
	"rejudge/internal/rejudge/service"
	"rejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/rejudge_service.yaml"

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

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), appCfg.Kafka.DialTimeout+time.Second)
	if err := mqClient.Ping(pingCtx); err != nil {
		logger.Warn(context.Background(), "kafka broker unreachable at startup", zap.Error(err))
	}
	pingCancel()

	// Report archiving is optional; without an endpoint rejudgings are still served live.
	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		if err := minioStorage.EnsureBucket(context.Background(), appCfg.Rejudge.Archive.Bucket); err != nil {
			logger.Error(context.Background(), "ensure archive bucket failed", zap.Error(err))
			return
		}
		objStorage = minioStorage
	}

	repeatDecision, _ := service.ParseRepeatDecision(appCfg.Rejudge.RepeatDecision)
	rejudgeService, err := service.NewRejudgeService(service.Config{
		Store:    repository.NewMySQLStore(mysqlDB),
		Producer: mqClient,
		Cache:    redisCache,
		Storage:  objStorage,
		Topics: service.TopicConfig{
			High:    appCfg.Topics.High,
			Default: appCfg.Topics.Default,
			Low:     appCfg.Topics.Low,
		},
		Archive:        appCfg.Rejudge.Archive,
		KnownVerdicts:  appCfg.Rejudge.KnownVerdicts,
		MaxListLen:     appCfg.Rejudge.MaxListLen,
		LockTTL:        appCfg.Rejudge.LockTTL,
		ReportCacheTTL: appCfg.Rejudge.ReportCacheTTL,
		RepeatDecision: repeatDecision,
		RunLoaders:     appCfg.Rejudge.RunLoaders,
		Timeouts:       appCfg.Rejudge.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init rejudge service failed", zap.Error(err))
		return
	}

	consumerOpts := appCfg.Rejudge.Consumer.toSubscribeOptions()
	if err := mqClient.SubscribeWithOptions(context.Background(), appCfg.Topics.JudgingFinished, rejudgeService.HandleJudgingFinished, &consumerOpts); err != nil {
		logger.Error(context.Background(), "subscribe judging finished topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		runSweeper(shutdownCtx, rejudgeService, appCfg.Rejudge.SweepInterval)
	}()

	httpServer := buildHTTPServer(appCfg.Server, rejudgeService)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "rejudge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
	<-sweepDone
}

// runSweeper periodically re-evaluates open rejudgings so that a missed
// judging finished event cannot leave one stuck.
func runSweeper(ctx context.Context, rejudgeService *service.RejudgeService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rejudgeService.Sweep(ctx); err != nil {
				logger.Warn(ctx, "rejudging sweep failed", zap.Error(err))
			}
		}
	}
}

func buildHTTPServer(cfg ServerConfig, rejudgeService *service.RejudgeService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	rejudgingController := controller.NewRejudgingController(rejudgeService)
	rejudgingController.Register(router.Group("/api/v1/rejudgings"))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
