// 交易所撮合主程序
// 功能：下单撤单、按市场串行撮合、成交结算、充值提现与账本查询
// 架构：DDD + Gin + Kafka；每个市场一个撮合 goroutine，订单簿从数据库恢复
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	accountapp "github.com/wyfcoding/spotexchange/internal/account/application"
	accountdb "github.com/wyfcoding/spotexchange/internal/account/infrastructure/persistence/mysql"
	"github.com/wyfcoding/spotexchange/internal/account/infrastructure/messaging"
	accounthttp "github.com/wyfcoding/spotexchange/internal/account/interfaces/http"
	matchingapp "github.com/wyfcoding/spotexchange/internal/matchingengine/application"
	matching "github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	depthcache "github.com/wyfcoding/spotexchange/internal/matchingengine/infrastructure/persistence/redis"
	matchinghttp "github.com/wyfcoding/spotexchange/internal/matchingengine/interfaces/http"
	orderapp "github.com/wyfcoding/spotexchange/internal/order/application"
	orderdb "github.com/wyfcoding/spotexchange/internal/order/infrastructure/persistence/mysql"
	orderhttp "github.com/wyfcoding/spotexchange/internal/order/interfaces/http"
	"github.com/wyfcoding/spotexchange/internal/referencedata/infrastructure/persistence/memory"
	settlementapp "github.com/wyfcoding/spotexchange/internal/settlement/application"
	tradedb "github.com/wyfcoding/spotexchange/internal/settlement/infrastructure/persistence/mysql"
	settlementhttp "github.com/wyfcoding/spotexchange/internal/settlement/interfaces/http"
	"github.com/wyfcoding/spotexchange/pkg/cache"
	"github.com/wyfcoding/spotexchange/pkg/config"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/metrics"
	"github.com/wyfcoding/spotexchange/pkg/middleware"
	"github.com/wyfcoding/spotexchange/pkg/mq"
	"github.com/wyfcoding/spotexchange/pkg/ratelimit"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/matchingengine/config.toml", "path to config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(loggerConfig(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	logger.Info(ctx, "Starting matching engine", "service", cfg.ServiceName, "environment", cfg.Environment)

	// 3. 持续剖析
	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.ServiceName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            map[string]string{"env": cfg.Environment},
			Logger:          logger.Printf{L: logger.Module("pyroscope")},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			logger.Error(ctx, "Failed to start profiler", "error", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	// 4. 初始化数据库
	database, err := db.Init(databaseConfig(cfg))
	if err != nil {
		fatal(ctx, "Failed to initialize database", err)
	}
	defer database.Close()
	if cfg.Database.AutoMigrate {
		models := append(accountdb.Models(), orderdb.Models()...)
		models = append(models, tradedb.Models()...)
		if err := database.AutoMigrate(models...); err != nil {
			fatal(ctx, "Failed to migrate database", err)
		}
	}

	// 5. 币种与市场参数
	refs, err := memory.NewFromConfig(cfg.Currencies, cfg.Markets)
	if err != nil {
		fatal(ctx, "Failed to load reference data", err)
	}

	// 6. Redis：深度快照缓存与下单限流，可选
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			fatal(ctx, "Failed to initialize Redis", err)
		}
		defer redisCache.Close()
	}

	// 7. 事件发布
	var publisher mq.Publisher = mq.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := mq.NewProducer(kafkaConfig(cfg))
		defer producer.Close()
		publisher = producer
	}

	// 8. 指标
	m := metrics.New(cfg.ServiceName)
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		fatal(ctx, "Failed to register metrics", err)
	}

	// 9. 仓储与应用服务
	orders := orderdb.NewOrderRepository(database.DB)
	ledger := accountapp.NewLedgerService(database, accountdb.NewAccountRepository(database.DB), accountdb.NewOperationRepository(database.DB))
	withdraws := accountapp.NewWithdrawService(database, ledger, accountdb.NewWithdrawRepository(database.DB), refs, publisher,
		messaging.NewPayoutDispatcher(publisher, ""), m)
	deposits := accountapp.NewDepositService(database, ledger, accountdb.NewDepositRepository(database.DB), refs, publisher)
	settlement := settlementapp.NewSettlementService(database, ledger, orders, tradedb.NewTradeRepository(database.DB), refs, publisher, m)

	fuse := matching.DefaultFuse
	if cfg.Matching.Fuse != "" {
		if fuse, err = decimal.NewFromString(cfg.Matching.Fuse); err != nil {
			fatal(ctx, "Invalid matching fuse", err)
		}
	}
	var depths matching.DepthRepository
	if redisCache != nil {
		depths = depthcache.NewDepthRepository(redisCache, time.Duration(cfg.Matching.DepthTTL)*time.Second)
	}
	registry := matchingapp.NewRegistry(refs, orders, settlement, depths, m, matchingapp.Options{
		QueueSize:   cfg.Matching.QueueSize,
		Fuse:        fuse,
		Fresh:       cfg.Matching.Fresh,
		DepthLevels: cfg.Matching.DepthLevels,
	})
	orderService := orderapp.NewOrderService(database, ledger, orders, refs, registry, publisher)

	// 10. HTTP 服务
	var guards []gin.HandlerFunc
	if cfg.RateLimit.Enabled && redisCache != nil {
		guards = append(guards, middleware.RateLimitMiddleware(ratelimit.NewRedisRateLimiter(redisCache.Client()), cfg.RateLimit.QPS, cfg.RateLimit.Burst))
	}
	router := gin.New()
	router.Use(middleware.GinLoggingMiddleware(), middleware.GinRecoveryMiddleware(), middleware.GinCORSMiddleware())
	accounthttp.NewAccountHandler(ledger, withdraws, deposits).RegisterRoutes(router)
	orderhttp.NewOrderHandler(orderService).RegisterRoutes(router, guards...)
	settlementhttp.NewTradeHandler(settlement).RegisterRoutes(router)
	matchinghttp.NewMatchingHandler(registry, cfg.Matching.DumpDir).RegisterRoutes(router)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"engines":   registry.Running(),
			"timestamp": time.Now().Unix(),
		})
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info(ctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(ctx, "HTTP server error", err)
		}
	}()

	// 11. 信号：USR1 导出全部订单簿，HUP 重建全部引擎，INT/TERM 退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGHUP)
	for sig := range sigChan {
		switch sig {
		case syscall.SIGUSR1:
			paths, err := registry.DumpAll(ctx, cfg.Matching.DumpDir)
			if err != nil {
				logger.Error(ctx, "Failed to dump order books", "error", err)
				continue
			}
			logger.Info(ctx, "Order books dumped", "files", paths)
			continue
		case syscall.SIGHUP:
			if err := registry.Reload(ctx, matchingapp.ReloadAll); err != nil {
				logger.Error(ctx, "Failed to reload engines", "error", err)
				continue
			}
			logger.Info(ctx, "Engines reloaded", "markets", registry.Running())
			continue
		}
		break
	}

	// 12. 优雅关停：先停止接收请求，再等待撮合队列清空
	logger.Info(ctx, "Shutting down matching engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", "error", err)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error(ctx, "Matching registry shutdown error", "error", err)
	}
	logger.Info(ctx, "Matching engine stopped")
}

func loggerConfig(cfg *config.Config) logger.Config {
	return logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
}

func databaseConfig(cfg *config.Config) db.Config {
	return db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	}
}

func kafkaConfig(cfg *config.Config) mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
}

func fatal(ctx context.Context, msg string, err error) {
	logger.Error(ctx, msg, "error", err)
	os.Exit(1)
}
