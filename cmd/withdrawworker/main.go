// 提现出款结果消费者
// 功能：消费钱包服务回传的出款结果，推进提现状态并结算冻结资金
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	accountapp "github.com/wyfcoding/spotexchange/internal/account/application"
	accountdb "github.com/wyfcoding/spotexchange/internal/account/infrastructure/persistence/mysql"
	"github.com/wyfcoding/spotexchange/internal/account/infrastructure/messaging"
	"github.com/wyfcoding/spotexchange/internal/account/interfaces/consumer"
	"github.com/wyfcoding/spotexchange/internal/referencedata/infrastructure/persistence/memory"
	"github.com/wyfcoding/spotexchange/pkg/config"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/metrics"
	"github.com/wyfcoding/spotexchange/pkg/mq"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/withdrawworker/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Kafka.Enabled {
		fmt.Fprintln(os.Stderr, "kafka must be enabled for the withdraw worker")
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info(ctx, "Starting withdraw worker", "service", cfg.ServiceName, "topic", cfg.Kafka.PayoutTopic)

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Error(ctx, "Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	refs, err := memory.NewFromConfig(cfg.Currencies, cfg.Markets)
	if err != nil {
		logger.Error(ctx, "Failed to load reference data", "error", err)
		os.Exit(1)
	}

	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(kafkaCfg)
	defer producer.Close()

	m := metrics.New(cfg.ServiceName)
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error(ctx, "Failed to register metrics", "error", err)
		os.Exit(1)
	}

	ledger := accountapp.NewLedgerService(database, accountdb.NewAccountRepository(database.DB), accountdb.NewOperationRepository(database.DB))
	withdraws := accountapp.NewWithdrawService(database, ledger, accountdb.NewWithdrawRepository(database.DB), refs, producer,
		messaging.NewPayoutDispatcher(producer, ""), m)
	handler := consumer.NewPayoutResultHandler(withdraws, logger.Module("payout"))

	c := mq.NewConsumer(kafkaCfg, cfg.Kafka.PayoutTopic)
	defer c.Close()
	if err := c.Run(ctx, handler.Handle); err != nil {
		logger.Error(ctx, "Payout consumer stopped", "error", err)
		return
	}
	logger.Info(ctx, "Withdraw worker stopped")
}
