package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ParaWallet-Chain/internal/agent"
	"ParaWallet-Chain/internal/api"
	"ParaWallet-Chain/internal/auth"
	"ParaWallet-Chain/internal/config"
	"ParaWallet-Chain/internal/custody/para"
	"ParaWallet-Chain/internal/dispatch"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/events"
	"ParaWallet-Chain/internal/observability/metrics"
	"ParaWallet-Chain/internal/session"
	"ParaWallet-Chain/internal/storage"
	"ParaWallet-Chain/internal/storage/mysql"
	"ParaWallet-Chain/internal/storage/redis"
	"ParaWallet-Chain/internal/web3/provider"
	"ParaWallet-Chain/pkg/logger"
)

// main 是钱包守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("walletd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	appLog := logger.Named("walletd")

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	guard, err := openGuard(ctx, cfg)
	if err != nil {
		_ = journal.Close()
		return err
	}
	publisher, err := openPublisher(cfg)
	if err != nil {
		_ = journal.Close()
		if guard != nil {
			_ = guard.Close()
		}
		return err
	}

	sessions := session.NewManager(para.Connector(para.Config{
		BaseURL:   cfg.Para.BaseURL,
		Timeout:   cfg.Para.Timeout.Std(),
		SkipProbe: cfg.Para.SkipProbe,
	}))

	opts := []agent.Option{
		agent.WithJournal(journal),
		agent.WithPublisher(publisher),
		agent.WithDispatchOptions(
			dispatch.WithRegistry(registry),
			dispatch.WithDialer(dispatch.EthereumDialer{PollInterval: cfg.Chains.PollInterval.Std()}),
		),
	}
	if guard != nil {
		opts = append(opts, agent.WithSubmissionGuard(guard))
	}
	svc := agent.New(sessions, opts...)
	defer func() {
		if err := svc.Close(); err != nil {
			appLog.Warn("关闭服务失败", slog.Any("error", err))
		}
	}()

	started := func() {
		appLog.Info("para session started",
			slog.String("environment", string(svc.Environment())),
			slog.String("api_key", logger.Redact(cfg.Para.APIKey)),
			slog.Int("chains", len(registry.Chains())))
	}
	creds := cfg.Para.Credentials()
	switch err := svc.Start(ctx, creds); {
	case err == nil:
		started()
	case xerrors.HasCode(err, xerrors.CodeBackendUnavailable) && xerrors.RetryableError(err):
		// 托管服务暂不可用时仍然对外服务，请求返回 NOT_INITIALIZED 直到会话建立。
		appLog.Warn("托管服务暂不可用，后台重试建立会话",
			slog.Duration("retry_interval", cfg.Para.RetryInterval.Std()),
			slog.Any("error", err))
		go func() {
			err := svc.KeepStarting(ctx, creds, cfg.Para.RetryInterval.Std())
			switch {
			case err == nil:
				started()
			case !errors.Is(err, context.Canceled):
				appLog.Error("建立托管会话失败", slog.Any("error", err))
			}
		}()
	default:
		return err
	}

	authSvc, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}

	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddr); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("metrics 服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, svc, api.WithAuth(authSvc))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadRegistry(cfg *config.Config) (*provider.Registry, error) {
	if cfg.Chains.RegistryPath == "" {
		return provider.Default(), nil
	}
	return provider.Load(cfg.Chains.RegistryPath)
}

func openJournal(ctx context.Context, cfg *config.Config) (storage.ActivityRepository, error) {
	switch cfg.Journal.Driver {
	case config.DriverMySQL:
		return mysql.NewSQLActivityRepository(ctx, mysql.Config{
			DSN:             cfg.Journal.MySQL.DSN,
			MaxOpenConns:    cfg.Journal.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Journal.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Journal.MySQL.ConnMaxLifetime.Std(),
		})
	case config.DriverRedis:
		return redis.NewActivityRepository(ctx, redisConfig(cfg.Journal.Redis), cfg.Journal.Capacity)
	default:
		return mysql.NewMemoryActivityRepository(cfg.Runtime.DataDir)
	}
}

func openGuard(ctx context.Context, cfg *config.Config) (storage.SubmissionGuard, error) {
	switch cfg.Guard.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverRedis:
		return redis.NewSubmissionGuard(ctx, redisConfig(cfg.Guard.Redis), cfg.Guard.TTL.Std())
	default:
		return storage.NewMemorySubmissionGuard(cfg.Guard.TTL.Std()), nil
	}
}

func openPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.DriverNone:
		return events.Noop{}, nil
	case config.DriverRabbitMQ:
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Exchange: cfg.Events.RabbitMQ.Exchange,
			Durable:  cfg.Events.RabbitMQ.Durable,
		})
	default:
		return events.LogPublisher{Logger: logger.Named("events")}, nil
	}
}

func redisConfig(c config.RedisConfig) redis.Config {
	return redis.Config{
		Address:  c.Address,
		Password: c.Password,
		DB:       c.DB,
		Prefix:   c.Prefix,
	}
}
