package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	match "github.com/venuecore/matching-engine"
	"github.com/venuecore/matching-engine/sequence"
	"github.com/venuecore/matching-engine/storage"
	"github.com/venuecore/matching-engine/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("matchd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel()}))
	slog.SetDefault(logger)
	match.SetLogger(logger)

	ids, err := sequence.NewSnowflake(cfg.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("init id source: %w", err)
	}

	db, err := gorm.Open(mysql.Open(cfg.MySQLDSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	store := storage.NewMySQLStore(db)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	book, cleanup, err := buildBookStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	notifier := transport.NewKafkaNotifier(cfg.KafkaBrokers, transport.Topics{})
	defer notifier.Close()

	engine := match.NewEngine(book, ids, notifier)

	batcher := match.NewBatcher(store,
		match.WithBatchSize(cfg.BatchSize),
		match.WithFlushInterval(cfg.FlushInterval),
	)
	go func() {
		if err := batcher.Start(); err != nil {
			logger.Error("batcher loop failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orderConsumer := transport.NewOrderConsumer(cfg.KafkaBrokers, "", cfg.OrderGroup, engine, logger)
	matchedConsumer := transport.NewMatchedConsumer(cfg.KafkaBrokers, "", batcher, logger)
	keepAlive := transport.NewCandleKeepAlive(notifier, cfg.Symbols, cfg.CandleInterval, logger)

	errc := make(chan error, 2)
	go func() { errc <- orderConsumer.Run(ctx) }()
	go func() { errc <- matchedConsumer.Run(ctx) }()
	go keepAlive.Run(ctx)

	logger.Info("matchd started",
		"symbols", cfg.Symbols,
		"book", cfg.BookBackend,
		"brokers", cfg.KafkaBrokers,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			logger.Error("consumer failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if err := batcher.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("batcher stop: %w", err))
	}
	return errors.Join(errs...)
}

type config struct {
	KafkaBrokers    []string
	OrderGroup      string
	MySQLDSN        string
	RedisAddr       string
	BookBackend     string
	Symbols         []string
	BatchSize       int
	FlushInterval   time.Duration
	CandleInterval  time.Duration
	ShutdownTimeout time.Duration
	SnowflakeNode   int64
	LogLevel        string
}

func (c *config) logLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigName("matchd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/matchd")
	v.SetEnvPrefix("MATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.order_group", "order_group")
	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/exchange?charset=utf8mb4&parseTime=True&loc=UTC")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("book.backend", "memory")
	v.SetDefault("symbols", []string{"BTCUSDT"})
	v.SetDefault("batch.size", match.DefaultBatchSize)
	v.SetDefault("batch.flush_interval", match.DefaultFlushInterval)
	v.SetDefault("candle.keepalive_interval", time.Minute)
	v.SetDefault("shutdown.timeout", 30*time.Second)
	v.SetDefault("snowflake.node", 1)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &config{
		KafkaBrokers:    v.GetStringSlice("kafka.brokers"),
		OrderGroup:      v.GetString("kafka.order_group"),
		MySQLDSN:        v.GetString("mysql.dsn"),
		RedisAddr:       v.GetString("redis.addr"),
		BookBackend:     v.GetString("book.backend"),
		Symbols:         v.GetStringSlice("symbols"),
		BatchSize:       v.GetInt("batch.size"),
		FlushInterval:   v.GetDuration("batch.flush_interval"),
		CandleInterval:  v.GetDuration("candle.keepalive_interval"),
		ShutdownTimeout: v.GetDuration("shutdown.timeout"),
		SnowflakeNode:   v.GetInt64("snowflake.node"),
		LogLevel:        v.GetString("log.level"),
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("config: at least one kafka broker required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("config: at least one symbol required")
	}
	return cfg, nil
}

func buildBookStore(cfg *config) (match.BookStore, func(), error) {
	switch strings.ToLower(cfg.BookBackend) {
	case "memory":
		return match.NewMemoryBookStore(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return storage.NewRedisBookStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown book backend %q", cfg.BookBackend)
	}
}
