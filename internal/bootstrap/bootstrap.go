// Package bootstrap builds the configured adapters for the binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/keyvault/internal/adapter/notifier"
	"github.com/rl1809/keyvault/internal/adapter/queue"
	"github.com/rl1809/keyvault/internal/adapter/storage"
	"github.com/rl1809/keyvault/internal/config"
	"github.com/rl1809/keyvault/internal/port"
)

// Storage is a backend together with the connections it owns.
type Storage interface {
	port.Storage
	io.Closer
}

func OpenStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (Storage, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return storage.NewMemoryAdapter(), nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
		return storage.NewRedisAdapter(rdb), nil

	case config.BackendMySQL:
		dsn, err := storage.MySQLDSN(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		if cfg.RunMigrations {
			if err := storage.MigrateMySQL(db, log); err != nil {
				db.Close()
				return nil, err
			}
		}
		log.Info("connected to mysql")
		return storage.NewMySQLAdapter(db), nil

	case config.BackendPostgres:
		if cfg.RunMigrations {
			if err := storage.MigratePostgres(cfg.PostgresDSN, log); err != nil {
				return nil, err
			}
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		log.Info("connected to postgres")
		return storage.NewPostgresAdapter(pool), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func OpenQueue(ctx context.Context, cfg *config.Config, log *slog.Logger) (port.TaskQueue, error) {
	switch cfg.QueueBackend {
	case config.QueueMemory:
		return queue.NewMemoryQueue(cfg.QueueSize), nil

	case config.QueueNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("keyvault"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		q, err := queue.NewNATSQueue(ctx, nc, queue.NATSConfig{
			Stream:  cfg.NATSStream,
			Subject: cfg.NATSSubject,
		}, log)
		if err != nil {
			nc.Close()
			return nil, err
		}
		log.Info("connected to nats", slog.String("stream", cfg.NATSStream))
		return q, nil

	case config.QueueRabbitMQ:
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		q, err := queue.NewRabbitMQQueue(conn, cfg.RabbitMQQueue, log)
		if err != nil {
			conn.Close()
			return nil, err
		}
		log.Info("connected to rabbitmq", slog.String("queue", cfg.RabbitMQQueue))
		return q, nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func NewNotifier(cfg *config.Config, log *slog.Logger) (port.Notifier, error) {
	switch cfg.NotifierBackend {
	case config.NotifierLog:
		return notifier.NewLogNotifier(log), nil
	case config.NotifierSMTP:
		return notifier.NewSMTPMailer(notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		}), nil
	default:
		return nil, fmt.Errorf("unknown notifier backend %q", cfg.NotifierBackend)
	}
}
