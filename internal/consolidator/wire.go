package consolidator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/lead-consolidator/internal/config"
	"github.com/ignite/lead-consolidator/internal/metrics"
	"github.com/ignite/lead-consolidator/internal/pkg/distlock"
	"github.com/ignite/lead-consolidator/internal/pkg/logger"
	"github.com/ignite/lead-consolidator/internal/runlog"
	"github.com/ignite/lead-consolidator/internal/storage"
)

// runRetention is how long DynamoDB keeps run items.
const runRetention = 90 * 24 * time.Hour

// FromConfig connects every backend cfg asks for and returns a ready
// Runner. The returned close function releases those connections.
func FromConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Runner, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	var db *sql.DB
	if cfg.Runlog.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Runlog.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
		closers = append(closers, func() { db.Close() })
		if err := db.PingContext(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Lock.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Lock.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		closers = append(closers, func() { redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, falling back to postgres advisory lock", "error", err)
			redisClient.Close()
			closers = closers[:len(closers)-1]
			redisClient = nil
		}
	}

	recorder, err := newRecorder(ctx, cfg, db)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	runner := NewRunner(cfg, Deps{
		Store:    store,
		Lock:     distlock.NewLock(redisClient, db, cfg.Lock.Key, cfg.Lock.TTL()),
		Recorder: recorder,
		Metrics:  metrics.New("lead_consolidator"),
		Logger:   log,
	})
	return runner, closeAll, nil
}

func newRecorder(ctx context.Context, cfg *config.Config, db *sql.DB) (runlog.Recorder, error) {
	switch cfg.Runlog.Driver {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("runlog driver postgres needs runlog.database_url or DATABASE_URL")
		}
		rec := runlog.NewPostgresRecorder(db)
		if err := rec.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return rec, nil
	case "dynamodb":
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return runlog.NewDynamoRecorder(runlog.NewDynamoClient(awsCfg), cfg.Runlog.DynamoDBTable, runRetention), nil
	default:
		return runlog.Nop{}, nil
	}
}
