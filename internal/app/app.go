// Package app builds the dependencies shared by the server and worker
// processes from a Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podushkina/moderation/internal/catalog"
	"github.com/podushkina/moderation/internal/classifier"
	"github.com/podushkina/moderation/internal/config"
	"github.com/podushkina/moderation/internal/migrations"
	"github.com/podushkina/moderation/internal/queue"
	"github.com/podushkina/moderation/internal/retry"
	"github.com/podushkina/moderation/internal/store"
)

type App struct {
	DB       *pgxpool.Pool
	Store    store.Store
	Catalog  catalog.Repository
	Channel  queue.Channel
	Producer *queue.Producer
}

// Open connects to Postgres, applies migrations, and opens the task store and
// message channel selected by cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(pctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	if err := migrations.Apply(pctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("migrations applied")

	a := &App{DB: db, Catalog: catalog.NewPostgres(db)}

	a.Store, err = NewStore(cfg, db)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("task store ready", "backend", cfg.TaskStore)

	a.Channel, err = NewChannel(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("message channel ready", "broker", cfg.Broker, "work_topic", cfg.WorkTopic, "dlq_topic", cfg.DeadLetterTopic)

	a.Producer = queue.NewProducer(a.Channel, cfg.WorkTopic, cfg.DeadLetterTopic)
	return a, nil
}

func (a *App) Close() {
	if a.Channel != nil {
		a.Channel.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func NewStore(cfg *config.Config, db *pgxpool.Pool) (store.Store, error) {
	switch cfg.TaskStore {
	case config.StoreRedis:
		s, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("open redis task store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		return store.NewPostgres(db), nil
	default:
		return nil, fmt.Errorf("unknown task store %q", cfg.TaskStore)
	}
}

func NewChannel(cfg *config.Config) (queue.Channel, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		ch, err := queue.NewRedisStreams(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, queue.RedisOptions{
			Group:     cfg.ConsumerGroup,
			Consumer:  cfg.WorkerID,
			ClaimIdle: cfg.ClaimIdle,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis streams: %w", err)
		}
		return ch, nil
	case config.BrokerKafka:
		return queue.NewKafka(cfg.KafkaBrokers, cfg.ConsumerGroup), nil
	case config.BrokerNATS:
		ch, err := queue.NewJetStream(cfg.NATSURL, cfg.ConsumerGroup, cfg.ClaimIdle)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

func NewPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Backoff:    retry.Backoff(cfg.RetryBackoff),
		MaxDelay:   cfg.RetryMaxDelay,
	}
}

func NewClassifier(cfg *config.Config) (classifier.Classifier, error) {
	if cfg.ModelWeights == "" {
		return classifier.DefaultModel(), nil
	}
	m, err := classifier.ParseLogistic(cfg.ModelWeights)
	if err != nil {
		return nil, fmt.Errorf("MODEL_WEIGHTS: %w", err)
	}
	return m, nil
}
