// Package app wires configuration into a ready engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"signupsheet/internal/config"
	"signupsheet/internal/db"
	"signupsheet/internal/engine"
	"signupsheet/internal/events"
	"signupsheet/internal/lock"
	"signupsheet/internal/logging"
	"signupsheet/internal/migrate"
	"signupsheet/internal/repo"
)

// App holds the opened database and the engine built on it.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *logging.Logger

	closers []func() error
}

// Open opens the workspace database, applies migrations and builds the
// engine with the locker and logger the config selects.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.Build(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	a := &App{Workspace: workspace, Config: cfg, Logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: cfg.DB.BusyTimeoutMS})
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eng := engine.New(conn)
	eng.Logger = logger
	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	eng.Locker = locker
	a.Engine = eng
	return a, nil
}

func (a *App) locker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Lock.Backend != config.LockRedis {
		return lock.NewLocal(), nil
	}
	rc := a.Config.Lock.Redis
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis lock backend %s: %w", rc.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	return lock.NewRedis(client, rc.Prefix, a.Config.Lock.TTL, 0), nil
}

// Relay builds the Kafka event relay, or returns nil when Kafka is disabled.
func (a *App) Relay() (*events.Relay, error) {
	k := a.Config.Kafka
	if !k.Enabled {
		return nil, nil
	}
	pub, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)
	return &events.Relay{
		Source:    repo.Repo{DB: a.DB},
		Publisher: pub,
		Logger:    a.Logger,
		Interval:  k.PollInterval,
		FromStart: k.FromStart,
		Filter:    k.Events,
	}, nil
}

// Close releases everything Open and Relay acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
