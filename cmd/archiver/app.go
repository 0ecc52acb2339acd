package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/tg-archiver/internal/archiver"
	"github.com/blockedby/tg-archiver/internal/database"
	"github.com/blockedby/tg-archiver/internal/nats"
	"github.com/blockedby/tg-archiver/internal/progress"
	"github.com/blockedby/tg-archiver/internal/publisher"
	"github.com/blockedby/tg-archiver/internal/recorder"
	"github.com/blockedby/tg-archiver/internal/repository"
	"github.com/blockedby/tg-archiver/internal/storage"
	"github.com/blockedby/tg-archiver/internal/telegram"
)

var errNoCredentials = errors.New("TG_API_ID and TG_API_HASH are required")

// app holds the collaborators shared by the subcommands.
type app struct {
	db       *database.DB
	kv       repository.KVStore
	recorder *recorder.Recorder
	tg       *telegram.Manager
	client   *telegram.Client
	bus      *progress.Bus
	nc       *nats.Client
}

// openStore connects the database and the ledger store. Postgres
// deployments keep the ledger in a raw-sql table, sqlite in GORM.
func openStore(ctx context.Context) (*app, error) {
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &app{db: db}
	if db.Pool != nil {
		pg := repository.NewPgKV(db.Pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.kv = pg
	} else {
		kv, err := repository.NewGormKV(db.GORM)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.kv = kv
	}
	a.recorder = recorder.New(a.kv, log.Component("recorder"))
	return a, nil
}

// openApp extends openStore with the telegram client, the progress bus and,
// if NATS_URL is set, the event stream.
func openApp(ctx context.Context) (*app, error) {
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, errNoCredentials
	}

	a, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.tg = telegram.NewManager(cfg, a.db.GORM)
	if err := a.tg.Init(ctx); err != nil {
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	a.client = telegram.NewClient(a.tg, telegram.NewRateLimiter(cfg.TGRPS, 1))
	a.bus = progress.NewBus()

	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, event stream disabled")
		} else if err := nc.EnsureArchiveStream(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to create archive stream, event stream disabled")
			nc.Close()
		} else {
			a.nc = nc
			go publisher.NewNATSPublisher(nc.Conn).Forward(ctx, a.bus)
		}
	}
	return a, nil
}

// requireReady fails unless a stored session restored the client.
func (a *app) requireReady() error {
	if a.tg.GetStatus() != telegram.StatusReady {
		return fmt.Errorf("telegram is %s: run `archiver auth` first", a.tg.GetStatus())
	}
	return nil
}

func (a *app) service() *archiver.Service {
	return archiver.NewService(
		a.client,
		a.client,
		storage.NewOsFs(),
		a.recorder,
		a.bus,
		cfg.Downloader(),
		cfg.Policy(),
		log.Component("archiver"),
	)
}

func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	a.db.Close()
}
