package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rendau/httpc/adapters/cache"
	"github.com/rendau/httpc/adapters/cache/mem"
	"github.com/rendau/httpc/adapters/cache/redis"
	"github.com/rendau/httpc/adapters/db/pg"
	"github.com/rendau/httpc/adapters/journal"
	journalBolt "github.com/rendau/httpc/adapters/journal/bolt"
	journalPg "github.com/rendau/httpc/adapters/journal/pg"
	"github.com/rendau/httpc/adapters/logger/zap"
	"github.com/rendau/httpc/internal/config"
)

func newCache(cfg *config.Config, lg *zap.St) (cache.Cache, error) {
	switch cfg.ResolverCache {
	case "", "none":
		return cache.None{}, nil
	case "mem":
		return mem.New(), nil
	case "redis":
		return redis.New(lg, redis.OptionsSt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDb,
			Prefix:   "httpc:",
			Timeout:  3 * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown resolver cache %q", cfg.ResolverCache)
	}
}

type pgJournalSt struct {
	*journalPg.St
	db *pg.St
}

func (j pgJournalSt) Close() error {
	j.db.Close()
	return nil
}

func newJournal(ctx context.Context, cfg *config.Config, lg *zap.St) (journal.Journal, error) {
	switch cfg.JournalType {
	case "", journal.TypeNone:
		return journal.None{}, nil
	case journal.TypeBbolt:
		jr, err := journalBolt.New(lg, cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		return jr, nil
	case journal.TypePg:
		db, err := pg.New(ctx, cfg.LogLevel == "debug", lg, pg.OptionsSt{
			Dsn: cfg.JournalDsn,
		})
		if err != nil {
			return nil, err
		}

		jr, err := journalPg.New(ctx, lg, db)
		if err != nil {
			db.Close()
			return nil, err
		}

		return pgJournalSt{St: jr, db: db}, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.JournalType)
	}
}
