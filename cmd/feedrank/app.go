package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/feedrank/config"
	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/engine"
	"github.com/rushteam/feedrank/feature"
	"github.com/rushteam/feedrank/learning"
	"github.com/rushteam/feedrank/pkg/logging"
	"github.com/rushteam/feedrank/profile"
	"github.com/rushteam/feedrank/recall"
	"github.com/rushteam/feedrank/store"
)

// app 持有一次命令执行所需的全部依赖，启动时构造一次。
type app struct {
	cfg      *config.Config
	ext      core.ExternalStore
	cache    *store.TTLCache
	profiles *profile.Store
	catalog  *recall.Catalog
	engine   *engine.Engine
	loop     *learning.Loop
}

func newApp(ctx context.Context, cfg *config.Config, fixture string) (*app, error) {
	logging.Init(cfg.Log)

	ext, err := store.NewExternalStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if fixture != "" {
		stats, err := store.LoadFixture(ctx, ext, fixture, cfg.Store.Tables)
		if err != nil {
			_ = ext.Close()
			return nil, err
		}
		logging.Info().Interface("loaded", stats).Str("fixture", fixture).Msg("fixture applied")
	}

	cache := store.NewTTLCache(cfg.Cache.TTL)
	profiles, err := profile.New(ext, cache,
		profile.WithTables(cfg.Store.Tables),
		profile.WithBuilder(feature.NewBuilder(feature.WithDim(cfg.Embedding.Dim))),
	)
	if err != nil {
		_ = ext.Close()
		return nil, err
	}
	catalog, err := recall.NewCatalog(ext, cache,
		recall.WithCatalogTables(cfg.Store.Tables),
		recall.WithLimits(cfg.Catalog.PostsLimit, cfg.Catalog.VideosLimit),
		recall.WithFollowsLimit(cfg.Catalog.FollowsLimit),
	)
	if err != nil {
		_ = ext.Close()
		return nil, err
	}
	eng, err := engine.New(profiles, catalog,
		engine.WithLimits(cfg.Ranking.DefaultLimit, cfg.Ranking.MaxLimit),
		engine.WithCandidateFilter(cfg.Ranking.CandidateFilter),
		engine.WithRecallTimeout(5*time.Second),
	)
	if err != nil {
		_ = ext.Close()
		return nil, err
	}
	loop, err := learning.NewLoop(profiles, learning.WithLearningRate(cfg.Embedding.LearningRate))
	if err != nil {
		_ = ext.Close()
		return nil, err
	}

	logging.Debug().
		Str("store", ext.Name()).
		Int("dim", cfg.Embedding.Dim).
		Dur("cache_ttl", cfg.Cache.TTL).
		Msg("app ready")
	return &app{
		cfg:      cfg,
		ext:      ext,
		cache:    cache,
		profiles: profiles,
		catalog:  catalog,
		engine:   eng,
		loop:     loop,
	}, nil
}

// findRecord 在候选目录中查找内容记录，找不到返回 nil。
func (a *app) findRecord(ctx context.Context, contentID string) *core.ContentRecord {
	for _, list := range [][]*core.ContentRecord{a.catalog.Posts(ctx), a.catalog.Videos(ctx)} {
		for _, rec := range list {
			if rec.ID == contentID {
				return rec
			}
		}
	}
	return nil
}

func (a *app) Close() error {
	return a.ext.Close()
}
