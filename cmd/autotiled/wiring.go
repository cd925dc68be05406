package main

import (
	"fmt"
	"time"

	"github.com/annel0/autotile/internal/config"
	"github.com/annel0/autotile/internal/eventbus"
	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/storage"
	"github.com/annel0/autotile/internal/terrain"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/annel0/autotile/internal/vec"
)

// openGridRepo выбирает хранилище снимков по storage.driver
func openGridRepo(cfg config.StorageConfig) (storage.GridRepo, error) {
	switch cfg.Driver {
	case "", "memory":
		return storage.NewMemoryGridRepo(), nil
	case "badger":
		return storage.NewBadgerGridRepo(cfg.DataPath)
	case "redis":
		rc := storage.DefaultRedisConfig()
		if cfg.Redis.Addr != "" {
			rc.Addr = cfg.Redis.Addr
		}
		if cfg.Redis.KeyPrefix != "" {
			rc.KeyPrefix = cfg.Redis.KeyPrefix
		}
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.TTL = time.Duration(cfg.Redis.TTLHours) * time.Hour
		return storage.NewRedisGridRepo(rc)
	case "maria":
		return storage.NewMariaGridRepo(cfg.Maria.DSN)
	case "mongo":
		return storage.NewMongoGridRepo(storage.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища %q", cfg.Driver)
	}
}

// openBus подключает JetStream, если задан URL, иначе шину в памяти
func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = 1024
		}
		return eventbus.NewMemoryBus(capacity), nil
	}
	return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
}

// loadRuleSets компилирует наборы из rules_dir (слой = vocabulary) и
// из layers[].rules, затем регистрирует слои конфигурации.
// Наборы кладутся до регистрации, поэтому слой стартует уже с правилами.
// Слой работает в режиме dual grid, если это указано в конфигурации слоя
// или в файле его набора правил.
func loadRuleSets(cfg *config.Config, e *tiling.Engine) (int, error) {
	loaded := 0
	dual := make(map[string]bool)
	if cfg.Engine.RulesDir != "" {
		defs, err := rules.LoadRuleSetDir(cfg.Engine.RulesDir)
		if err != nil {
			return loaded, fmt.Errorf("rules_dir: %w", err)
		}
		for _, def := range defs {
			rs, err := rules.CompileRuleSet(*def)
			if err != nil {
				return loaded, fmt.Errorf("набор %s: %w", def.Vocabulary, err)
			}
			e.SetRuleSet(tiling.LayerID(def.Vocabulary), rs)
			dual[def.Vocabulary] = dual[def.Vocabulary] || def.DualGrid
			loaded++
		}
	}

	for _, l := range cfg.Layers {
		if l.Rules != "" {
			def, err := rules.LoadRuleSetFile(l.Rules)
			if err != nil {
				return loaded, fmt.Errorf("слой %s: %w", l.ID, err)
			}
			rs, err := rules.CompileRuleSet(*def)
			if err != nil {
				return loaded, fmt.Errorf("слой %s: %w", l.ID, err)
			}
			e.SetRuleSet(tiling.LayerID(l.ID), rs)
			dual[l.ID] = dual[l.ID] || def.DualGrid
			loaded++
		}
		e.RegisterLayer(tiling.LayerID(l.ID), l.DualGrid || dual[l.ID])
	}
	return loaded, nil
}

// bootstrapTerrain заливает слой шумом; вызывается, только если снимков не было
func bootstrapTerrain(cfg config.TerrainConfig, e *tiling.Engine) (int, error) {
	if cfg.Layer == "" {
		return 0, nil
	}
	opts := terrain.DefaultOptions(cfg.Seed)
	if cfg.Scale > 0 {
		opts.Scale = cfg.Scale
	}
	gen, err := terrain.NewGenerator(opts)
	if err != nil {
		return 0, err
	}

	id := tiling.LayerID(cfg.Layer)
	if e.RegisterLayer(id, false) {
		logging.Warn("Слой %s для terrain не описан в layers, зарегистрирован без dual grid", id)
	}
	return gen.Fill(e, id, vec.Vec2{X: cfg.MinX, Y: cfg.MinY}, vec.Vec2{X: cfg.MaxX, Y: cfg.MaxY}), nil
}
