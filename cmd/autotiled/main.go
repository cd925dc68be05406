package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/autotile/internal/api"
	"github.com/annel0/autotile/internal/config"
	"github.com/annel0/autotile/internal/eventbus"
	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/observability"
	"github.com/annel0/autotile/internal/publish"
	"github.com/annel0/autotile/internal/rulesync"
	"github.com/annel0/autotile/internal/storage"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $AUTOTILE_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLoggerIn("autotiled", cfg.Logging.Dir); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	console := logging.ParseLevel(cfg.Logging.ConsoleLevel)
	file := logging.ParseLevel(cfg.Logging.FileLevel)
	logging.SetDefaultLevels(console, file)
	logging.GetLoggerManager().SetLevels(console, file)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(parent context.Context, cfg *config.Config) error {
	ctx, cancelRun := context.WithCancel(parent)
	defer cancelRun()

	logging.Info("🧩 Запуск autotiled %s", version)

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, version)
		if err != nil {
			logging.Warn("⚠️ OpenTelemetry недоступен: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("Ошибка остановки OpenTelemetry: %v", err)
				}
			}()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// === ДВИЖОК ===
	engine := tiling.NewEngine(tiling.Options{
		Seed:      cfg.Engine.Seed,
		Workers:   cfg.Engine.Workers,
		BatchSize: cfg.Engine.BatchSize,
		Metrics:   tiling.NewMetrics(reg),
	})

	loaded, err := loadRuleSets(cfg, engine)
	if err != nil {
		return fmt.Errorf("загрузка правил: %w", err)
	}
	logging.Info("📜 Загружено наборов правил: %d, слоёв в конфигурации: %d", loaded, len(cfg.Layers))

	// === ХРАНИЛИЩЕ ===
	grid, err := openGridRepo(cfg.Storage)
	if err != nil {
		return fmt.Errorf("хранилище %s: %w", cfg.Storage.Driver, err)
	}
	defer grid.Close()

	restored, err := storage.RestoreEngine(ctx, grid, engine)
	if err != nil {
		return fmt.Errorf("восстановление снимков: %w", err)
	}
	logging.Info("💾 Хранилище %s: восстановлено слоёв %d", cfg.Storage.Driver, restored)

	if restored == 0 {
		n, err := bootstrapTerrain(cfg.Terrain, engine)
		if err != nil {
			return fmt.Errorf("terrain: %w", err)
		}
		if n > 0 {
			logging.Info("🌍 Слой %s заполнен шумом: %d клеток", cfg.Terrain.Layer, n)
		}
	}

	// === ПУБЛИКАЦИЯ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий: %w", err)
	}
	defer bus.Close()

	codec, err := publish.CodecByName(cfg.EventBus.Codec)
	if err != nil {
		return err
	}
	sink, err := publish.NewEventBusSink(bus, cfg.Server.ServerID, codec)
	if err != nil {
		return err
	}
	engine.AddSink(sink)

	listener, err := eventbus.StartLoggingListener(bus)
	if err != nil {
		return err
	}
	defer listener.Unsubscribe()

	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start(15 * time.Second)
	defer exporter.Stop()

	webhooks := api.NewOutboundWebhookManager(cfg.Server.ServerID)
	defer webhooks.Close()
	engine.AddSink(webhooks)

	var broadcaster api.RuleBroadcaster
	if cfg.RuleSync.URL != "" {
		b, err := rulesync.NewBroadcaster(rulesync.Config{
			NATSURL: cfg.RuleSync.URL,
			Subject: cfg.RuleSync.Subject,
			NodeID:  cfg.RuleSync.NodeID,
		})
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.Subscribe(rulesync.EngineHandler(engine)); err != nil {
			return err
		}
		broadcaster = b
	}

	// === API ===
	restPort := cfg.Server.GetRESTPort()
	server := api.NewRestServer(api.Config{
		Port:        fmt.Sprintf(":%d", restPort),
		Engine:      engine,
		Grid:        grid,
		Webhooks:    webhooks,
		Registry:    reg,
		AdminSecret: cfg.Server.AdminSecret,
		ServerID:    cfg.Server.ServerID,
		Broadcaster: broadcaster,
	})

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	var metricsSrv *http.Server
	if metricsPort := cfg.Server.GetMetricsPort(); metricsPort != restPort {
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", metricsPort),
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("❌ Ошибка сервера метрик: %v", err)
			}
		}()
		logging.Info("📈 Prometheus: http://localhost:%d/metrics", metricsPort)
	}

	// Автосохранение делает последнее сохранение само, когда ctx отменяется
	autosave := cfg.Storage.AutosaveInterval()
	if autosave > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			storage.Autosave(ctx, grid, engine, autosave)
		}()
	}

	logging.Info("✅ autotiled запущен: кадр %s, REST http://localhost:%d", cfg.Engine.FrameInterval(), restPort)

	runErr := frameLoop(ctx, engine, cfg.Engine.FrameInterval(), serverErr)
	cancelRun()

	// === GRACEFUL SHUTDOWN ===
	logging.Info("📡 Завершение работы...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if autosave <= 0 {
		// Применяем то, что успели поставить в очередь, и сохраняем
		if _, err := engine.ProcessFrame(shutdownCtx); err != nil {
			logging.Warn("Ошибка публикации последнего кадра: %v", err)
		}
		n, err := storage.SaveEngine(shutdownCtx, grid, engine)
		if err != nil {
			logging.Error("❌ Ошибка сохранения при остановке: %v", err)
		} else {
			logging.Info("💾 Сохранено слоёв: %d", n)
		}
	}
	wg.Wait()
	return runErr
}

// frameLoop выполняет кадры с фиксированным периодом до отмены ctx.
// Ошибки получателей кадров не останавливают цикл.
func frameLoop(ctx context.Context, engine *tiling.Engine, every time.Duration, serverErr <-chan error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serverErr:
			return fmt.Errorf("REST API: %w", err)
		case <-ticker.C:
			if _, err := engine.ProcessFrame(ctx); err != nil {
				logging.Warn("⚠️ Кадр %d: %v", engine.Frame(), err)
			}
		}
	}
}
