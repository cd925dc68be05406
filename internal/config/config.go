package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации демона.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Layers    []LayerConfig   `yaml:"layers"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	Logging   LoggingConfig   `yaml:"logging"`
	RuleSync  RuleSyncConfig  `yaml:"rulesync"`
}

type EngineConfig struct {
	Seed            uint32 `yaml:"seed"`
	Workers         int    `yaml:"workers"`    // 0 - GOMAXPROCS
	BatchSize       int    `yaml:"batch_size"` // 0 - по умолчанию движка
	FrameIntervalMs int    `yaml:"frame_interval_ms"`
	RulesDir        string `yaml:"rules_dir"` // наборы правил, vocabulary = слой
}

// LayerConfig описывает слой, который регистрируется при старте
type LayerConfig struct {
	ID       string `yaml:"id"`
	DualGrid bool   `yaml:"dual_grid"`
	Rules    string `yaml:"rules"` // путь к YAML/JSON набору правил
}

type StorageConfig struct {
	Driver          string `yaml:"driver"` // memory|badger|redis|maria|mongo
	DataPath        string `yaml:"data_path"`
	AutosaveSeconds int    `yaml:"autosave_seconds"` // 0 - только при остановке

	Redis RedisConfig `yaml:"redis"`
	Maria MariaConfig `yaml:"maria"`
	Mongo MongoConfig `yaml:"mongo"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLHours  int    `yaml:"ttl_hours"`
}

type MariaConfig struct {
	DSN string `yaml:"dsn"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто - шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Codec     string `yaml:"codec"` // json|json+zstd
	Capacity  int    `yaml:"capacity"`
}

// RuleSyncConfig - рассылка наборов правил между узлами через NATS
type RuleSyncConfig struct {
	URL     string `yaml:"url"` // пусто - выключено
	Subject string `yaml:"subject"`
	NodeID  string `yaml:"node_id"`
}

type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminSecret string `yaml:"admin_secret"`
	ServerID    string `yaml:"server_id"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// TerrainConfig - заливка слоя шумом при пустом хранилище
type TerrainConfig struct {
	Layer string  `yaml:"layer"` // пусто - выключено
	Seed  int64   `yaml:"seed"`
	Scale float64 `yaml:"scale"`
	MinX  int     `yaml:"min_x"`
	MinY  int     `yaml:"min_y"`
	MaxX  int     `yaml:"max_x"`
	MaxY  int     `yaml:"max_y"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

// Default возвращает конфигурацию для локального запуска без файла
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Seed:            1,
			FrameIntervalMs: 50,
		},
		Storage: StorageConfig{
			Driver:   "memory",
			DataPath: "data",
		},
		EventBus: EventBusConfig{
			Stream:    "AUTOTILE",
			Retention: 24,
			Codec:     "json+zstd",
			Capacity:  1024,
		},
		Server: ServerConfig{
			ServerID: "autotile",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "autotile",
		},
		Logging: LoggingConfig{
			Dir:          "logs",
			ConsoleLevel: "INFO",
			FileLevel:    "DEBUG",
		},
	}
}

// FrameInterval возвращает период кадра
func (e EngineConfig) FrameInterval() time.Duration {
	if e.FrameIntervalMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(e.FrameIntervalMs) * time.Millisecond
}

// AutosaveInterval возвращает период автосохранения; 0 - выключено
func (s StorageConfig) AutosaveInterval() time.Duration {
	return time.Duration(s.AutosaveSeconds) * time.Second
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "AUTOTILE_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus; совпадение с REST означает общий порт
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "AUTOTILE_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Validate проверяет значения, которые нельзя исправить дефолтами
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "badger", "redis", "maria", "mongo":
	default:
		return fmt.Errorf("storage.driver: неизвестный драйвер %q", c.Storage.Driver)
	}
	switch c.EventBus.Codec {
	case "json", "json+zstd":
	default:
		return fmt.Errorf("eventbus.codec: неизвестный кодек %q", c.EventBus.Codec)
	}
	if c.Storage.Driver == "maria" && c.Storage.Maria.DSN == "" {
		return fmt.Errorf("storage.maria.dsn обязателен для драйвера maria")
	}

	seen := make(map[string]bool, len(c.Layers))
	for i, l := range c.Layers {
		if l.ID == "" {
			return fmt.Errorf("layers[%d]: пустой id", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("layers[%d]: повторный id %q", i, l.ID)
		}
		seen[l.ID] = true
	}

	if t := c.Terrain; t.Layer != "" && (t.MaxX < t.MinX || t.MaxY < t.MinY) {
		return fmt.Errorf("terrain: пустая область")
	}
	return nil
}

// Load читает YAML файл поверх Default().
// Если path == "", берётся ENV AUTOTILE_CONFIG; если и он пуст, возвращается Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AUTOTILE_CONFIG")
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
