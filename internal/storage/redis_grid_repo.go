package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/autotile/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни снимков, 0 - без ограничения
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "autotile:layer:",
	}
}

// RedisGridRepo хранит снимки слоёв в Redis: JSON по ключу слоя
// и множество имён слоёв для List.
type RedisGridRepo struct {
	client    *redis.Client
	keyPrefix string
	indexKey  string
	ttl       time.Duration
}

// NewRedisGridRepo создаёт репозиторий и проверяет подключение
func NewRedisGridRepo(config *RedisConfig) (*RedisGridRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔴 Connected to Redis at %s", config.Addr)
	return &RedisGridRepo{
		client:    client,
		keyPrefix: config.KeyPrefix,
		indexKey:  config.KeyPrefix + "index",
		ttl:       config.TTL,
	}, nil
}

func (r *RedisGridRepo) key(layer string) string {
	return r.keyPrefix + "snap:" + layer
}

// Save записывает снимок и обновляет индекс одной транзакцией
func (r *RedisGridRepo) Save(ctx context.Context, snap *LayerSnapshot) error {
	if snap == nil || snap.Layer == "" {
		return fmt.Errorf("недействительный снимок: пустое имя слоя")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(snap.Layer), data, r.ttl)
		pipe.SAdd(ctx, r.indexKey, snap.Layer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.Layer, err)
	}
	return nil
}

// Load читает снимок слоя
func (r *RedisGridRepo) Load(ctx context.Context, layer string) (*LayerSnapshot, bool, error) {
	data, err := r.client.Get(ctx, r.key(layer)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap LayerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, true, nil
}

// Delete удаляет снимок и запись индекса
func (r *RedisGridRepo) Delete(ctx context.Context, layer string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(layer))
		pipe.SRem(ctx, r.indexKey, layer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("слой %s: %w", layer, ErrLayerNotFound)
	}
	return nil
}

// List возвращает слои из индекса. Снимки с истёкшим TTL
// вычищаются из индекса по ходу.
func (r *RedisGridRepo) List(ctx context.Context) ([]string, error) {
	layers, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read layer index: %w", err)
	}
	if len(layers) == 0 {
		return []string{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(layers))
	for i, layer := range layers {
		cmds[i] = pipe.Exists(ctx, r.key(layer))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check snapshots: %w", err)
	}

	alive := make([]string, 0, len(layers))
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			r.client.SRem(ctx, r.indexKey, layers[i])
			continue
		}
		alive = append(alive, layers[i])
	}
	sort.Strings(alive)
	return alive, nil
}

// Close закрывает клиент
func (r *RedisGridRepo) Close() error {
	return r.client.Close()
}
