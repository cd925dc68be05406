package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

const badgerLayerPrefix = "layer:"

// BadgerGridRepo хранит снимки слоёв в BadgerDB, значение - JSON
type BadgerGridRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerGridRepo открывает (или создаёт) базу в dataPath/grid
func NewBadgerGridRepo(dataPath string) (*BadgerGridRepo, error) {
	dbPath := filepath.Join(dataPath, "grid")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerGridRepo{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (r *BadgerGridRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}

	r.isReady = false
	return r.db.Close()
}

func (r *BadgerGridRepo) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return nil
}

// Save сохраняет снимок слоя
func (r *BadgerGridRepo) Save(ctx context.Context, snap *LayerSnapshot) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if err := r.ready(ctx); err != nil {
		return err
	}
	if snap == nil || snap.Layer == "" {
		return fmt.Errorf("недействительный снимок: пустое имя слоя")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снимка: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerLayerPrefix+snap.Layer), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Load загружает снимок слоя
func (r *BadgerGridRepo) Load(ctx context.Context, layer string) (*LayerSnapshot, bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if err := r.ready(ctx); err != nil {
		return nil, false, err
	}

	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerLayerPrefix + layer))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var snap LayerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("ошибка десериализации снимка: %w", err)
	}
	return &snap, true, nil
}

// Delete удаляет снимок слоя
func (r *BadgerGridRepo) Delete(ctx context.Context, layer string) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if err := r.ready(ctx); err != nil {
		return err
	}

	key := []byte(badgerLayerPrefix + layer)
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("слой %s: %w", layer, ErrLayerNotFound)
			}
			return err
		}
		return txn.Delete(key)
	})
}

// List перебирает ключи с префиксом слоёв
func (r *BadgerGridRepo) List(ctx context.Context) ([]string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if err := r.ready(ctx); err != nil {
		return nil, err
	}

	var layers []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerLayerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			layers = append(layers, strings.TrimPrefix(key, badgerLayerPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка перебора ключей BadgerDB: %w", err)
	}

	sort.Strings(layers)
	return layers, nil
}
