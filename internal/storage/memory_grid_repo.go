package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryGridRepo реализует GridRepo в памяти.
// Используется как fallback, когда внешнее хранилище не настроено,
// или для CI/локальной разработки.
// ВНИМАНИЕ: Данные теряются при перезапуске!
type MemoryGridRepo struct {
	mu   sync.RWMutex
	data map[string]*LayerSnapshot
}

// NewMemoryGridRepo создает новый репозиторий снимков в памяти.
func NewMemoryGridRepo() *MemoryGridRepo {
	return &MemoryGridRepo{
		data: make(map[string]*LayerSnapshot),
	}
}

// Save сохраняет копию снимка.
func (r *MemoryGridRepo) Save(ctx context.Context, snap *LayerSnapshot) error {
	if snap == nil || snap.Layer == "" {
		return fmt.Errorf("недействительный снимок: пустое имя слоя")
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[snap.Layer] = cloneSnapshot(snap)
	return nil
}

// Load возвращает копию снимка.
func (r *MemoryGridRepo) Load(ctx context.Context, layer string) (*LayerSnapshot, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, ok := r.data[layer]
	if !ok {
		return nil, false, nil
	}
	return cloneSnapshot(snap), true, nil
}

// Delete удаляет снимок.
func (r *MemoryGridRepo) Delete(ctx context.Context, layer string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[layer]; !ok {
		return fmt.Errorf("слой %s: %w", layer, ErrLayerNotFound)
	}
	delete(r.data, layer)
	return nil
}

// List возвращает имена сохранённых слоёв.
func (r *MemoryGridRepo) List(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	layers := make([]string, 0, len(r.data))
	for id := range r.data {
		layers = append(layers, id)
	}
	sort.Strings(layers)
	return layers, nil
}

// Close ничего не делает.
func (r *MemoryGridRepo) Close() error { return nil }

// Size возвращает количество сохранённых слоёв (для тестов и мониторинга).
func (r *MemoryGridRepo) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func cloneSnapshot(s *LayerSnapshot) *LayerSnapshot {
	c := *s
	c.Cells = append([]CellRecord(nil), s.Cells...)
	return &c
}
