package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/tiling"
)

// SaveEngine сохраняет клетки всех слоёв движка. Вызывать между кадрами:
// снимок отражает состояние на последнем барьере.
func SaveEngine(ctx context.Context, repo GridRepo, e *tiling.Engine) (int, error) {
	seed := e.Seed()
	saved := 0
	for _, info := range e.Layers() {
		snap := NewLayerSnapshot(string(info.ID), info.DualGrid, seed, e.Snapshot(info.ID))
		if err := repo.Save(ctx, snap); err != nil {
			return saved, fmt.Errorf("сохранение слоя %s: %w", info.ID, err)
		}
		saved++
	}
	return saved, nil
}

// RestoreEngine регистрирует сохранённые слои и ставит их клетки в очередь.
// Зерно берётся из первого снимка. Результаты появятся после следующего кадра.
func RestoreEngine(ctx context.Context, repo GridRepo, e *tiling.Engine) (int, error) {
	layers, err := repo.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	var seed uint32
	for _, layer := range layers {
		snap, ok, err := repo.Load(ctx, layer)
		if err != nil {
			return restored, fmt.Errorf("загрузка слоя %s: %w", layer, err)
		}
		if !ok {
			continue
		}
		if restored == 0 {
			seed = snap.Seed
			e.SetGlobalSeed(seed)
		} else if snap.Seed != seed {
			logging.GetStorageLogger().Warn("⚠️ Слой %s сохранён с зерном %d, используется %d", layer, snap.Seed, seed)
		}
		id := tiling.LayerID(layer)
		e.RegisterLayer(id, snap.DualGrid)
		e.Restore(id, snap.CellMap())
		restored++
	}
	return restored, nil
}

// Autosave периодически сохраняет движок до отмены ctx; при отмене
// выполняет последнее сохранение.
func Autosave(ctx context.Context, repo GridRepo, e *tiling.Engine, every time.Duration) {
	logger := logging.GetStorageLogger()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	save := func(ctx context.Context) {
		n, err := SaveEngine(ctx, repo, e)
		if err != nil {
			logger.Error("Ошибка автосохранения: %v", err)
			return
		}
		logger.Debug("💾 Автосохранение: %d слоёв", n)
	}

	for {
		select {
		case <-ticker.C:
			save(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			save(final)
			cancel()
			return
		}
	}
}
