package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
)

// ErrLayerNotFound возвращается Delete, если снимка слоя нет
var ErrLayerNotFound = errors.New("снимок слоя не найден")

// CellRecord - одна заполненная клетка снимка
type CellRecord struct {
	X     int             `json:"x" bson:"x"`
	Y     int             `json:"y" bson:"y"`
	Value rules.CellValue `json:"v" bson:"v"`
}

// LayerSnapshot - сохранённое содержимое сетки слоя
type LayerSnapshot struct {
	Layer    string       `json:"layer" bson:"layer"`
	DualGrid bool         `json:"dual_grid" bson:"dual_grid"`
	Seed     uint32       `json:"seed" bson:"seed"`
	Cells    []CellRecord `json:"cells" bson:"cells"`
	SavedAt  time.Time    `json:"saved_at" bson:"saved_at"`
}

// NewLayerSnapshot собирает снимок из карты клеток; клетки упорядочены по (y, x)
func NewLayerSnapshot(layer string, dualGrid bool, seed uint32, cells map[vec.Vec2]rules.CellValue) *LayerSnapshot {
	keys := make([]vec.Vec2, 0, len(cells))
	for p, v := range cells {
		if v == rules.Empty {
			continue
		}
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	records := make([]CellRecord, len(keys))
	for i, p := range keys {
		records[i] = CellRecord{X: p.X, Y: p.Y, Value: cells[p]}
	}

	return &LayerSnapshot{
		Layer:    layer,
		DualGrid: dualGrid,
		Seed:     seed,
		Cells:    records,
		SavedAt:  time.Now().UTC(),
	}
}

// CellMap разворачивает снимок обратно в карту клеток
func (s *LayerSnapshot) CellMap() map[vec.Vec2]rules.CellValue {
	out := make(map[vec.Vec2]rules.CellValue, len(s.Cells))
	for _, c := range s.Cells {
		out[vec.Vec2{X: c.X, Y: c.Y}] = c.Value
	}
	return out
}

// GridRepo определяет интерфейс для сохранения и загрузки снимков слоёв.
type GridRepo interface {
	// Save полностью заменяет снимок слоя.
	Save(ctx context.Context, snap *LayerSnapshot) error

	// Load загружает снимок слоя.
	// Возвращает:
	//   *LayerSnapshot - снимок
	//   bool - false, если снимка нет
	//   error - ошибка при загрузке
	Load(ctx context.Context, layer string) (*LayerSnapshot, bool, error)

	// Delete удаляет снимок слоя; ErrLayerNotFound, если его нет.
	Delete(ctx context.Context, layer string) error

	// List возвращает сохранённые слои по возрастанию имени.
	List(ctx context.Context) ([]string, error)

	// Close освобождает соединения.
	Close() error
}
