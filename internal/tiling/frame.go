package tiling

import (
	"context"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
)

// LayerID - идентификатор слоя (экземпляр словаря клеток)
type LayerID string

// EntityHandle - непрозрачный дескриптор заспавненной сущности
type EntityHandle uint64

// SpriteOutcome - итоговый спрайт клетки с учётом отражений и поворота
type SpriteOutcome struct {
	Sprite   rules.SpriteDescriptor `json:"sprite"`
	FlipX    bool                   `json:"flip_x"`
	FlipY    bool                   `json:"flip_y"`
	Rotation int                    `json:"rotation"` // четверти оборота, 0..3
}

// SpawnIntent просит потребителя создать сущность в координате
type SpawnIntent struct {
	Position vec.Vec2        `json:"position"`
	Prefab   rules.EntityRef `json:"prefab"`
}

// DespawnIntent просит уничтожить ранее зарегистрированную сущность
type DespawnIntent struct {
	Position vec.Vec2     `json:"position"`
	Handle   EntityHandle `json:"handle"`
}

// OutcomeUpdate - новое состояние обновлённой координаты.
// Sprite == nil означает, что спрайт в координате удалён.
type OutcomeUpdate struct {
	Position vec.Vec2       `json:"position"`
	Sprite   *SpriteOutcome `json:"sprite,omitempty"`
}

// LayerFrame - результат обработки одного слоя за кадр
type LayerFrame struct {
	Layer     LayerID         `json:"layer"`
	Frame     uint64          `json:"frame"`
	Cleared   bool            `json:"cleared"`
	Refreshed []vec.Vec2      `json:"refreshed"` // отсортированы по (y, x)
	Updates   []OutcomeUpdate `json:"updates"`
	Spawns    []SpawnIntent   `json:"spawns,omitempty"`
	Despawns  []DespawnIntent `json:"despawns,omitempty"`
}

// Empty сообщает, что в кадре нечего применять
func (f *LayerFrame) Empty() bool {
	return !f.Cleared && len(f.Refreshed) == 0 && len(f.Despawns) == 0
}

// FrameSink получает результаты кадра после барьера
type FrameSink interface {
	PublishFrame(ctx context.Context, frame *LayerFrame) error
}
