package tiling

import (
	"sort"
	"sync"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
)

// Соседи, которые затрагивает правка в режиме dual grid:
// якорь (x, y) покрывает клетки (x..x+1, y..y+1).
var dualGridNeighbours = [3]vec.Vec2{{X: -1, Y: 0}, {X: 0, Y: -1}, {X: -1, Y: -1}}

type posSet map[vec.Vec2]struct{}

// Layer - состояние одного слоя. Устойчивые поля меняются только во время
// ProcessFrame под mu; читатели берут RLock и видят состояние на барьере.
type Layer struct {
	id       LayerID
	dualGrid bool
	pending  commandBuffer

	mu       sync.RWMutex
	rules    *rules.RuleSet
	grid     map[vec.Vec2]rules.CellValue
	record   map[vec.Vec2]uint64
	rendered map[vec.Vec2]SpriteOutcome
	spawned  map[vec.Vec2]EntityHandle

	// Поля кадра
	changed   posSet
	refresh   posSet
	refreshed []vec.Vec2
	updates   []OutcomeUpdate
	spawns    []SpawnIntent
	despawns  []DespawnIntent
	cleared   bool
}

func newLayer(id LayerID, dualGrid bool, rs *rules.RuleSet) *Layer {
	return &Layer{
		id:       id,
		dualGrid: dualGrid,
		rules:    rs,
		grid:     make(map[vec.Vec2]rules.CellValue),
		record:   make(map[vec.Vec2]uint64),
		rendered: make(map[vec.Vec2]SpriteOutcome),
		spawned:  make(map[vec.Vec2]EntityHandle),
		changed:  make(posSet),
		refresh:  make(posSet),
	}
}

// ID возвращает идентификатор слоя
func (l *Layer) ID() LayerID { return l.id }

// DualGrid сообщает, работает ли слой в режиме dual grid
func (l *Layer) DualGrid() bool { return l.dualGrid }

// Cell возвращает значение клетки; отсутствующая клетка равна Empty.
// Вызывающий обязан держать mu.
func (l *Layer) Cell(pos vec.Vec2) rules.CellValue {
	return l.grid[pos]
}

func (l *Layer) markChanged(pos vec.Vec2) {
	l.changed[pos] = struct{}{}
	if l.dualGrid {
		for _, n := range dualGridNeighbours {
			l.changed[pos.Add(n)] = struct{}{}
		}
	}
}

func (l *Layer) resetFrame() {
	l.refreshed = nil
	l.updates = nil
	l.spawns = nil
	l.despawns = nil
	l.cleared = false
}

// dropDerived сбрасывает производное состояние и просит удалить все сущности
func (l *Layer) dropDerived() {
	for _, pos := range sortedKeys(l.spawned) {
		l.despawns = append(l.despawns, DespawnIntent{Position: pos, Handle: l.spawned[pos]})
	}
	l.record = make(map[vec.Vec2]uint64)
	l.rendered = make(map[vec.Vec2]SpriteOutcome)
	l.spawned = make(map[vec.Vec2]EntityHandle)
	l.changed = make(posSet)
	l.cleared = true
}

// applyPending переносит буфер правок в сетку в порядке поступления
func (l *Layer) applyPending() {
	l.resetFrame()
	for _, cmd := range l.pending.drain() {
		switch cmd.kind {
		case cmdSetCell:
			if cmd.value == rules.Empty {
				delete(l.grid, cmd.pos)
			} else {
				l.grid[cmd.pos] = cmd.value
			}
			l.markChanged(cmd.pos)
		case cmdClear:
			l.grid = make(map[vec.Vec2]rules.CellValue)
			l.dropDerived()
		case cmdSwapRules:
			// Смена набора правил: всё пересчитываем заново
			l.rules = cmd.rules
			l.dropDerived()
			for pos := range l.grid {
				l.markChanged(pos)
			}
		}
	}
}

// expandChanged строит positionsToRefresh и очищает changed
func (l *Layer) expandChanged() {
	l.refresh = make(posSet)
	if l.rules != nil {
		expandRefresh(l.changed, l.rules.RefreshOffsets(), l.refresh)
	}
	l.changed = make(posSet)
}

// merge применяет результаты оценки последовательно, в порядке (y, x)
func (l *Layer) merge(results []evaluation) {
	for i := range results {
		ev := &results[i]
		if !ev.changed {
			continue
		}

		pos := ev.pos
		if handle, ok := l.spawned[pos]; ok {
			l.despawns = append(l.despawns, DespawnIntent{Position: pos, Handle: handle})
			delete(l.spawned, pos)
		}

		if !ev.matched {
			delete(l.record, pos)
			delete(l.rendered, pos)
			l.refreshed = append(l.refreshed, pos)
			l.updates = append(l.updates, OutcomeUpdate{Position: pos})
			continue
		}

		l.record[pos] = ev.hash
		update := OutcomeUpdate{Position: pos}
		if ev.selection.HasSprite {
			out := ev.selection.Sprite
			l.rendered[pos] = out
			update.Sprite = &out
		} else {
			delete(l.rendered, pos)
		}
		if ev.selection.HasEntity {
			l.spawns = append(l.spawns, SpawnIntent{Position: pos, Prefab: ev.selection.Entity})
		}
		l.refreshed = append(l.refreshed, pos)
		l.updates = append(l.updates, update)
	}
}

func (l *Layer) frameResult(frame uint64) LayerFrame {
	return LayerFrame{
		Layer:     l.id,
		Frame:     frame,
		Cleared:   l.cleared,
		Refreshed: l.refreshed,
		Updates:   l.updates,
		Spawns:    l.spawns,
		Despawns:  l.despawns,
	}
}

func sortedKeys[V any](m map[vec.Vec2]V) []vec.Vec2 {
	out := make([]vec.Vec2, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
