package tiling

import (
	"github.com/annel0/autotile/internal/random"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
)

// ApplicationHash кодирует (правило, отражение, поворот) сработавшего варианта
func ApplicationHash(ruleIndex int, mirror rules.MirrorBits, rotation int) uint64 {
	h := uint64(ruleIndex) + 531
	h = h*431 + uint64(mirror)
	h = h*701 + uint64(rotation)
	return h
}

// Selection - выбранные результаты правила
type Selection struct {
	Sprite    SpriteOutcome
	HasSprite bool
	Entity    rules.EntityRef
	HasEntity bool
}

// Select разыгрывает сущность и спрайт на том же потоке, что и сопоставление.
// Случайные отражения результата складываются по XOR с отражением варианта,
// поворот суммируется по модулю 4.
func Select(r *rules.CompiledRule, m Match, s *random.Stream) Selection {
	var sel Selection

	if e, ok := r.Entities.Pick(s); ok {
		sel.Entity = e
		sel.HasEntity = true
	}

	sprite, ok := r.Sprites.Pick(s)
	if !ok {
		return sel
	}

	out := SpriteOutcome{Sprite: sprite}
	if r.ResultSymmetry.Has(rules.SymmetryMirrorX) {
		out.FlipX = s.Bool()
	}
	if r.ResultSymmetry.Has(rules.SymmetryMirrorY) {
		out.FlipY = s.Bool()
	}
	if r.ResultSymmetry.Has(rules.SymmetryRotate) {
		out.Rotation = s.IntN(4)
	}

	out.FlipX = out.FlipX != (m.Mirror&rules.MirrorX != 0)
	out.FlipY = out.FlipY != (m.Mirror&rules.MirrorY != 0)
	out.Rotation = (out.Rotation + m.Rotation) % 4

	sel.Sprite = out
	sel.HasSprite = true
	return sel
}

// evaluation - результат оценки одной координаты, слияние - позже
type evaluation struct {
	pos       vec.Vec2
	matched   bool
	hash      uint64
	changed   bool
	selection Selection
}

// evaluate читает только сетку и запись сопоставлений, поэтому безопасна
// для параллельного вызова, пока держится блокировка слоя.
func (l *Layer) evaluate(pos vec.Vec2, rs *rules.RuleSet, seed uint32) evaluation {
	s := random.NewStream(seed, pos)
	prev, had := l.record[pos]

	m, ok := MatchAt(pos, l, rs, s)
	if !ok {
		return evaluation{pos: pos, changed: had}
	}

	h := ApplicationHash(m.RuleIndex, m.Mirror, m.Rotation)
	if had && prev == h {
		return evaluation{pos: pos, matched: true, hash: h}
	}

	return evaluation{
		pos:       pos,
		matched:   true,
		hash:      h,
		changed:   true,
		selection: Select(rs.Rule(m.RuleIndex), m, s),
	}
}
