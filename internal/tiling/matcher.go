package tiling

import (
	"github.com/annel0/autotile/internal/random"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
)

// GridReader - источник значений клеток для сопоставления
type GridReader interface {
	Cell(pos vec.Vec2) rules.CellValue
}

// Match - первое сработавшее правило в координате
type Match struct {
	RuleIndex int
	Variant   int
	Mirror    rules.MirrorBits
	Rotation  int
}

// MatchAt перебирает правила в порядке приоритета. Отключённые правила
// пропускаются без розыгрыша, для остальных сначала бросается шанс,
// затем проверяются варианты по порядку.
func MatchAt(pos vec.Vec2, grid GridReader, rs *rules.RuleSet, s *random.Stream) (Match, bool) {
	for i := 0; i < rs.Len(); i++ {
		r := rs.Rule(i)
		if !r.Enabled {
			continue
		}
		if !s.Chance(r.ChancePercent) {
			continue
		}
		for v := 0; v < r.VariantCount(); v++ {
			if variantMatches(pos, grid, r.VariantCells(v)) {
				info := r.Variant(v)
				return Match{RuleIndex: i, Variant: v, Mirror: info.Mirror, Rotation: info.Rotation}, true
			}
		}
	}
	return Match{}, false
}

func variantMatches(pos vec.Vec2, grid GridReader, cells []rules.PatternCell) bool {
	for _, c := range cells {
		if !rules.CanPlace(c.Required, grid.Cell(pos.Add(c.Offset))) {
			return false
		}
	}
	return true
}
