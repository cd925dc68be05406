package rules

import (
	"errors"
	"fmt"

	"github.com/annel0/autotile/internal/vec"
)

// Ошибки компиляции
var (
	ErrInvalidMatrixSize   = errors.New("matrix is not a non-empty perfect square")
	ErrInvalidChance       = errors.New("chance must be within [0,100]")
	ErrInconsistentSprites = errors.New("sprites differ in pivot, size or texture")
)

// CompileError указывает, какое правило не скомпилировалось
type CompileError struct {
	Rule   string
	Index  int // позиция в наборе, -1 для одиночной компиляции
	Detail string
	Err    error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("rule %q", e.Rule)
	if e.Index >= 0 {
		msg = fmt.Sprintf("rule #%d %q", e.Index, e.Rule)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compile превращает авторское правило в CompiledRule.
//
// Вариант идентичности создаётся всегда, затем отражения X, Y, XY (XY - когда включены обе оси)
// и три поворота, если включено вращение. Смещения обновления собираются по всем геометрически
// возможным вариантам независимо от флагов, вместе с их противоположными смещениями:
// тогда для клетки p кандидаты на пересчёт - это p + o для каждого o из набора.
func Compile(def RuleDefinition) (*CompiledRule, error) {
	return compile(def, -1)
}

func compile(def RuleDefinition, index int) (*CompiledRule, error) {
	n := matrixSize(len(def.Matrix))
	if n == 0 {
		return nil, &CompileError{
			Rule: def.Name, Index: index, Err: ErrInvalidMatrixSize,
			Detail: fmt.Sprintf("%d cells", len(def.Matrix)),
		}
	}
	chance := def.ChancePercent()
	if !(chance >= 0 && chance <= 100) { // NaN тоже отклоняется
		return nil, &CompileError{
			Rule: def.Name, Index: index, Err: ErrInvalidChance,
			Detail: fmt.Sprintf("got %g", chance),
		}
	}

	r := &CompiledRule{
		Name:           def.Name,
		Enabled:        def.IsEnabled(),
		Symmetry:       def.symmetry(),
		ChancePercent:  chance,
		ResultSymmetry: def.resultSymmetry(),
	}

	refresh := make(map[vec.Vec2]struct{})
	addRefresh := func(o vec.Vec2) {
		refresh[o] = struct{}{}
		refresh[o.Neg()] = struct{}{}
	}

	// Вариант идентичности
	for i, v := range def.Matrix {
		if v == Empty {
			continue
		}
		o := MirroredOffset(i, n, false, false)
		r.cells = append(r.cells, PatternCell{Offset: o, Required: v})
		addRefresh(o)
	}
	r.cellsToCheck = len(r.cells)
	r.variants = append(r.variants, VariantInfo{Mirror: MirrorNone})

	mirrors := []struct {
		bits    MirrorBits
		enabled bool
	}{
		{MirrorX, def.MirrorX},
		{MirrorY, def.MirrorY},
		{MirrorXY, def.MirrorX && def.MirrorY},
	}
	for _, m := range mirrors {
		mx, my := m.bits&MirrorX != 0, m.bits&MirrorY != 0
		for i, v := range def.Matrix {
			if v == Empty {
				continue
			}
			o := MirroredOffset(i, n, mx, my)
			addRefresh(o)
			if m.enabled {
				r.cells = append(r.cells, PatternCell{Offset: o, Required: v})
			}
		}
		if m.enabled {
			r.variants = append(r.variants, VariantInfo{Mirror: m.bits})
		}
	}

	for q := 1; q <= 3; q++ {
		for i, v := range def.Matrix {
			if v == Empty {
				continue
			}
			o := RotatedOffset(i, n, q)
			addRefresh(o)
			if def.Rotate {
				r.cells = append(r.cells, PatternCell{Offset: o, Required: v})
			}
		}
		if def.Rotate {
			r.variants = append(r.variants, VariantInfo{Rotation: q})
		}
	}

	r.refresh = sortedOffsets(refresh)

	sprites := make([]Weighted[SpriteDescriptor], 0, len(def.Sprites))
	for _, s := range def.Sprites {
		sprites = append(sprites, Weighted[SpriteDescriptor]{Weight: s.Weight, Value: s.SpriteDescriptor})
	}
	entities := make([]Weighted[EntityRef], 0, len(def.Entities))
	for _, e := range def.Entities {
		entities = append(entities, Weighted[EntityRef]{Weight: e.Weight, Value: e.Prefab})
	}
	r.Sprites = NewWeightedTable(sprites)
	r.Entities = NewWeightedTable(entities)

	return r, nil
}

// CompileRuleSet компилирует все правила набора по порядку.
// При UniformSprites все спрайты всех правил сверяются с первым встреченным.
func CompileRuleSet(def RuleSetDefinition) (*RuleSet, error) {
	compiled := make([]*CompiledRule, 0, len(def.Rules))

	var (
		reference    SpriteDescriptor
		referenceSet bool
		referenceBy  string
	)

	for i, rd := range def.Rules {
		r, err := compile(rd, i)
		if err != nil {
			return nil, err
		}

		if def.UniformSprites {
			for _, s := range r.Sprites.Items() {
				if !referenceSet {
					reference, referenceSet, referenceBy = s.Value, true, rd.Name
					continue
				}
				if !s.Value.sameMesh(reference) {
					return nil, &CompileError{
						Rule: rd.Name, Index: i, Err: ErrInconsistentSprites,
						Detail: fmt.Sprintf("texture %q %dx%d pivot (%g,%g) vs %q %dx%d pivot (%g,%g) from rule %q",
							s.Value.Texture, s.Value.Width, s.Value.Height, s.Value.PivotX, s.Value.PivotY,
							reference.Texture, reference.Width, reference.Height, reference.PivotX, reference.PivotY,
							referenceBy),
					}
				}
			}
		}

		compiled = append(compiled, r)
	}

	return NewRuleSet(def.Vocabulary, compiled...), nil
}

// matrixSize возвращает n, если cells == n*n и n > 0, иначе 0
func matrixSize(cells int) int {
	if cells <= 0 {
		return 0
	}
	n := 1
	for n*n < cells {
		n++
	}
	if n*n != cells {
		return 0
	}
	return n
}
