package rules

import (
	"sort"

	"github.com/annel0/autotile/internal/vec"
)

// Symmetry - флаги симметрии шаблона правила
type Symmetry uint8

const (
	SymmetryMirrorX Symmetry = 1 << iota
	SymmetryMirrorY
	SymmetryRotate
)

// Has проверяет наличие флага
func (s Symmetry) Has(f Symmetry) bool { return s&f != 0 }

// MirrorBits - отражения, при которых совпал вариант: бит 0 - X, бит 1 - Y
type MirrorBits uint8

const (
	MirrorNone MirrorBits = 0
	MirrorX    MirrorBits = 1
	MirrorY    MirrorBits = 2
	MirrorXY   MirrorBits = MirrorX | MirrorY
)

// PatternCell - одно требование к окрестности относительно якоря
type PatternCell struct {
	Offset   vec.Vec2
	Required CellValue
}

// VariantInfo описывает ориентацию одного варианта шаблона
type VariantInfo struct {
	Mirror   MirrorBits
	Rotation int // 0..3, четверти оборота против часовой
}

// SpriteDescriptor - непрозрачное для движка описание спрайта-меша
type SpriteDescriptor struct {
	Texture string     `yaml:"texture" json:"texture"`
	PivotX  float32    `yaml:"pivot_x" json:"pivot_x"`
	PivotY  float32    `yaml:"pivot_y" json:"pivot_y"`
	Width   int        `yaml:"width" json:"width"`
	Height  int        `yaml:"height" json:"height"`
	Rect    [4]float32 `yaml:"rect" json:"rect"` // UV: x, y, w, h
}

// sameMesh сравнивает пивот, размер и текстуру
func (s SpriteDescriptor) sameMesh(o SpriteDescriptor) bool {
	return s.Texture == o.Texture &&
		s.PivotX == o.PivotX && s.PivotY == o.PivotY &&
		s.Width == o.Width && s.Height == o.Height
}

// EntityRef - ссылка на префаб сущности
type EntityRef string

// CompiledRule - скомпилированное правило. Неизменяемо после компиляции.
type CompiledRule struct {
	Name           string
	Enabled        bool
	Symmetry       Symmetry
	ChancePercent  float64
	ResultSymmetry Symmetry // случайные отражения/поворот выбранного результата
	Entities       WeightedTable[EntityRef]
	Sprites        WeightedTable[SpriteDescriptor]

	cellsToCheck int
	cells        []PatternCell // варианты подряд, по cellsToCheck клеток каждый
	variants     []VariantInfo
	refresh      []vec.Vec2
}

// CellsToCheck возвращает длину одного варианта
func (r *CompiledRule) CellsToCheck() int { return r.cellsToCheck }

// VariantCount возвращает количество включённых вариантов (минимум 1)
func (r *CompiledRule) VariantCount() int { return len(r.variants) }

// Variant возвращает ориентацию варианта i
func (r *CompiledRule) Variant(i int) VariantInfo { return r.variants[i] }

// VariantCells возвращает клетки варианта i. Срез нельзя изменять.
func (r *CompiledRule) VariantCells(i int) []PatternCell {
	return r.cells[i*r.cellsToCheck : (i+1)*r.cellsToCheck]
}

// RefreshOffsets возвращает смещения, изменение в которых может изменить результат правила
func (r *CompiledRule) RefreshOffsets() []vec.Vec2 {
	out := make([]vec.Vec2, len(r.refresh))
	copy(out, r.refresh)
	return out
}

// RuleSet - упорядоченный набор правил одного словаря. Приоритет - порядок в списке.
type RuleSet struct {
	Vocabulary string

	rules   []*CompiledRule
	refresh []vec.Vec2
}

// NewRuleSet собирает набор и объединяет смещения обновления всех правил
func NewRuleSet(vocabulary string, rules ...*CompiledRule) *RuleSet {
	set := make(map[vec.Vec2]struct{})
	for _, r := range rules {
		for _, o := range r.refresh {
			set[o] = struct{}{}
		}
	}
	return &RuleSet{
		Vocabulary: vocabulary,
		rules:      rules,
		refresh:    sortedOffsets(set),
	}
}

// Len возвращает количество правил
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rule возвращает правило по индексу приоритета
func (rs *RuleSet) Rule(i int) *CompiledRule { return rs.rules[i] }

// RefreshOffsets возвращает объединение смещений обновления. Срез нельзя изменять.
func (rs *RuleSet) RefreshOffsets() []vec.Vec2 { return rs.refresh }

func sortedOffsets(set map[vec.Vec2]struct{}) []vec.Vec2 {
	out := make([]vec.Vec2, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
