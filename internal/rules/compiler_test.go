package rules

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/autotile/internal/random"
	"github.com/annel0/autotile/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chance(v float64) *float64 { return &v }

func TestCompileInvalidMatrixSize(t *testing.T) {
	for _, size := range []int{0, 2, 5, 8, 10} {
		_, err := Compile(RuleDefinition{Name: "bad", Matrix: make([]CellValue, size)})
		require.Error(t, err, "размер %d должен быть отклонён", size)
		assert.True(t, errors.Is(err, ErrInvalidMatrixSize))

		var ce *CompileError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "bad", ce.Rule)
	}
}

func TestCompileInvalidChance(t *testing.T) {
	_, err := Compile(RuleDefinition{Name: "c", Matrix: []CellValue{1}, Chance: chance(150)})
	assert.ErrorIs(t, err, ErrInvalidChance)

	_, err = Compile(RuleDefinition{Name: "c", Matrix: []CellValue{1}, Chance: chance(-1)})
	assert.ErrorIs(t, err, ErrInvalidChance)

	_, err = Compile(RuleDefinition{Name: "c", Matrix: []CellValue{1}, Chance: chance(math.NaN())})
	assert.ErrorIs(t, err, ErrInvalidChance)

	def, err := ParseRuleSet([]byte("vocabulary: v\nrules:\n  - name: nan\n    matrix: [1]\n    chance: .nan\n"))
	require.NoError(t, err)
	_, err = CompileRuleSet(*def)
	assert.ErrorIs(t, err, ErrInvalidChance)
}

func TestCompileIdentityOnly(t *testing.T) {
	r, err := Compile(RuleDefinition{
		Name:   "single",
		Matrix: []CellValue{0, 0, 0, 0, 1, 0, 0, 0, 0},
	})
	require.NoError(t, err)

	assert.True(t, r.Enabled)
	assert.Equal(t, 100.0, r.ChancePercent)
	assert.Equal(t, 1, r.CellsToCheck())
	assert.Equal(t, 1, r.VariantCount())
	assert.Equal(t, []PatternCell{{Offset: vec.Vec2{}, Required: 1}}, r.VariantCells(0))
	assert.Equal(t, []vec.Vec2{{}}, r.RefreshOffsets())
}

func TestCompileVariantOrder(t *testing.T) {
	matrix := []CellValue{
		1, 0, 0,
		0, 2, 0,
		0, 0, -3,
	}

	tests := []struct {
		name     string
		def      RuleDefinition
		variants []VariantInfo
	}{
		{"mirror-x", RuleDefinition{MirrorX: true}, []VariantInfo{{}, {Mirror: MirrorX}}},
		{"mirror-y", RuleDefinition{MirrorY: true}, []VariantInfo{{}, {Mirror: MirrorY}}},
		{"mirror-xy", RuleDefinition{MirrorX: true, MirrorY: true},
			[]VariantInfo{{}, {Mirror: MirrorX}, {Mirror: MirrorY}, {Mirror: MirrorXY}}},
		{"rotate", RuleDefinition{Rotate: true},
			[]VariantInfo{{}, {Rotation: 1}, {Rotation: 2}, {Rotation: 3}}},
		{"all", RuleDefinition{MirrorX: true, MirrorY: true, Rotate: true},
			[]VariantInfo{{}, {Mirror: MirrorX}, {Mirror: MirrorY}, {Mirror: MirrorXY},
				{Rotation: 1}, {Rotation: 2}, {Rotation: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tt.def
			def.Name = tt.name
			def.Matrix = matrix
			r, err := Compile(def)
			require.NoError(t, err)

			require.Equal(t, len(tt.variants), r.VariantCount())
			for i, want := range tt.variants {
				assert.Equal(t, want, r.Variant(i))
				assert.Len(t, r.VariantCells(i), 3)
			}
		})
	}
}

func TestCompileMirrorCells(t *testing.T) {
	r, err := Compile(RuleDefinition{
		Name:    "corner",
		Matrix:  []CellValue{5, 0, 0, 0, 0, 0, 0, 0, 0},
		MirrorX: true,
	})
	require.NoError(t, err)

	assert.Equal(t, vec.Vec2{X: -1, Y: 1}, r.VariantCells(0)[0].Offset)
	assert.Equal(t, vec.Vec2{X: 1, Y: 1}, r.VariantCells(1)[0].Offset)
	assert.Equal(t, CellValue(5), r.VariantCells(1)[0].Required)
}

func TestCompileRefreshOffsetsCoverDisabledSymmetries(t *testing.T) {
	// Симметрии выключены, но смещения обновления покрывают все четыре угла
	r, err := Compile(RuleDefinition{
		Name:   "corner",
		Matrix: []CellValue{5, 0, 0, 0, 0, 0, 0, 0, 0},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []vec.Vec2{
		{X: -1, Y: -1}, {X: 1, Y: -1}, {X: -1, Y: 1}, {X: 1, Y: 1},
	}, r.RefreshOffsets())
}

func TestCompileRefreshOffsetsClosedUnderNegation(t *testing.T) {
	for _, n := range []int{2, 3, 4} {
		matrix := make([]CellValue, n*n)
		matrix[0] = 1
		matrix[len(matrix)-2] = -1

		r, err := Compile(RuleDefinition{Name: "even", Matrix: matrix})
		require.NoError(t, err)

		set := make(map[vec.Vec2]struct{})
		for _, o := range r.RefreshOffsets() {
			set[o] = struct{}{}
		}
		for o := range set {
			_, ok := set[o.Neg()]
			assert.True(t, ok, "n=%d: нет противоположного смещения для %v", n, o)
		}
		// Любая клетка шаблона в любой ориентации должна попадать в набор
		for i, v := range matrix {
			if v == Empty {
				continue
			}
			for q := 0; q < 4; q++ {
				_, ok := set[RotatedOffset(i, n, q).Neg()]
				assert.True(t, ok, "n=%d i=%d q=%d", n, i, q)
			}
		}
	}
}

func TestCompileWeightsClamped(t *testing.T) {
	r, err := Compile(RuleDefinition{
		Name:   "weights",
		Matrix: []CellValue{1},
		Sprites: []SpriteResult{
			{Weight: 0, SpriteDescriptor: SpriteDescriptor{Texture: "a"}},
			{Weight: -3, SpriteDescriptor: SpriteDescriptor{Texture: "b"}},
			{Weight: 5, SpriteDescriptor: SpriteDescriptor{Texture: "c"}},
		},
		Entities: []EntityResult{{Weight: 0, Prefab: "tree"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 7, r.Sprites.Sum())
	items := r.Sprites.Items()
	assert.Equal(t, 1, items[0].Weight)
	assert.Equal(t, 1, items[1].Weight)
	assert.Equal(t, 5, items[2].Weight)
	assert.Equal(t, 1, r.Entities.Sum())
}

func TestCompileDisabledRule(t *testing.T) {
	off := false
	r, err := Compile(RuleDefinition{Name: "off", Enabled: &off, Matrix: []CellValue{1}})
	require.NoError(t, err)
	assert.False(t, r.Enabled)
}

func TestCompileRuleSetUniformSprites(t *testing.T) {
	def := RuleSetDefinition{
		Vocabulary:     "terrain",
		UniformSprites: true,
		Rules: []RuleDefinition{
			{Name: "grass", Matrix: []CellValue{1}, Sprites: []SpriteResult{
				{Weight: 1, SpriteDescriptor: SpriteDescriptor{Texture: "atlas", Width: 16, Height: 16}},
			}},
			{Name: "water", Matrix: []CellValue{2}, Sprites: []SpriteResult{
				{Weight: 1, SpriteDescriptor: SpriteDescriptor{Texture: "atlas", Width: 32, Height: 16}},
			}},
		},
	}

	_, err := CompileRuleSet(def)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistentSprites)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "water", ce.Rule)
	assert.Equal(t, 1, ce.Index)
	assert.Contains(t, err.Error(), "water")

	// Без запроса инварианта набор компилируется
	def.UniformSprites = false
	rs, err := CompileRuleSet(def)
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, "terrain", rs.Vocabulary)
}

func TestRuleSetRefreshUnion(t *testing.T) {
	a, err := Compile(RuleDefinition{Name: "a", Matrix: []CellValue{1}})
	require.NoError(t, err)
	b, err := Compile(RuleDefinition{Name: "b", Matrix: []CellValue{0, 1, 0, 0, 1, 0, 0, 0, 0}})
	require.NoError(t, err)

	rs := NewRuleSet("v", a, b)
	assert.Same(t, a, rs.Rule(0))
	assert.Same(t, b, rs.Rule(1))
	assert.ElementsMatch(t, []vec.Vec2{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1}, {X: -1, Y: 0}, {X: 1, Y: 0},
	}, rs.RefreshOffsets())
}

func TestWeightedTableDistribution(t *testing.T) {
	table := NewWeightedTable([]Weighted[string]{
		{Weight: 1, Value: "rare"},
		{Weight: 3, Value: "common"},
		{Weight: 6, Value: "frequent"},
	})

	counts := make(map[string]int)
	draws := 0
	for y := 0; y < 150; y++ {
		for x := 0; x < 150; x++ {
			v, ok := table.Pick(random.NewStream(77, vec.Vec2{X: x, Y: y}))
			require.True(t, ok)
			counts[v]++
			draws++
		}
	}

	for _, it := range table.Items() {
		expected := float64(it.Weight) / float64(table.Sum())
		actual := float64(counts[it.Value]) / float64(draws)
		assert.True(t, math.Abs(expected-actual) < 0.02,
			"%s: ожидалась доля %.3f, получено %.3f", it.Value, expected, actual)
	}
}

func TestWeightedTableEmpty(t *testing.T) {
	table := NewWeightedTable[string](nil)
	_, ok := table.Pick(random.NewStream(1, vec.Vec2{}))
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestLoadRuleSetDir(t *testing.T) {
	dir := t.TempDir()
	yamlSrc := `
vocabulary: terrain
dual_grid: true
rules:
  - name: grass-edge
    matrix: [999, 1, 999,
             -1, 1, 999,
             999, 999, 999]
    mirror_x: true
    chance: 50
    result_flip_x: true
    sprites:
      - weight: 2
        texture: atlas
        width: 16
        height: 16
        rect: [0, 0, 0.25, 0.25]
    entities:
      - weight: 1
        prefab: bush
`
	jsonSrc := `{"vocabulary": "walls", "rules": [{"name": "w", "matrix": [1]}]}`

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlSrc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(jsonSrc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	defs, err := LoadRuleSetDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "terrain", defs[0].Vocabulary)
	assert.True(t, defs[0].DualGrid)
	require.Len(t, defs[0].Rules, 1)
	rd := defs[0].Rules[0]
	assert.Equal(t, 50.0, rd.ChancePercent())
	assert.Equal(t, CellValue(-1), rd.Matrix[3])
	require.Len(t, rd.Sprites, 1)
	assert.Equal(t, "atlas", rd.Sprites[0].Texture)
	assert.Equal(t, float32(0.25), rd.Sprites[0].Rect[2])
	assert.Equal(t, EntityRef("bush"), rd.Entities[0].Prefab)

	rs, err := CompileRuleSet(*defs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Rule(0).VariantCount())
	assert.True(t, rs.Rule(0).ResultSymmetry.Has(SymmetryMirrorX))

	assert.Equal(t, "walls", defs[1].Vocabulary)
}

func TestParseRuleSetRequiresVocabulary(t *testing.T) {
	_, err := ParseRuleSet([]byte(`rules: []`))
	assert.Error(t, err)
}
