package tiling

import (
	"testing"

	"github.com/annel0/autotile/internal/random"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationHashDistinguishesOrientation(t *testing.T) {
	seen := make(map[uint64]struct{})
	for rule := 0; rule < 8; rule++ {
		for _, m := range []rules.MirrorBits{rules.MirrorNone, rules.MirrorX, rules.MirrorY, rules.MirrorXY} {
			for rot := 0; rot < 4; rot++ {
				h := ApplicationHash(rule, m, rot)
				_, dup := seen[h]
				require.False(t, dup, "коллизия: правило %d, отражение %d, поворот %d", rule, m, rot)
				seen[h] = struct{}{}
			}
		}
	}
}

func TestSelectComposesVariantOrientation(t *testing.T) {
	r, err := rules.Compile(rules.RuleDefinition{
		Name:    "plain",
		Matrix:  []rules.CellValue{1},
		Sprites: []rules.SpriteResult{sprite("a", 1)},
	})
	require.NoError(t, err)

	s := random.NewStream(1, vec.Vec2{})
	sel := Select(r, Match{Mirror: rules.MirrorXY, Rotation: 3}, s)
	require.True(t, sel.HasSprite)
	assert.False(t, sel.HasEntity)
	assert.True(t, sel.Sprite.FlipX)
	assert.True(t, sel.Sprite.FlipY)
	assert.Equal(t, 3, sel.Sprite.Rotation)
}

func TestSelectRandomRotationStaysInRange(t *testing.T) {
	r, err := rules.Compile(rules.RuleDefinition{
		Name:         "spin",
		Matrix:       []rules.CellValue{1},
		ResultRotate: true,
		Sprites:      []rules.SpriteResult{sprite("a", 1)},
	})
	require.NoError(t, err)

	counts := [4]int{}
	for x := 0; x < 400; x++ {
		sel := Select(r, Match{Rotation: 2}, random.NewStream(5, vec.Vec2{X: x}))
		require.GreaterOrEqual(t, sel.Sprite.Rotation, 0)
		require.Less(t, sel.Sprite.Rotation, 4)
		counts[sel.Sprite.Rotation]++
	}
	for rot, c := range counts {
		assert.Greater(t, c, 50, "поворот %d выпадает слишком редко", rot)
	}
}

type mapGrid map[vec.Vec2]rules.CellValue

func (g mapGrid) Cell(p vec.Vec2) rules.CellValue { return g[p] }

func TestMatchAtMissingCellIsEmpty(t *testing.T) {
	rs := compileSet(t, rules.RuleDefinition{
		Name: "hole",
		Matrix: []rules.CellValue{
			0, 0, 0,
			0, 1, -2,
			0, 0, 0,
		},
	})

	// Справа пусто: -2 допускает всё, кроме 2
	m, ok := MatchAt(vec.Vec2{}, mapGrid{{}: 1}, rs, random.NewStream(0, vec.Vec2{}))
	require.True(t, ok)
	assert.Equal(t, 0, m.RuleIndex)

	_, ok = MatchAt(vec.Vec2{}, mapGrid{{}: 1, {X: 1}: 2}, rs, random.NewStream(0, vec.Vec2{}))
	assert.False(t, ok)
}

func TestExpandRefresh(t *testing.T) {
	out := make(posSet)
	expandRefresh(posSet{{X: 2, Y: 2}: {}}, []vec.Vec2{{}, {X: 1}, {X: -1}}, out)
	assert.Len(t, out, 3)
	assert.Contains(t, out, vec.Vec2{X: 3, Y: 2})
	assert.Contains(t, out, vec.Vec2{X: 1, Y: 2})
}
