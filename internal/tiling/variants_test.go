package tiling

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// arm - правило "1 в центре, 2 справа" с заданной симметрией
func arm(mirrorX, mirrorY, rotate bool) rules.RuleDefinition {
	return rules.RuleDefinition{
		Name: "arm",
		Matrix: []rules.CellValue{
			0, 0, 0,
			0, 1, 2,
			0, 0, 0,
		},
		MirrorX: mirrorX,
		MirrorY: mirrorY,
		Rotate:  rotate,
		Sprites: []rules.SpriteResult{sprite("arm", 1)},
	}
}

func TestRotationVariantsMatch(t *testing.T) {
	cases := []struct {
		name     string
		neighbor vec.Vec2
		rotation int
	}{
		{"right", v(6, 5), 0},
		{"up", v(5, 6), 1},
		{"left", v(4, 5), 2},
		{"down", v(5, 4), 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, false, arm(false, false, true))
			e.SetCell(ground, v(5, 5), 1)
			e.SetCell(ground, tc.neighbor, 2)
			step(t, e)

			h, ok := e.MatchHash(ground, v(5, 5))
			require.True(t, ok)
			assert.Equal(t, ApplicationHash(0, rules.MirrorNone, tc.rotation), h)

			out, ok := e.Outcome(ground, v(5, 5))
			require.True(t, ok)
			assert.Equal(t, tc.rotation, out.Rotation)
			assert.False(t, out.FlipX)
			assert.False(t, out.FlipY)
		})
	}

	t.Run("rotation disabled", func(t *testing.T) {
		e := newTestEngine(t, false, arm(false, false, false))
		e.SetCell(ground, v(5, 5), 1)
		e.SetCell(ground, v(5, 6), 2)
		step(t, e)

		_, ok := e.MatchHash(ground, v(5, 5))
		assert.False(t, ok)
	})
}

func TestMirrorYVariantMatches(t *testing.T) {
	up := rules.RuleDefinition{
		Name: "up",
		Matrix: []rules.CellValue{
			0, 2, 0,
			0, 1, 0,
			0, 0, 0,
		},
		MirrorY: true,
		Sprites: []rules.SpriteResult{sprite("up", 1)},
	}

	e := newTestEngine(t, false, up)
	e.SetCell(ground, v(5, 5), 1)
	e.SetCell(ground, v(5, 4), 2)
	step(t, e)

	h, ok := e.MatchHash(ground, v(5, 5))
	require.True(t, ok)
	assert.Equal(t, ApplicationHash(0, rules.MirrorY, 0), h)

	out, _ := e.Outcome(ground, v(5, 5))
	assert.False(t, out.FlipX)
	assert.True(t, out.FlipY)
}

func TestMirrorXYVariantMatches(t *testing.T) {
	corner := rules.RuleDefinition{
		Name: "corner",
		Matrix: []rules.CellValue{
			0, 0, 2,
			0, 1, 0,
			0, 0, 0,
		},
		MirrorX: true,
		MirrorY: true,
		Sprites: []rules.SpriteResult{sprite("corner", 1)},
	}

	cases := []struct {
		name     string
		neighbor vec.Vec2
		mirror   rules.MirrorBits
	}{
		{"identity", v(6, 6), rules.MirrorNone},
		{"x", v(4, 6), rules.MirrorX},
		{"y", v(6, 4), rules.MirrorY},
		{"xy", v(4, 4), rules.MirrorXY},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, false, corner)
			e.SetCell(ground, v(5, 5), 1)
			e.SetCell(ground, tc.neighbor, 2)
			step(t, e)

			h, ok := e.MatchHash(ground, v(5, 5))
			require.True(t, ok)
			assert.Equal(t, ApplicationHash(0, tc.mirror, 0), h)

			out, _ := e.Outcome(ground, v(5, 5))
			assert.Equal(t, tc.mirror&rules.MirrorX != 0, out.FlipX)
			assert.Equal(t, tc.mirror&rules.MirrorY != 0, out.FlipY)
		})
	}

	t.Run("xy needs both axes", func(t *testing.T) {
		onlyX := corner
		onlyX.MirrorY = false
		e := newTestEngine(t, false, onlyX)
		e.SetCell(ground, v(5, 5), 1)
		e.SetCell(ground, v(4, 4), 2)
		step(t, e)

		_, ok := e.MatchHash(ground, v(5, 5))
		assert.False(t, ok)
	})
}

// Отражение X и поворот на 180° дают одинаковую геометрию,
// побеждает отражение: оно раньше в порядке вариантов.
func TestMirrorsCheckedBeforeRotations(t *testing.T) {
	e := newTestEngine(t, false, arm(true, false, true))
	e.SetCell(ground, v(5, 5), 1)
	e.SetCell(ground, v(4, 5), 2)
	step(t, e)

	h, ok := e.MatchHash(ground, v(5, 5))
	require.True(t, ok)
	assert.Equal(t, ApplicationHash(0, rules.MirrorX, 0), h)
	assert.NotEqual(t, ApplicationHash(0, rules.MirrorNone, 2), h)

	out, _ := e.Outcome(ground, v(5, 5))
	assert.True(t, out.FlipX)
	assert.Equal(t, 0, out.Rotation)
}

func TestEvenMatrixRefreshOnNeighbourEdit(t *testing.T) {
	// Для n = 2 якорь - левая нижняя клетка квадрата, требования вправо и вверх
	quad := rules.RuleDefinition{
		Name: "quad",
		Matrix: []rules.CellValue{
			2, 2,
			1, 2,
		},
		Sprites: []rules.SpriteResult{sprite("quad", 1)},
	}
	e := newTestEngine(t, false, quad)
	e.SetCell(ground, v(0, 0), 1)
	e.SetCell(ground, v(1, 0), 2)
	e.SetCell(ground, v(0, 1), 2)
	step(t, e)
	_, ok := e.MatchHash(ground, v(0, 0))
	require.False(t, ok)

	// Правка только дальнего угла должна пересчитать якорь (0, 0)
	e.SetCell(ground, v(1, 1), 2)
	f := step(t, e)
	assert.Contains(t, f.Refreshed, v(0, 0))
	_, ok = e.MatchHash(ground, v(0, 0))
	assert.True(t, ok)

	e.SetCell(ground, v(1, 1), rules.Empty)
	f = step(t, e)
	assert.Contains(t, f.Refreshed, v(0, 0))
	_, ok = e.MatchHash(ground, v(0, 0))
	assert.False(t, ok)
}

// Инкрементальные кадры должны давать то же состояние, что и полный
// пересчёт той же сетки с нуля.
func TestIncrementalFramesMatchFullEvaluation(t *testing.T) {
	seventy := 70.0
	defs := []rules.RuleDefinition{
		{
			Name: "even4",
			Matrix: []rules.CellValue{
				0, 2, 2, 0,
				0, 1, 1, rules.Any,
				0, 1, -2, 0,
				0, 0, 0, 0,
			},
			MirrorX: true,
			MirrorY: true,
			Sprites: []rules.SpriteResult{sprite("big", 1)},
		},
		{
			Name: "even2",
			Matrix: []rules.CellValue{
				1, 2,
				rules.Any, 1,
			},
			MirrorX:     true,
			Rotate:      true,
			ResultFlipX: true,
			Sprites:     []rules.SpriteResult{sprite("a", 1), sprite("b", 3)},
		},
		{
			Name: "odd3",
			Matrix: []rules.CellValue{
				0, 2, 0,
				-1, 1, rules.Any,
				0, 0, 0,
			},
			MirrorY:      true,
			Rotate:       true,
			Chance:       &seventy,
			ResultRotate: true,
			Sprites:      []rules.SpriteResult{sprite("c", 2), sprite("d", 1)},
		},
		{
			Name:    "single",
			Matrix:  []rules.CellValue{2},
			Sprites: []rules.SpriteResult{sprite("e", 1)},
		},
	}

	const size = 12
	ctx := context.Background()

	for _, dual := range []bool{false, true} {
		t.Run(fmt.Sprintf("dual_grid=%v", dual), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, 11))
			e := newTestEngine(t, dual, defs...)

			for frame := 0; frame < 30; frame++ {
				if frame == 15 {
					e.ClearLayer(ground)
				}
				edits := 1 + rng.IntN(16)
				for i := 0; i < edits; i++ {
					e.SetCell(ground, v(rng.IntN(size), rng.IntN(size)), rules.CellValue(rng.IntN(3)))
				}
				_, err := e.ProcessFrame(ctx)
				require.NoError(t, err)

				full := newTestEngine(t, dual, defs...)
				full.Restore(ground, e.Snapshot(ground))
				_, err = full.ProcessFrame(ctx)
				require.NoError(t, err)

				require.Equal(t, full.Outcomes(ground), e.Outcomes(ground), "кадр %d", frame)
				for x := -4; x < size+4; x++ {
					for y := -4; y < size+4; y++ {
						wantH, wantOK := full.MatchHash(ground, v(x, y))
						gotH, gotOK := e.MatchHash(ground, v(x, y))
						require.Equal(t, wantOK, gotOK, "кадр %d, %v", frame, v(x, y))
						require.Equal(t, wantH, gotH, "кадр %d, %v", frame, v(x, y))
					}
				}
			}
		})
	}
}
