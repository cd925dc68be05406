package tiling

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleCellScenario(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))

	e.SetCell(ground, v(5, 5), 1)
	f := step(t, e)
	assert.Equal(t, []vec.Vec2{v(5, 5)}, f.Refreshed)
	assert.False(t, f.Cleared)

	out, ok := e.Outcome(ground, v(5, 5))
	require.True(t, ok)
	assert.Equal(t, "grass", out.Sprite.Texture)
	assert.False(t, out.FlipX)
	assert.Equal(t, 0, out.Rotation)

	h, ok := e.MatchHash(ground, v(5, 5))
	require.True(t, ok)
	assert.NotZero(t, h)
	assert.Equal(t, ApplicationHash(0, rules.MirrorNone, 0), h)

	// То же значение: координата помечена, но хэш не изменился
	e.SetCell(ground, v(5, 5), 1)
	f = step(t, e)
	assert.Empty(t, f.Refreshed)
	assert.True(t, f.Empty())

	// Удаление клетки снимает результат
	e.SetCell(ground, v(5, 5), rules.Empty)
	f = step(t, e)
	assert.Equal(t, []vec.Vec2{v(5, 5)}, f.Refreshed)
	require.Len(t, f.Updates, 1)
	assert.Nil(t, f.Updates[0].Sprite)

	_, ok = e.Outcome(ground, v(5, 5))
	assert.False(t, ok)
	_, ok = e.MatchHash(ground, v(5, 5))
	assert.False(t, ok)
	assert.Equal(t, rules.Empty, e.Cell(ground, v(5, 5)))
}

func TestRepeatedSetCellStaysChanged(t *testing.T) {
	l := newLayer(ground, false, nil)
	l.grid[v(5, 5)] = 1

	l.pending.push(command{kind: cmdSetCell, pos: v(5, 5), value: 1})
	l.applyPending()
	assert.Contains(t, l.changed, v(5, 5))
}

func TestNeighbourEditKeepsMatchUnrefreshed(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))

	e.SetCell(ground, v(5, 5), 1)
	step(t, e)

	// Сосед влияет на окрестность (5,5), но правило и ориентация те же
	e.SetCell(ground, v(6, 5), 3)
	f := step(t, e)
	assert.NotContains(t, f.Refreshed, v(5, 5))
	assert.Empty(t, f.Refreshed)
}

func TestPriorityFirstRuleWins(t *testing.T) {
	e := newTestEngine(t, false,
		centreRule("first", "a"),
		centreRule("second", "b"),
	)

	e.SetCell(ground, v(0, 0), 1)
	step(t, e)

	out, ok := e.Outcome(ground, v(0, 0))
	require.True(t, ok)
	assert.Equal(t, "a", out.Sprite.Texture)
}

func TestDisabledRuleSkipped(t *testing.T) {
	off := false
	first := centreRule("off", "a")
	first.Enabled = &off

	e := newTestEngine(t, false, first, centreRule("on", "b"))
	e.SetCell(ground, v(0, 0), 1)
	step(t, e)

	out, ok := e.Outcome(ground, v(0, 0))
	require.True(t, ok)
	assert.Equal(t, "b", out.Sprite.Texture)

	h, _ := e.MatchHash(ground, v(0, 0))
	assert.Equal(t, ApplicationHash(1, rules.MirrorNone, 0), h)
}

func TestMirrorXVariantMatches(t *testing.T) {
	edge := rules.RuleDefinition{
		Name: "edge",
		Matrix: []rules.CellValue{
			0, 0, 0,
			0, 1, 2,
			0, 0, 0,
		},
		MirrorX: true,
		Sprites: []rules.SpriteResult{sprite("edge", 1)},
	}

	t.Run("identity", func(t *testing.T) {
		e := newTestEngine(t, false, edge)
		e.SetCell(ground, v(5, 5), 1)
		e.SetCell(ground, v(6, 5), 2)
		step(t, e)

		h, ok := e.MatchHash(ground, v(5, 5))
		require.True(t, ok)
		assert.Equal(t, ApplicationHash(0, rules.MirrorNone, 0), h)
		out, _ := e.Outcome(ground, v(5, 5))
		assert.False(t, out.FlipX)
	})

	t.Run("mirrored", func(t *testing.T) {
		e := newTestEngine(t, false, edge)
		e.SetCell(ground, v(5, 5), 1)
		e.SetCell(ground, v(4, 5), 2)
		step(t, e)

		h, ok := e.MatchHash(ground, v(5, 5))
		require.True(t, ok)
		assert.Equal(t, ApplicationHash(0, rules.MirrorX, 0), h)
		out, _ := e.Outcome(ground, v(5, 5))
		assert.True(t, out.FlipX)
		assert.False(t, out.FlipY)

		_, ok = e.MatchHash(ground, v(4, 5))
		assert.False(t, ok)
	})

	t.Run("mirror disabled", func(t *testing.T) {
		plain := edge
		plain.MirrorX = false
		e := newTestEngine(t, false, plain)
		e.SetCell(ground, v(5, 5), 1)
		e.SetCell(ground, v(4, 5), 2)
		step(t, e)

		_, ok := e.MatchHash(ground, v(5, 5))
		assert.False(t, ok)
	})
}

func TestDeterministicEvaluation(t *testing.T) {
	rule := rules.RuleDefinition{
		Name:         "noisy",
		Matrix:       []rules.CellValue{1},
		ResultFlipX:  true,
		ResultFlipY:  true,
		ResultRotate: true,
		Sprites:      []rules.SpriteResult{sprite("a", 1), sprite("b", 2), sprite("c", 3)},
		Entities:     []rules.EntityResult{{Weight: 1, Prefab: "rock"}, {Weight: 3, Prefab: "bush"}},
	}
	rs := compileSet(t, rule)

	l := newLayer(ground, false, rs)
	for x := 0; x < 50; x++ {
		l.grid[v(x, x%7)] = 1
	}
	for x := 0; x < 50; x++ {
		a := l.evaluate(v(x, x%7), rs, 1234)
		b := l.evaluate(v(x, x%7), rs, 1234)
		require.True(t, a.matched)
		assert.Equal(t, a, b)
	}

	// Два движка с одним зерном дают одинаковый результат
	build := func() *Engine {
		e := newTestEngine(t, false, rule)
		for x := 0; x < 100; x++ {
			e.SetCell(ground, v(x, -x), 1)
		}
		step(t, e)
		return e
	}
	assert.Equal(t, build().Outcomes(ground), build().Outcomes(ground))
}

func TestChanceGate(t *testing.T) {
	zero := 0.0
	never := rules.RuleDefinition{Name: "never", Matrix: []rules.CellValue{1}, Chance: &zero,
		Sprites: []rules.SpriteResult{sprite("x", 1)}}

	e := newTestEngine(t, false, never)
	for x := 0; x < 100; x++ {
		e.SetCell(ground, v(x, 0), 1)
	}
	f := step(t, e)
	assert.Empty(t, f.Refreshed)

	half := 50.0
	coin := rules.RuleDefinition{Name: "coin", Matrix: []rules.CellValue{1}, Chance: &half,
		Sprites: []rules.SpriteResult{sprite("x", 1)}}

	e = newTestEngine(t, false, coin)
	const n = 4000
	for x := 0; x < n; x++ {
		e.SetCell(ground, v(x%80, x/80), 1)
	}
	f = step(t, e)
	ratio := float64(len(f.Refreshed)) / n
	assert.InDelta(t, 0.5, ratio, 0.05)
}

func TestDualGridExpansion(t *testing.T) {
	l := newLayer(ground, true, nil)
	l.pending.push(command{kind: cmdSetCell, pos: v(3, 4), value: 1})
	l.applyPending()

	assert.Len(t, l.changed, 4)
	for _, p := range []vec.Vec2{v(3, 4), v(2, 4), v(3, 3), v(2, 3)} {
		assert.Contains(t, l.changed, p)
	}

	single := newLayer(ground, false, nil)
	single.pending.push(command{kind: cmdSetCell, pos: v(3, 4), value: 1})
	single.applyPending()
	assert.Len(t, single.changed, 1)
}

func TestDualGridMatchesAtExpandedAnchors(t *testing.T) {
	// Якорь dual grid смотрит на квадрат 2x2 вправо-вверх от себя: (0,0), (1,0), (0,1), (1,1)
	quad := rules.RuleDefinition{
		Name: "quad",
		Matrix: []rules.CellValue{
			1, 1,
			1, 1,
		},
		Sprites: []rules.SpriteResult{sprite("full", 1)},
	}
	e := newTestEngine(t, true, quad)
	for _, p := range []vec.Vec2{v(0, 0), v(1, 0), v(0, 1), v(1, 1)} {
		e.SetCell(ground, p, 1)
	}
	f := step(t, e)
	assert.Len(t, f.Refreshed, 1)
}

func TestClearLayer(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))

	e.SetCell(ground, v(1, 1), 1)
	e.SetCell(ground, v(2, 2), 1)
	step(t, e)

	e.ClearLayer(ground)
	f := step(t, e)
	assert.True(t, f.Cleared)
	assert.Empty(t, f.Refreshed)
	assert.Empty(t, e.Snapshot(ground))
	_, ok := e.MatchHash(ground, v(1, 1))
	assert.False(t, ok)

	// Следующий кадр снова без флага очистки, диффинг работает как обычно
	e.SetCell(ground, v(1, 1), 1)
	f = step(t, e)
	assert.False(t, f.Cleared)
	assert.Equal(t, []vec.Vec2{v(1, 1)}, f.Refreshed)
}

func TestClearDropsEarlierEditsOfSameFrame(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))

	e.SetCell(ground, v(1, 1), 1)
	e.ClearLayer(ground)
	e.SetCell(ground, v(3, 3), 1)
	f := step(t, e)

	assert.True(t, f.Cleared)
	assert.Equal(t, []vec.Vec2{v(3, 3)}, f.Refreshed)
	assert.Equal(t, map[vec.Vec2]rules.CellValue{v(3, 3): 1}, e.Snapshot(ground))
}

func TestClearAllLayers(t *testing.T) {
	e := NewEngine(Options{})
	rs := compileSet(t, centreRule("centre", "grass"))
	for _, id := range []LayerID{"a", "b"} {
		e.SetRuleSet(id, rs)
		e.RegisterLayer(id, false)
		e.SetCell(id, v(0, 0), 1)
	}
	_, err := e.ProcessFrame(context.Background())
	require.NoError(t, err)

	e.ClearAllLayers()
	frames, err := e.ProcessFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.True(t, f.Cleared, "слой %s", f.Layer)
	}
	assert.Equal(t, LayerID("a"), frames[0].Layer)
}

func TestDuplicateWritesLastWins(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))
	e.SetCell(ground, v(0, 0), 1)
	e.SetCell(ground, v(0, 0), 2)
	f := step(t, e)

	assert.Empty(t, f.Refreshed)
	assert.Equal(t, rules.CellValue(2), e.Cell(ground, v(0, 0)))
}

func TestRegisterLayerIdempotent(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))
	assert.False(t, e.RegisterLayer(ground, true))

	layers := e.Layers()
	require.Len(t, layers, 1)
	assert.False(t, layers[0].DualGrid)
	assert.Equal(t, 1, layers[0].Rules)
}

func TestUnknownLayerPanics(t *testing.T) {
	e := NewEngine(Options{})
	assert.False(t, e.HasLayer("нет"))
	assert.Panics(t, func() { e.SetCell("нет", v(0, 0), 1) })
	assert.Panics(t, func() { e.ClearLayer("нет") })
	assert.Panics(t, func() { e.Outcome("нет", v(0, 0)) })
}

func TestSetCellRejectsPatternValues(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))
	assert.Panics(t, func() { e.SetCell(ground, v(0, 0), rules.Any) })
	assert.Panics(t, func() { e.SetCell(ground, v(0, 0), rules.Never) })
	assert.Panics(t, func() { e.SetCell(ground, v(0, 0), -1) })
	assert.NotPanics(t, func() { e.SetCell(ground, v(0, 0), rules.Empty) })

	e.Restore(ground, map[vec.Vec2]rules.CellValue{v(1, 1): 1, v(2, 2): rules.Any, v(3, 3): -4})
	step(t, e)
	assert.Equal(t, map[vec.Vec2]rules.CellValue{v(1, 1): 1}, e.Snapshot(ground))
}

func TestLayerWithoutRulesOnlyStoresCells(t *testing.T) {
	e := NewEngine(Options{})
	e.RegisterLayer("bare", false)
	e.SetCell("bare", v(0, 0), 1)

	frames, err := e.ProcessFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Refreshed)
	assert.Equal(t, rules.CellValue(1), e.Cell("bare", v(0, 0)))
}

func TestSeedLatchedAtFrameBoundary(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))
	e.SetGlobalSeed(9)
	assert.Equal(t, uint32(42), e.Seed())

	step(t, e)
	assert.Equal(t, uint32(9), e.Seed())
	assert.Equal(t, uint64(1), e.Frame())
}

func TestEntityLifecycle(t *testing.T) {
	tree := rules.RuleDefinition{
		Name:     "tree",
		Matrix:   []rules.CellValue{1},
		Entities: []rules.EntityResult{{Weight: 1, Prefab: "tree"}},
	}
	e := newTestEngine(t, false, tree)

	e.SetCell(ground, v(1, 1), 1)
	f := step(t, e)
	assert.Equal(t, []SpawnIntent{{Position: v(1, 1), Prefab: "tree"}}, f.Spawns)

	// Правило без спрайтов: результат совпал, но отрисовывать нечего
	_, ok := e.Outcome(ground, v(1, 1))
	assert.False(t, ok)

	assert.True(t, e.RegisterSpawned(ground, v(1, 1), 7))
	assert.False(t, e.RegisterSpawned(ground, v(9, 9), 8))

	e.SetCell(ground, v(1, 1), rules.Empty)
	f = step(t, e)
	assert.Equal(t, []DespawnIntent{{Position: v(1, 1), Handle: 7}}, f.Despawns)
	_, ok = e.Spawned(ground, v(1, 1))
	assert.False(t, ok)
}

func TestClearDespawnsEntities(t *testing.T) {
	tree := rules.RuleDefinition{
		Name:     "tree",
		Matrix:   []rules.CellValue{1},
		Entities: []rules.EntityResult{{Weight: 1, Prefab: "tree"}},
	}
	e := newTestEngine(t, false, tree)
	e.SetCell(ground, v(0, 0), 1)
	step(t, e)
	require.True(t, e.RegisterSpawned(ground, v(0, 0), 3))

	e.ClearLayer(ground)
	f := step(t, e)
	assert.Equal(t, []DespawnIntent{{Position: v(0, 0), Handle: 3}}, f.Despawns)
}

func TestSetRuleSetReevaluatesLayer(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))
	e.SetCell(ground, v(5, 5), 1)
	step(t, e)

	e.SetRuleSet(ground, compileSet(t, centreRule("centre", "sand")))
	f := step(t, e)
	assert.True(t, f.Cleared)
	assert.Equal(t, []vec.Vec2{v(5, 5)}, f.Refreshed)

	out, ok := e.Outcome(ground, v(5, 5))
	require.True(t, ok)
	assert.Equal(t, "sand", out.Sprite.Texture)
}

func TestRefreshedSortedAndConcurrentEditors(t *testing.T) {
	e := NewEngine(Options{Seed: 1, Workers: 3, BatchSize: 7})
	e.SetRuleSet(ground, compileSet(t, rules.RuleDefinition{
		Name: "any", Matrix: []rules.CellValue{1}, Sprites: []rules.SpriteResult{sprite("x", 1)},
	}))
	e.RegisterLayer(ground, false)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				e.SetCell(ground, v(i, w), 1)
			}
		}(w)
	}
	wg.Wait()

	f := step(t, e)
	require.Len(t, f.Refreshed, 800)
	assert.True(t, sort.SliceIsSorted(f.Refreshed, func(i, j int) bool {
		return f.Refreshed[i].Less(f.Refreshed[j])
	}))
	assert.Equal(t, 800, e.Layers()[0].Matched)
}

func TestSnapshotRestore(t *testing.T) {
	src := newTestEngine(t, false, centreRule("centre", "grass"))
	for i := 0; i < 10; i++ {
		src.SetCell(ground, v(i, i*2), 1)
	}
	step(t, src)

	dst := newTestEngine(t, false, centreRule("centre", "grass"))
	dst.SetCell(ground, v(100, 100), 1)
	dst.Restore(ground, src.Snapshot(ground))
	f := step(t, dst)

	assert.True(t, f.Cleared)
	assert.Equal(t, src.Snapshot(ground), dst.Snapshot(ground))
	assert.Equal(t, src.Outcomes(ground), dst.Outcomes(ground))
}

func TestSinks(t *testing.T) {
	rec := &recordingSink{}
	e := NewEngine(Options{Sinks: []FrameSink{rec}})
	e.SetRuleSet(ground, compileSet(t, centreRule("centre", "grass")))
	e.RegisterLayer(ground, false)

	// Пустой кадр не публикуется
	_, err := e.ProcessFrame(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.frames)

	e.SetCell(ground, v(0, 0), 1)
	_, err = e.ProcessFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.frames, 1)
	assert.Equal(t, uint64(2), rec.frames[0].Frame)

	e.AddSink(failingSink{})
	e.SetCell(ground, v(0, 0), rules.Empty)
	frames, err := e.ProcessFrame(context.Background())
	assert.ErrorIs(t, err, errSinkDown)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Refreshed, 1)
	assert.Len(t, rec.frames, 2)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	e := NewEngine(Options{Metrics: m})
	e.SetRuleSet(ground, compileSet(t, centreRule("centre", "grass")))
	e.RegisterLayer(ground, false)
	e.SetCell(ground, v(0, 0), 1)
	_, err := e.ProcessFrame(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.layers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshed.WithLabelValues(string(ground))))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.evaluated.WithLabelValues(string(ground))))
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, false, centreRule("centre", "grass"))
	e.SetCell(ground, v(0, 0), 1)
	e.SetCell(ground, v(0, 1), 1)
	assert.Equal(t, 2, e.Layers()[0].Pending)

	step(t, e)
	st := e.Stats()
	assert.Equal(t, uint64(1), st.Frame)
	assert.Equal(t, uint32(42), st.Seed)
	require.Len(t, st.Layers, 1)
	assert.Equal(t, 2, st.Layers[0].Cells)
	assert.Equal(t, 2, st.Layers[0].Rendered)
	assert.Equal(t, 0, st.Layers[0].Pending)
	assert.Equal(t, ground, st.Layers[0].ID)
}
