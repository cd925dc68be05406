package tiling

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/vec"
	"github.com/stretchr/testify/require"
)

const ground LayerID = "ground"

func sprite(texture string, weight int) rules.SpriteResult {
	return rules.SpriteResult{Weight: weight, SpriteDescriptor: rules.SpriteDescriptor{Texture: texture}}
}

// centreRule - правило "в центре 1, вокруг что угодно" с одним спрайтом
func centreRule(name, texture string) rules.RuleDefinition {
	A := rules.Any
	return rules.RuleDefinition{
		Name: name,
		Matrix: []rules.CellValue{
			A, A, A,
			A, 1, A,
			A, A, A,
		},
		Sprites: []rules.SpriteResult{sprite(texture, 1)},
	}
}

func compileSet(t *testing.T, defs ...rules.RuleDefinition) *rules.RuleSet {
	t.Helper()
	rs, err := rules.CompileRuleSet(rules.RuleSetDefinition{Vocabulary: "test", Rules: defs})
	require.NoError(t, err)
	return rs
}

func newTestEngine(t *testing.T, dualGrid bool, defs ...rules.RuleDefinition) *Engine {
	t.Helper()
	e := NewEngine(Options{Seed: 42})
	e.SetRuleSet(ground, compileSet(t, defs...))
	require.True(t, e.RegisterLayer(ground, dualGrid))
	return e
}

// step выполняет кадр и возвращает результат единственного слоя
func step(t *testing.T, e *Engine) LayerFrame {
	t.Helper()
	frames, err := e.ProcessFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	return frames[0]
}

func v(x, y int) vec.Vec2 { return vec.Vec2{X: x, Y: y} }

type recordingSink struct {
	mu     sync.Mutex
	frames []LayerFrame
}

func (s *recordingSink) PublishFrame(_ context.Context, f *LayerFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, *f)
	return nil
}

var errSinkDown = errors.New("получатель недоступен")

type failingSink struct{}

func (failingSink) PublishFrame(context.Context, *LayerFrame) error { return errSinkDown }
