package terrain

import (
	"fmt"
	"sort"

	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/annel0/autotile/internal/vec"
	"github.com/aquilax/go-perlin"
)

// Band сопоставляет диапазон шума значению клетки: шум < Below даёт Value
type Band struct {
	Below float64         `yaml:"below" json:"below"`
	Value rules.CellValue `yaml:"value" json:"value"`
}

// Options задаёт параметры генератора
type Options struct {
	Seed   int64
	Scale  float64 // размер "пятна" в клетках
	Alpha  float64 // Сглаживание шума
	Beta   float64 // Частота шума
	Octave int32   // Количество октав
	Bands  []Band  // шум выше последней полосы - пустая клетка
}

// DefaultOptions - вода, песок, трава
func DefaultOptions(seed int64) Options {
	return Options{
		Seed:   seed,
		Scale:  24,
		Alpha:  2,
		Beta:   2,
		Octave: 3,
		Bands: []Band{
			{Below: 0.42, Value: 1},
			{Below: 0.50, Value: 2},
			{Below: 0.75, Value: 3},
		},
	}
}

// Generator заполняет сетку по шуму Перлина
type Generator struct {
	noise *perlin.Perlin
	scale float64
	bands []Band
}

// NewGenerator проверяет параметры и создаёт генератор
func NewGenerator(opts Options) (*Generator, error) {
	if opts.Scale <= 0 {
		return nil, fmt.Errorf("terrain: scale должен быть > 0, получено %g", opts.Scale)
	}
	if len(opts.Bands) == 0 {
		return nil, fmt.Errorf("terrain: не задано ни одной полосы")
	}
	if opts.Octave <= 0 {
		opts.Octave = 3
	}

	bands := append([]Band(nil), opts.Bands...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].Below < bands[j].Below })

	return &Generator{
		noise: perlin.NewPerlin(opts.Alpha, opts.Beta, opts.Octave, opts.Seed),
		scale: opts.Scale,
		bands: bands,
	}, nil
}

// Noise возвращает значение шума в клетке (от 0 до 1)
func (g *Generator) Noise(p vec.Vec2) float64 {
	n := g.noise.Noise2D(float64(p.X)/g.scale, float64(p.Y)/g.scale)
	return (n + 1.0) / 2.0
}

// CellAt возвращает значение клетки по шуму
func (g *Generator) CellAt(p vec.Vec2) rules.CellValue {
	n := g.Noise(p)
	for _, b := range g.bands {
		if n < b.Below {
			return b.Value
		}
	}
	return rules.Empty
}

// Generate строит клетки прямоугольника [min, max] включительно
func (g *Generator) Generate(min, max vec.Vec2) map[vec.Vec2]rules.CellValue {
	out := make(map[vec.Vec2]rules.CellValue)
	for y := min.Y; y <= max.Y; y++ {
		for x := min.X; x <= max.X; x++ {
			p := vec.Vec2{X: x, Y: y}
			if v := g.CellAt(p); v != rules.Empty {
				out[p] = v
			}
		}
	}
	return out
}

// Fill ставит в очередь слоя все клетки прямоугольника, включая пустые,
// чтобы перезаписать прежнее содержимое области. Возвращает число клеток.
func (g *Generator) Fill(e *tiling.Engine, layer tiling.LayerID, min, max vec.Vec2) int {
	n := 0
	for y := min.Y; y <= max.Y; y++ {
		for x := min.X; x <= max.X; x++ {
			p := vec.Vec2{X: x, Y: y}
			e.SetCell(layer, p, g.CellAt(p))
			n++
		}
	}
	return n
}
