package random

import (
	"math/rand/v2"

	"github.com/annel0/autotile/internal/vec"
)

// Stream - поток псевдослучайных чисел одной клетки в одном проходе.
// Проверка шанса правила и выбор результата берут значения из одного потока по очереди.
type Stream struct {
	r *rand.Rand
}

// NewStream создаёт поток, засеянный hash(seed, pos)
func NewStream(seed uint32, pos vec.Vec2) *Stream {
	h := PositionHash(seed, pos)
	return &Stream{r: rand.New(rand.NewPCG(h, mix64(h)))}
}

// Float64 возвращает значение в [0, 1)
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// IntN возвращает значение в [0, n). При n <= 0 возвращает 0.
func (s *Stream) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return s.r.IntN(n)
}

// Bool - честная монетка
func (s *Stream) Bool() bool {
	return s.r.IntN(2) == 1
}

// Chance возвращает true, если бросок в [0,100) меньше percent.
// percent = 100 проходит всегда, percent = 0 не проходит никогда.
func (s *Stream) Chance(percent float64) bool {
	return s.r.Float64()*100 < percent
}
