package rules

import (
	"sort"

	"github.com/annel0/autotile/internal/random"
)

// Weighted - элемент таблицы результатов с весом
type Weighted[T any] struct {
	Weight int
	Value  T
}

// WeightedTable - таблица результатов с накопленными суммами весов.
// После создания не изменяется.
type WeightedTable[T any] struct {
	items      []Weighted[T]
	cumulative []int
	sum        int
}

// NewWeightedTable строит таблицу. Веса меньше 1 приводятся к 1.
func NewWeightedTable[T any](items []Weighted[T]) WeightedTable[T] {
	t := WeightedTable[T]{
		items:      make([]Weighted[T], len(items)),
		cumulative: make([]int, len(items)),
	}
	for i, it := range items {
		if it.Weight < 1 {
			it.Weight = 1
		}
		t.sum += it.Weight
		t.items[i] = it
		t.cumulative[i] = t.sum
	}
	return t
}

// Len возвращает количество вариантов
func (t WeightedTable[T]) Len() int { return len(t.items) }

// Sum возвращает сумму весов
func (t WeightedTable[T]) Sum() int { return t.sum }

// Items возвращает копию элементов таблицы (с уже исправленными весами)
func (t WeightedTable[T]) Items() []Weighted[T] {
	out := make([]Weighted[T], len(t.items))
	copy(out, t.items)
	return out
}

// Pick выбирает значение: бросок в [0, sum), первый элемент с накопленной суммой больше броска.
func (t WeightedTable[T]) Pick(s *random.Stream) (T, bool) {
	var zero T
	if t.sum == 0 {
		return zero, false
	}
	draw := s.IntN(t.sum)
	idx := sort.Search(len(t.cumulative), func(i int) bool { return draw < t.cumulative[i] })
	return t.items[idx].Value, true
}
