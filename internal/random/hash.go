// Package random содержит детерминированную случайность, привязанную к позиции:
// один и тот же сид и одна и та же клетка всегда дают одинаковую последовательность.
package random

import (
	"encoding/binary"

	"github.com/annel0/autotile/internal/vec"
	"github.com/cespare/xxhash/v2"
)

// PositionHash смешивает глобальный сид с упакованной координатой.
// xxhash даёт лавинный эффект, поэтому соседние клетки не коррелируют.
func PositionHash(seed uint32, pos vec.Vec2) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], seed)
	binary.LittleEndian.PutUint64(buf[4:12], pos.Pack())
	return xxhash.Sum64(buf[:])
}

// mix64 - финализатор splitmix64, используется для второго слова состояния PCG
func mix64(v uint64) uint64 {
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}
