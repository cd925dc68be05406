package vec

import "fmt"

// Vec2 представляет координату клетки на сетке.
// Сравнивается по значению и годится как ключ карты; порядка по умолчанию нет.
type Vec2 struct {
	X, Y int
}

// Add возвращает сумму координат
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub возвращает разность координат
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Neg возвращает противоположный вектор
func (v Vec2) Neg() Vec2 {
	return Vec2{X: -v.X, Y: -v.Y}
}

// Pack упаковывает координату в 64 бита: X в старших 32, Y в младших.
func (v Vec2) Pack() uint64 {
	return uint64(uint32(int32(v.X)))<<32 | uint64(uint32(int32(v.Y)))
}

// Unpack восстанавливает координату из результата Pack
func Unpack(p uint64) Vec2 {
	return Vec2{X: int(int32(uint32(p >> 32))), Y: int(int32(uint32(p)))}
}

// Less задаёт стабильный порядок (по Y, затем по X) для детерминированного вывода.
func (v Vec2) Less(o Vec2) bool {
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.X < o.X
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}
