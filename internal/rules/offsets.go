package rules

import "github.com/annel0/autotile/internal/vec"

// Индекс i квадратной матрицы размера n соответствует клетке (i mod n, i div n),
// строки идут сверху вниз. Смещения считаются от якоря в центре матрицы,
// ось Y направлена вверх. Для чётного n якорь сдвинут: к x прибавляется 1.

// MirroredOffset возвращает смещение клетки i после отражения по выбранным осям
func MirroredOffset(i, n int, mirrorX, mirrorY bool) vec.Vec2 {
	x, y := i%n, i/n
	if mirrorX {
		x = n - 1 - x
	}
	if mirrorY {
		y = n - 1 - y
	}
	return centered(x, y, n)
}

// RotatedOffset возвращает смещение клетки i после поворота на quarter*90° против часовой.
// Поворот делается в удвоенных координатах, чтобы центр матрицы оставался целым
// и для чётного, и для нечётного n.
func RotatedOffset(i, n, quarter int) vec.Vec2 {
	x, y := i%n, i/n
	x2 := 2*x - (n - 1)
	y2 := (n - 1) - 2*y

	for k := 0; k < ((quarter%4)+4)%4; k++ {
		x2, y2 = -y2, x2
	}

	x = (x2 + n - 1) / 2
	y = (n - 1 - y2) / 2
	return centered(x, y, n)
}

func centered(x, y, n int) vec.Vec2 {
	o := vec.Vec2{X: x - n/2, Y: n/2 - y}
	if n%2 == 0 {
		o.X++
	}
	return o
}
