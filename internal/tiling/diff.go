package tiling

import "github.com/annel0/autotile/internal/vec"

// expandRefresh добавляет в out каждую изменённую координату,
// сдвинутую на каждое смещение обновления набора правил.
// Смещения замкнуты относительно отрицания, поэтому p+o покрывает
// все якоря, чей шаблон касается p.
func expandRefresh(changed posSet, offsets []vec.Vec2, out posSet) {
	for p := range changed {
		for _, o := range offsets {
			out[p.Add(o)] = struct{}{}
		}
	}
}
