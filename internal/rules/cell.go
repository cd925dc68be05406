package rules

// CellValue - значение клетки IntGrid. 0 означает пустую клетку,
// положительные значения - категории словаря.
// В шаблонах правил отрицательное значение означает «не равно».
type CellValue int32

const (
	// Empty - пустая клетка. В сетке никогда не хранится явно.
	Empty CellValue = 0
	// Any - шаблонный символ «что угодно». Не бывает значением сетки.
	Any CellValue = 999
	// Never - явный запрет: клетка с таким требованием не совпадает никогда.
	Never CellValue = -Any
)

// Storable сообщает, может ли значение лежать в сетке:
// пустая клетка или категория, но не Any и не отрицательное требование.
func Storable(v CellValue) bool {
	return v >= Empty && v != Any
}

// CanPlace проверяет одно требование шаблона против фактического значения клетки
func CanPlace(required, actual CellValue) bool {
	switch {
	case required == Never:
		return false
	case required == Any:
		return true
	case required < 0:
		return actual != -required
	default:
		return actual == required
	}
}
