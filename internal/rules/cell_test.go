package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorable(t *testing.T) {
	assert.True(t, Storable(Empty))
	assert.True(t, Storable(1))
	assert.True(t, Storable(Any-1))
	assert.False(t, Storable(Any))
	assert.False(t, Storable(Never))
	assert.False(t, Storable(-1))
}

func TestCanPlace(t *testing.T) {
	tests := []struct {
		required CellValue
		actual   CellValue
		want     bool
	}{
		// -ANY не совпадает никогда
		{Never, Empty, false},
		{Never, 2, false},
		{Never, 3, false},
		// ANY совпадает всегда
		{Any, Empty, true},
		{Any, 2, true},
		{Any, 3, true},
		// отрицательное - всё, кроме указанного
		{-2, Empty, true},
		{-2, 2, false},
		{-2, 3, true},
		// положительное - только точное значение
		{2, Empty, false},
		{2, 2, true},
		{2, 3, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("required=%d/actual=%d", tt.required, tt.actual), func(t *testing.T) {
			assert.Equal(t, tt.want, CanPlace(tt.required, tt.actual))
		})
	}
}
