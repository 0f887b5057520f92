package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		unit string
		want float64
	}{
		{Meters, 0.5},
		{Centimeters, 50},
		{Millimeters, 500},
		{Inches, 19.685039},
		{"furlong", 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ConvertLength(0.5, tt.unit), 1e-6, tt.unit)
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()
	for _, u := range ValidUnits {
		assert.True(t, IsValid(u), u)
	}
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("MM"))
	assert.Equal(t, "m, cm, mm, in", ValidUnitsString())
}

func TestFormatLength(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "500.0mm", FormatLength(0.5, Millimeters))
	assert.Equal(t, "0.5000m", FormatLength(0.5, Meters))
	assert.Equal(t, "1.2cm", FormatLength(0.012, Centimeters))
	assert.Equal(t, "0.0020m", FormatLength(0.002, "parsec"))
}
