// Package units provides shared constants and conversion for the length
// units reconstruction statistics can be displayed in.
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	Meters      = "m"
	Centimeters = "cm"
	Millimeters = "mm"
	Inches      = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Meters, Centimeters, Millimeters, Inches}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ValidUnitsString returns a comma-separated list of valid units for error
// messages.
func ValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertLength converts a length in meters to the target unit. Unknown
// units leave the value in meters.
func ConvertLength(meters float64, unit string) float64 {
	switch unit {
	case Centimeters:
		return meters * 100
	case Millimeters:
		return meters * 1000
	case Inches:
		return meters / 0.0254
	default:
		return meters
	}
}

// FormatLength renders meters in unit with a suffix, e.g. "500.0mm".
func FormatLength(meters float64, unit string) string {
	if !IsValid(unit) {
		unit = Meters
	}
	switch unit {
	case Meters:
		return fmt.Sprintf("%.4f%s", meters, unit)
	default:
		return fmt.Sprintf("%.1f%s", ConvertLength(meters, unit), unit)
	}
}
