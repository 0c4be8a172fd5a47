// Package format turns snapshot values into display strings.
package format

import (
	"fmt"
	"math"

	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

const (
	PlaceholderPower       = "--- W"
	PlaceholderTemperature = "--- °C"
	PlaceholderMemory      = "-/- GB"
	PlaceholderClock       = "--- MHz"

	thresholdHigh = 85
	thresholdWarm = 70

	unitBase = 1024
)

var byteUnits = []string{"B", "KB", "MB", "GB"}

// Band classifies a temperature for display styling.
type Band string

const (
	BandNormal Band = "normal"
	BandWarm   Band = "warm"
	BandHigh   Band = "high"
)

// StyleClass returns the style class name used by panel renderers.
func (b Band) StyleClass() string {
	return "temp-" + string(b)
}

// ThermalBand classifies celsius with strict thresholds: above 85 is high,
// above 70 is warm. Each call is independent, so values near a threshold
// can flap between bands.
func ThermalBand(celsius float64) Band {
	switch {
	case celsius > thresholdHigh:
		return BandHigh
	case celsius > thresholdWarm:
		return BandWarm
	default:
		return BandNormal
	}
}

// Bytes formats a byte count in binary units with one decimal, picking the
// largest unit in which the rounded value is at least one.
func Bytes(v float64) string {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "0 B"
	}

	i := 0
	for i < len(byteUnits)-1 && math.Round(v*10)/10 >= unitBase {
		v /= unitBase
		i++
	}

	return fmt.Sprintf("%.1f %s", v, byteUnits[i])
}

// Power renders "draw W/limit W", e.g. "12W/15W".
func Power(s telemetry.Snapshot) string {
	draw, okDraw := s.PowerDraw()
	limit, okLimit := s.PowerLimit()
	if !okDraw || !okLimit {
		return PlaceholderPower
	}

	return fmt.Sprintf("%.0fW/%.0fW", draw, limit)
}

// Temperature renders "T°C (U%)", or "T°C" when utilization is unknown.
func Temperature(s telemetry.Snapshot) string {
	temp, ok := s.Temperature()
	if !ok {
		return PlaceholderTemperature
	}

	if use, ok := s.Utilization(); ok {
		return fmt.Sprintf("%.0f°C (%.0f%%)", temp, use)
	}

	return fmt.Sprintf("%.0f°C", temp)
}

// Memory renders "used / total".
func Memory(s telemetry.Snapshot) string {
	used, okUsed := s.Value(telemetry.FieldVRAMUsed)
	total, okTotal := s.Value(telemetry.FieldVRAMTotal)
	if !okUsed || !okTotal {
		return PlaceholderMemory
	}

	return Bytes(used) + " / " + Bytes(total)
}

// Clock renders the shader clock.
func Clock(s telemetry.Snapshot) string {
	mhz, ok := s.CoreClock()
	if !ok {
		return PlaceholderClock
	}

	return fmt.Sprintf("%.0f MHz", mhz)
}

// SnapshotBand returns the band of the snapshot temperature, and false when
// the temperature is unknown.
func SnapshotBand(s telemetry.Snapshot) (Band, bool) {
	temp, ok := s.Temperature()
	if !ok {
		return BandNormal, false
	}

	return ThermalBand(temp), true
}
