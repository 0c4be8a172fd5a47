package format_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/amdgpumon/internal/format"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0 B"},
		{math.NaN(), "0 B"},
		{math.Inf(1), "0 B"},
		{-5, "0 B"},
		{1, "1.0 B"},
		{512, "512.0 B"},
		{1023, "1023.0 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1023.96, "1.0 KB"},
		{1048575, "1.0 MB"},
		{1048576, "1.0 MB"},
		{2147483648, "2.0 GB"},
		{17179869184, "16.0 GB"},
		{1099511627776, "1024.0 GB"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, format.Bytes(tc.in), "%v", tc.in)
	}
}

func TestThermalBand(t *testing.T) {
	assert.Equal(t, format.BandHigh, format.ThermalBand(86))
	assert.Equal(t, format.BandWarm, format.ThermalBand(75))
	assert.Equal(t, format.BandNormal, format.ThermalBand(50))
	assert.Equal(t, format.BandWarm, format.ThermalBand(85))
	assert.Equal(t, format.BandNormal, format.ThermalBand(70))
	assert.Equal(t, format.BandWarm, format.ThermalBand(70.1))

	assert.Equal(t, "temp-high", format.BandHigh.StyleClass())
}

func snapshotOf(pm telemetry.PartialMetric) telemetry.Snapshot {
	store := telemetry.NewStore()
	store.Merge("test", pm)
	return store.Snapshot()
}

func TestLabelsPlaceholders(t *testing.T) {
	empty := telemetry.NewStore().Snapshot()

	assert.Equal(t, "--- W", format.Power(empty))
	assert.Equal(t, "--- °C", format.Temperature(empty))
	assert.Equal(t, "-/- GB", format.Memory(empty))
	assert.Equal(t, "--- MHz", format.Clock(empty))

	_, ok := format.SnapshotBand(empty)
	assert.False(t, ok)
}

func TestLabels(t *testing.T) {
	snap := snapshotOf(telemetry.PartialMetric{
		telemetry.FieldPowerDraw:   8.4,
		telemetry.FieldPowerLimit:  15,
		telemetry.FieldTemperature: 72,
		telemetry.FieldUtilization: 10,
		telemetry.FieldVRAMUsed:    2147483648,
		telemetry.FieldVRAMTotal:   17179869184,
		telemetry.FieldCoreClock:   2000,
	})

	assert.Equal(t, "8W/15W", format.Power(snap))
	assert.Equal(t, "72°C (10%)", format.Temperature(snap))
	assert.Equal(t, "2.0 GB / 16.0 GB", format.Memory(snap))
	assert.Equal(t, "2000 MHz", format.Clock(snap))

	band, ok := format.SnapshotBand(snap)
	assert.True(t, ok)
	assert.Equal(t, format.BandWarm, band)
}

func TestTemperatureWithoutUtilization(t *testing.T) {
	snap := snapshotOf(telemetry.PartialMetric{telemetry.FieldTemperature: 45})
	assert.Equal(t, "45°C", format.Temperature(snap))
}
