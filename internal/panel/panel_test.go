package panel_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"codeberg.org/mutker/amdgpumon/internal/format"
	"codeberg.org/mutker/amdgpumon/internal/panel"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentsPlaceholders(t *testing.T) {
	segs := panel.Segments(telemetry.NewStore().Snapshot())
	require.Len(t, segs, 4)

	assert.Equal(t, "--- W", segs[0].Text)
	assert.Equal(t, "--- °C", segs[1].Text)
	assert.Equal(t, "-/- GB", segs[2].Text)
	assert.Equal(t, "--- MHz", segs[3].Text)
	assert.Empty(t, segs[1].Band)
	for _, s := range segs {
		assert.False(t, s.Stale, s.Label)
	}
}

func TestSegmentsBandAndStale(t *testing.T) {
	store := telemetry.NewStore()
	store.Merge("ryzenadj", telemetry.PartialMetric{
		telemetry.FieldPowerDraw:  12,
		telemetry.FieldPowerLimit: 15,
	})
	store.Merge("rocm", telemetry.PartialMetric{
		telemetry.FieldTemperature: 90,
		telemetry.FieldUtilization: 55,
	})
	store.Fail("ryzenadj", io.EOF)

	segs := panel.Segments(store.Snapshot())

	assert.Equal(t, "12W/15W", segs[0].Text)
	assert.True(t, segs[0].Stale)
	assert.Equal(t, "90°C (55%)", segs[1].Text)
	assert.Equal(t, format.BandHigh, segs[1].Band)
	assert.False(t, segs[1].Stale)
}

func TestPrint(t *testing.T) {
	store := telemetry.NewStore()
	store.Merge("rocm", telemetry.PartialMetric{
		telemetry.FieldTemperature: 72,
		telemetry.FieldUtilization: 10,
		telemetry.FieldVRAMUsed:    2147483648,
		telemetry.FieldVRAMTotal:   17179869184,
		telemetry.FieldCoreClock:   2000,
	})

	var buf bytes.Buffer
	p := panel.New(&buf)
	p.Print(store.Snapshot())

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, "PWR")
	assert.Contains(t, line, "--- W")
	assert.Contains(t, line, "72°C (10%)")
	assert.Contains(t, line, "2.0 GB / 16.0 GB")
	assert.Contains(t, line, "2000 MHz")
}

func TestSubscriberPrintsEveryMerge(t *testing.T) {
	store := telemetry.NewStore()
	var buf bytes.Buffer
	p := panel.New(&buf)

	unsubscribe := store.Subscribe(p.Print)
	store.Merge("rocm", telemetry.PartialMetric{telemetry.FieldTemperature: 40})
	store.Merge("rocm", telemetry.PartialMetric{telemetry.FieldTemperature: 41})
	unsubscribe()
	store.Merge("rocm", telemetry.PartialMetric{telemetry.FieldTemperature: 42})

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.Contains(t, out, "40°C")
	assert.Contains(t, out, "41°C")
	assert.NotContains(t, out, "42°C")
}
