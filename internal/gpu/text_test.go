package gpu_test

import (
	"testing"

	"codeberg.org/mutker/amdgpumon/internal/gpu"
	"codeberg.org/mutker/amdgpumon/internal/runner"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

const clocksOutput = `

============================ ROCm System Management Interface ============================
================================ Current clock frequencies ================================
GPU[0]		: fclk clock level: 0: (1600Mhz)
GPU[0]		: mclk clock level: 0: (400Mhz)
GPU[0]		: sclk clock level: 1: (2000Mhz)
GPU[0]		: socclk clock level: 0: (800Mhz)
===========================================================================================
=================================== End of ROCm SMI Log ===================================
`

const tempOutput = `
============================ ROCm System Management Interface ============================
====================================== Temperature =======================================
GPU[0]		: Temperature (Sensor edge) (C): 41.0
GPU[0]		: Temperature (Sensor junction) (C): 45.0
GPU[0]		: Temperature (Sensor memory) (C): 52.0
===========================================================================================
`

const memOutput = `
============================ ROCm System Management Interface ============================
================================== Memory Usage (Bytes) ==================================
GPU[0]		: VRAM Total Memory (B): 17179869184
GPU[0]		: VRAM Total Used Memory (B): 2147483648
===========================================================================================
`

func TestROCmClocks(t *testing.T) {
	pm := gpu.ROCmClocks(ok(clocksOutput))
	assert.Equal(t, telemetry.PartialMetric{telemetry.FieldCoreClock: 2000}, pm)
}

func TestROCmClocksCaseInsensitive(t *testing.T) {
	pm := gpu.ROCmClocks(ok("GPU[0] : SCLK Clock Level: 0: (800MHz)\n"))
	assert.InDelta(t, 800.0, pm[telemetry.FieldCoreClock], 0.0001)
}

func TestROCmTemperature(t *testing.T) {
	pm := gpu.ROCmTemperature(ok(tempOutput))
	assert.Equal(t, telemetry.PartialMetric{telemetry.FieldTemperature: 45}, pm)
}

func TestROCmTemperatureWhitespaceAndOrder(t *testing.T) {
	out := "  gpu[0] :   TEMPERATURE (SENSOR JUNCTION) (C):   61.5   \r\n" +
		"GPU[0] : Temperature (Sensor edge) (C): 40.0\n"

	pm := gpu.ROCmTemperature(ok(out))
	assert.InDelta(t, 61.5, pm[telemetry.FieldTemperature], 0.0001)
}

func TestROCmMemInfo(t *testing.T) {
	pm := gpu.ROCmMemInfo(ok(memOutput))
	assert.Equal(t, telemetry.PartialMetric{
		telemetry.FieldVRAMTotal: 17179869184,
		telemetry.FieldVRAMUsed:  2147483648,
	}, pm)
}

func TestROCmMemInfoReversedOrder(t *testing.T) {
	out := "GPU[0] : VRAM Total Used Memory (B): 1024\nGPU[0] : VRAM Total Memory (B): 4096\n"

	pm := gpu.ROCmMemInfo(ok(out))
	assert.InDelta(t, 1024.0, pm[telemetry.FieldVRAMUsed], 0.5)
	assert.InDelta(t, 4096.0, pm[telemetry.FieldVRAMTotal], 0.5)
}

func TestTextParsersMissingFields(t *testing.T) {
	cases := map[string]struct {
		parse gpu.ParseFunc
		out   string
	}{
		"clocks without sclk":      {gpu.ROCmClocks, "GPU[0] : mclk clock level: 0: (400Mhz)\n"},
		"clocks without value":     {gpu.ROCmClocks, "GPU[0] : sclk clock level: unavailable\n"},
		"temp without junction":    {gpu.ROCmTemperature, "GPU[0] : Temperature (Sensor edge) (C): 40.0\n"},
		"temp non-numeric":         {gpu.ROCmTemperature, "GPU[0] : Temperature (Sensor junction) (C): N/A\n"},
		"mem non-numeric":          {gpu.ROCmMemInfo, "GPU[0] : VRAM Total Used Memory (B): unknown\n"},
		"mem float is not integer": {gpu.ROCmMemInfo, "GPU[0] : VRAM Total Used Memory (B): 1.5\n"},
		"empty":                    {gpu.ROCmMemInfo, ""},
		"garbage":                  {gpu.ROCmTemperature, "\x00\x01\x02"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, tc.parse(ok(tc.out)))
		})
	}
}

func TestTextParsersIgnoreFailedRuns(t *testing.T) {
	failed := runner.Result{Success: false, Stdout: []byte(memOutput)}

	assert.Empty(t, gpu.ROCmMemInfo(failed))
	assert.Empty(t, gpu.ROCmTemperature(failed))
	assert.Empty(t, gpu.ROCmClocks(failed))
}
