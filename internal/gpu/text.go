package gpu

import (
	"regexp"

	"codeberg.org/mutker/amdgpumon/internal/runner"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

// Per-field patterns for rocm-smi plain text output. Each matches anywhere in
// the output, case-insensitively, and captures the value token.
var (
	// GPU[0]		: sclk clock level: 1: (2000Mhz)
	sclkPattern = regexp.MustCompile(`(?im)^[^\n]*\bsclk\b[^\n]*\((\d+)`)

	// GPU[0]		: Temperature (Sensor junction) (C): 45.0
	junctionPattern = regexp.MustCompile(`(?im)^[^\n]*jun[^\n]*:[ \t]*(\S+)[ \t]*\r?$`)

	// GPU[0]		: VRAM Total Used Memory (B): 2147483648
	vramUsedPattern = regexp.MustCompile(`(?im)^[^\n]*\bused\b[^\n]*:[ \t]*(\S+)[ \t]*\r?$`)

	// GPU[0]		: VRAM Total Memory (B): 17179869184
	vramTotalPattern = regexp.MustCompile(`(?im)^[^\n]*\btotal[ \t]+memory\b[^\n]*:[ \t]*(\S+)[ \t]*\r?$`)
)

// ROCmClocks parses `rocm-smi --showclocks`.
func ROCmClocks(res runner.Result) telemetry.PartialMetric {
	pm := telemetry.PartialMetric{}
	if !res.Success {
		return pm
	}
	if v, ok := matchFloat(sclkPattern, res.Stdout); ok {
		pm[telemetry.FieldCoreClock] = v
	}

	return pm
}

// ROCmTemperature parses `rocm-smi --showtemp`, reading the junction sensor.
func ROCmTemperature(res runner.Result) telemetry.PartialMetric {
	pm := telemetry.PartialMetric{}
	if !res.Success {
		return pm
	}
	if v, ok := matchFloat(junctionPattern, res.Stdout); ok {
		pm[telemetry.FieldTemperature] = v
	}

	return pm
}

// ROCmMemInfo parses `rocm-smi --showmeminfo vram`.
func ROCmMemInfo(res runner.Result) telemetry.PartialMetric {
	pm := telemetry.PartialMetric{}
	if !res.Success {
		return pm
	}
	if v, ok := matchInt(vramUsedPattern, res.Stdout); ok {
		pm[telemetry.FieldVRAMUsed] = v
	}
	if v, ok := matchInt(vramTotalPattern, res.Stdout); ok {
		pm[telemetry.FieldVRAMTotal] = v
	}

	return pm
}

func matchFloat(re *regexp.Regexp, out []byte) (float64, bool) {
	m := re.FindSubmatch(out)
	if m == nil {
		return 0, false
	}

	return toFloat(string(m[1]))
}

func matchInt(re *regexp.Regexp, out []byte) (float64, bool) {
	m := re.FindSubmatch(out)
	if m == nil {
		return 0, false
	}

	return toBytes(string(m[1]))
}
