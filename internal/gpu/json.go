package gpu

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"codeberg.org/mutker/amdgpumon/internal/runner"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
)

const (
	DefaultCard = "card0"

	keyError = "error"

	keyEdgeTemperature = "Temperature (Sensor edge) (C)"
	keyGPUUse          = "GPU use (%)"
	keyVRAMTotal       = "VRAM Total Memory (B)"
	keyVRAMUsed        = "VRAM Total Used Memory (B)"
	keySocketPower     = "Current Socket Graphics Package Power (W)"
	keySCLK            = "sclk clock speed:"

	keySTAPMLimit = "STAPM LIMIT"
	keySTAPMValue = "STAPM VALUE"
)

var mhzPattern = regexp.MustCompile(`(?i)(\d+)\s*mhz`)

// ROCmJSON parses `rocm-smi -a --showmeminfo vram --json`. The output must
// hold card as an object; a top-level error key or a missing card yields an
// empty metric. Individual fields are optional.
func ROCmJSON(card string) ParseFunc {
	if card == "" {
		card = DefaultCard
	}

	return func(res runner.Result) telemetry.PartialMetric {
		pm := telemetry.PartialMetric{}
		if !res.Success {
			return pm
		}

		top, ok := decodeObject(res.Stdout)
		if !ok {
			return pm
		}
		if _, failed := top[keyError]; failed {
			return pm
		}

		cardData, ok := top[card].(map[string]any)
		if !ok {
			return pm
		}

		if v, ok := toFloat(cardData[keyEdgeTemperature]); ok {
			pm[telemetry.FieldTemperature] = v
		}
		if v, ok := toFloat(cardData[keyGPUUse]); ok {
			pm[telemetry.FieldUtilization] = v
		}
		if v, ok := toBytes(cardData[keyVRAMTotal]); ok {
			pm[telemetry.FieldVRAMTotal] = v
		}
		if v, ok := toBytes(cardData[keyVRAMUsed]); ok {
			pm[telemetry.FieldVRAMUsed] = v
		}
		if v, ok := toFloat(cardData[keySocketPower]); ok {
			pm[telemetry.FieldPackagePower] = v
		}
		if s, ok := cardData[keySCLK].(string); ok {
			if m := mhzPattern.FindStringSubmatch(s); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					pm[telemetry.FieldCoreClock] = v
				}
			}
		}

		return pm
	}
}

// RyzenAdjJSON parses `ryzenadj -i --json`. Both STAPM keys are required.
func RyzenAdjJSON(res runner.Result) telemetry.PartialMetric {
	pm := telemetry.PartialMetric{}
	if !res.Success {
		return pm
	}

	top, ok := decodeObject(res.Stdout)
	if !ok {
		return pm
	}
	if _, failed := top[keyError]; failed {
		return pm
	}

	limit, okLimit := toFloat(top[keySTAPMLimit])
	value, okValue := toFloat(top[keySTAPMValue])
	if !okLimit || !okValue {
		return pm
	}

	pm[telemetry.FieldPowerLimit] = limit
	pm[telemetry.FieldPowerDraw] = value

	return pm
}

func decodeObject(data []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var top map[string]any
	if err := dec.Decode(&top); err != nil || top == nil {
		return nil, false
	}

	return top, true
}

// toFloat accepts JSON numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	var f float64
	var err error

	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

// toBytes accepts non-negative integer JSON numbers and integer strings.
func toBytes(v any) (float64, bool) {
	var s string

	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	default:
		return 0, false
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil || i < 0 {
		return 0, false
	}

	return float64(i), true
}
