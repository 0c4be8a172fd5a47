package gpu

import (
	"sort"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/runner"
)

// Profile names select a set of sources.
const (
	ProfileROCmJSON = "rocm-json"
	ProfileROCmText = "rocm-text"
	ProfileHwmon    = "hwmon"
)

// Source identifiers.
const (
	SourceRyzenAdj    = "ryzenadj"
	SourceROCmJSON    = "rocm-smi-json"
	SourceROCmClocks  = "rocm-smi-clocks"
	SourceROCmTemp    = "rocm-smi-temp"
	SourceROCmMemInfo = "rocm-smi-meminfo"
	SourceHwmon       = "hwmon"
)

// ProfileConfig carries the settings sources are built from.
type ProfileConfig struct {
	Card         string
	ROCmSMI      string
	RyzenAdj     string
	RyzenAdjSudo bool
	Sensor       string
	Sensors      SensorReader
}

func (c ProfileConfig) withDefaults() ProfileConfig {
	if c.Card == "" {
		c.Card = DefaultCard
	}
	if c.ROCmSMI == "" {
		c.ROCmSMI = "rocm-smi"
	}
	if c.RyzenAdj == "" {
		c.RyzenAdj = "ryzenadj"
	}

	return c
}

type profileBuilder func(r runner.Runner, cfg ProfileConfig) []Source

var profiles = map[string]profileBuilder{
	ProfileROCmJSON: func(r runner.Runner, cfg ProfileConfig) []Source {
		return []Source{
			ryzenAdjSource(r, cfg),
			NewCommandSource(SourceROCmJSON, r, FormatJSON, ROCmJSON(cfg.Card),
				cfg.ROCmSMI, "-a", "--showmeminfo", "vram", "--json"),
		}
	},
	ProfileROCmText: func(r runner.Runner, cfg ProfileConfig) []Source {
		return []Source{
			NewCommandSource(SourceROCmClocks, r, FormatText, ROCmClocks, cfg.ROCmSMI, "--showclocks"),
			NewCommandSource(SourceROCmTemp, r, FormatText, ROCmTemperature, cfg.ROCmSMI, "--showtemp"),
			NewCommandSource(SourceROCmMemInfo, r, FormatText, ROCmMemInfo, cfg.ROCmSMI, "--showmeminfo", "vram"),
		}
	},
	ProfileHwmon: func(_ runner.Runner, cfg ProfileConfig) []Source {
		return []Source{
			NewSensorSource(SourceHwmon, cfg.Sensor, cfg.Sensors),
		}
	},
}

func ryzenAdjSource(r runner.Runner, cfg ProfileConfig) Source {
	if cfg.RyzenAdjSudo {
		return NewCommandSource(SourceRyzenAdj, r, FormatJSON, RyzenAdjJSON,
			"sudo", cfg.RyzenAdj, "-i", "--json")
	}

	return NewCommandSource(SourceRyzenAdj, r, FormatJSON, RyzenAdjJSON,
		cfg.RyzenAdj, "-i", "--json")
}

// Profiles returns the known profile names, sorted.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// BuildProfile returns the sources of the named profile.
func BuildProfile(name string, r runner.Runner, cfg ProfileConfig) ([]Source, error) {
	build, ok := profiles[name]
	if !ok {
		return nil, errors.New().WithData(ErrUnknownProfile, name)
	}

	return build(r, cfg.withDefaults()), nil
}
