package gpu

import (
	"context"
	"strings"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/shirou/gopsutil/v3/host"
)

const (
	hwmonDriver = "amdgpu"

	SensorJunction = "junction"
	SensorEdge     = "edge"
)

// SensorReader lists hwmon temperatures.
type SensorReader func(ctx context.Context) ([]host.TemperatureStat, error)

// SensorSource reads the amdgpu hwmon temperature directly, for hosts where
// rocm-smi is not installed.
type SensorSource struct {
	id     string
	label  string
	reader SensorReader
}

// NewSensorSource reads the amdgpu sensor with the given label ("edge" or
// "junction"). A nil reader uses gopsutil.
func NewSensorSource(id, label string, reader SensorReader) *SensorSource {
	if reader == nil {
		reader = host.SensorsTemperaturesWithContext
	}
	if label == "" {
		label = SensorEdge
	}

	return &SensorSource{
		id:     id,
		label:  strings.ToLower(label),
		reader: reader,
	}
}

func (s *SensorSource) ID() string {
	return s.id
}

func (s *SensorSource) Collect(ctx context.Context) (telemetry.PartialMetric, error) {
	errFactory := errors.New()

	temps, err := s.reader(ctx)
	if err != nil && len(temps) == 0 {
		return nil, errFactory.Wrap(ErrSensorsUnavailable, err)
	}

	fallback, found := 0.0, false
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if !strings.HasPrefix(key, hwmonDriver) || t.Temperature <= 0 {
			continue
		}
		if strings.HasSuffix(key, s.label) {
			return telemetry.PartialMetric{telemetry.FieldTemperature: t.Temperature}, nil
		}
		if !found {
			fallback, found = t.Temperature, true
		}
	}

	if !found {
		return nil, errFactory.WithData(ErrParseFailed, struct {
			Source string
			Sensor string
		}{
			Source: s.id,
			Sensor: hwmonDriver + "_" + s.label,
		})
	}

	return telemetry.PartialMetric{telemetry.FieldTemperature: fallback}, nil
}
