package gpu_test

import (
	"context"
	"io"
	"testing"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/gpu"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sensors(stats []host.TemperatureStat, err error) gpu.SensorReader {
	return func(context.Context) ([]host.TemperatureStat, error) {
		return stats, err
	}
}

func TestSensorSourcePicksLabel(t *testing.T) {
	src := gpu.NewSensorSource("hwmon", gpu.SensorJunction, sensors([]host.TemperatureStat{
		{SensorKey: "k10temp_tctl", Temperature: 70},
		{SensorKey: "amdgpu_edge", Temperature: 48},
		{SensorKey: "amdgpu_junction", Temperature: 55},
	}, nil))

	pm, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.PartialMetric{telemetry.FieldTemperature: 55}, pm)
}

func TestSensorSourceFallsBackToAnyAMDGPUSensor(t *testing.T) {
	src := gpu.NewSensorSource("hwmon", gpu.SensorJunction, sensors([]host.TemperatureStat{
		{SensorKey: "amdgpu_edge", Temperature: 48},
	}, nil))

	pm, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 48.0, pm[telemetry.FieldTemperature], 0.0001)
}

func TestSensorSourcePartialWarningsAreTolerated(t *testing.T) {
	src := gpu.NewSensorSource("hwmon", "", sensors([]host.TemperatureStat{
		{SensorKey: "amdgpu_edge", Temperature: 50},
	}, io.ErrUnexpectedEOF))

	pm, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, pm[telemetry.FieldTemperature], 0.0001)
}

func TestSensorSourceFailures(t *testing.T) {
	_, err := gpu.NewSensorSource("hwmon", "", sensors(nil, io.EOF)).Collect(context.Background())
	assert.True(t, errors.HasCode(err, gpu.ErrSensorsUnavailable))

	_, err = gpu.NewSensorSource("hwmon", "", sensors([]host.TemperatureStat{
		{SensorKey: "nvme_composite", Temperature: 40},
	}, nil)).Collect(context.Background())
	assert.True(t, gpu.IsParseFailure(err))
}
