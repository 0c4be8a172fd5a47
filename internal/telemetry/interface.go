package telemetry

import (
	"maps"
	"time"
)

// Field names one normalized metric.
type Field string

const (
	FieldPowerDraw    Field = "power_draw_w"
	FieldPowerLimit   Field = "power_limit_w"
	FieldPackagePower Field = "package_power_w"
	FieldTemperature  Field = "temperature_c"
	FieldUtilization  Field = "gpu_use_pct"
	FieldVRAMUsed     Field = "vram_used_bytes"
	FieldVRAMTotal    Field = "vram_total_bytes"
	FieldCoreClock    Field = "sclk_mhz"
)

// Fields lists every known field in display order.
var Fields = []Field{
	FieldPowerDraw,
	FieldPowerLimit,
	FieldPackagePower,
	FieldTemperature,
	FieldUtilization,
	FieldVRAMUsed,
	FieldVRAMTotal,
	FieldCoreClock,
}

// PartialMetric is the output of one parser run. Byte counts are carried
// unscaled.
type PartialMetric map[Field]float64

// Reading is the latest value of one field.
type Reading struct {
	Value     float64   `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}

// SourceStatus tracks the freshness of one metric source.
type SourceStatus struct {
	LastAttempt         time.Time `json:"last_attempt"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Healthy reports whether the last attempt of the source succeeded.
func (s SourceStatus) Healthy() bool {
	return s.ConsecutiveFailures == 0 && !s.LastSuccess.IsZero()
}

// Snapshot is an immutable view of the merged telemetry. Callers must not
// modify the maps.
type Snapshot struct {
	UpdatedAt time.Time               `json:"updated_at"`
	Readings  map[Field]Reading       `json:"readings"`
	Sources   map[string]SourceStatus `json:"sources"`
}

// Get returns the reading for f, if it was ever populated.
func (s Snapshot) Get(f Field) (Reading, bool) {
	r, ok := s.Readings[f]
	return r, ok
}

// Value returns the value for f, if it was ever populated.
func (s Snapshot) Value(f Field) (float64, bool) {
	r, ok := s.Readings[f]
	return r.Value, ok
}

func (s Snapshot) Temperature() (float64, bool) { return s.Value(FieldTemperature) }
func (s Snapshot) Utilization() (float64, bool) { return s.Value(FieldUtilization) }
func (s Snapshot) PowerDraw() (float64, bool)   { return s.Value(FieldPowerDraw) }
func (s Snapshot) PowerLimit() (float64, bool)  { return s.Value(FieldPowerLimit) }
func (s Snapshot) CoreClock() (float64, bool)   { return s.Value(FieldCoreClock) }

func (s Snapshot) VRAMUsed() (uint64, bool) {
	v, ok := s.Value(FieldVRAMUsed)
	return uint64(v), ok
}

func (s Snapshot) VRAMTotal() (uint64, bool) {
	v, ok := s.Value(FieldVRAMTotal)
	return uint64(v), ok
}

// IsStale reports whether f holds a value that its source failed to refresh.
func (s Snapshot) IsStale(f Field) bool {
	return s.Readings[f].Stale
}

func (s Snapshot) clone() *Snapshot {
	return &Snapshot{
		UpdatedAt: s.UpdatedAt,
		Readings:  maps.Clone(s.Readings),
		Sources:   maps.Clone(s.Sources),
	}
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Readings: map[Field]Reading{},
		Sources:  map[string]SourceStatus{},
	}
}
