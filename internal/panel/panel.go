// Package panel renders the snapshot as a one-line terminal status bar.
package panel

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"codeberg.org/mutker/amdgpumon/internal/format"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/charmbracelet/lipgloss"
)

const separator = " │ "

// Band colors, ANSI codes for terminal compatibility
const (
	ColorNormal lipgloss.Color = "2" // Green
	ColorWarm   lipgloss.Color = "3" // Yellow
	ColorHigh   lipgloss.Color = "1" // Red
	ColorLabel  lipgloss.Color = "8" // Gray
)

// Segment is one labeled value of the status line.
type Segment struct {
	Label string
	Text  string
	Band  format.Band
	Stale bool
}

// Segments lays out power, temperature, memory and clock. Band is only set
// on the temperature segment.
func Segments(snap telemetry.Snapshot) []Segment {
	temp := Segment{
		Label: "TEMP",
		Text:  format.Temperature(snap),
		Stale: anyStale(snap, telemetry.FieldTemperature, telemetry.FieldUtilization),
	}
	if band, ok := format.SnapshotBand(snap); ok {
		temp.Band = band
	}

	return []Segment{
		{
			Label: "PWR",
			Text:  format.Power(snap),
			Stale: anyStale(snap, telemetry.FieldPowerDraw, telemetry.FieldPowerLimit),
		},
		temp,
		{
			Label: "VRAM",
			Text:  format.Memory(snap),
			Stale: anyStale(snap, telemetry.FieldVRAMUsed, telemetry.FieldVRAMTotal),
		},
		{
			Label: "SCLK",
			Text:  format.Clock(snap),
			Stale: anyStale(snap, telemetry.FieldCoreClock),
		},
	}
}

func anyStale(snap telemetry.Snapshot, fields ...telemetry.Field) bool {
	for _, f := range fields {
		if snap.IsStale(f) {
			return true
		}
	}

	return false
}

// Panel writes styled status lines. Colors follow the terminal profile of
// the writer, so a pipe or file receives plain text.
type Panel struct {
	mu    sync.Mutex
	w     io.Writer
	label lipgloss.Style
	value lipgloss.Style
	bands map[format.Band]lipgloss.Style
}

func New(w io.Writer) *Panel {
	r := lipgloss.NewRenderer(w)

	return &Panel{
		w:     w,
		label: r.NewStyle().Foreground(ColorLabel),
		value: r.NewStyle().Bold(true),
		bands: map[format.Band]lipgloss.Style{
			format.BandNormal: r.NewStyle().Bold(true).Foreground(ColorNormal),
			format.BandWarm:   r.NewStyle().Bold(true).Foreground(ColorWarm),
			format.BandHigh:   r.NewStyle().Bold(true).Foreground(ColorHigh),
		},
	}
}

// Render returns the status line without a trailing newline.
func (p *Panel) Render(snap telemetry.Snapshot) string {
	segments := Segments(snap)
	parts := make([]string, 0, len(segments))

	for _, seg := range segments {
		style := p.value
		if s, ok := p.bands[seg.Band]; ok {
			style = s
		}
		if seg.Stale {
			style = style.Faint(true)
		}
		parts = append(parts, p.label.Render(seg.Label)+" "+style.Render(seg.Text))
	}

	return strings.Join(parts, separator)
}

// Print writes one status line. It is safe to use as a store subscriber.
func (p *Panel) Print(snap telemetry.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.Render(snap))
}
