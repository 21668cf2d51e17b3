// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"visualizer/internal/publish"
	"visualizer/internal/render"
)

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	peakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E8B04B")).Bold(true)
	idleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8"))
)

// Partial block glyphs, lowest first.
var blocks = []rune(" ▁▂▃▄▅▆▇█")

const (
	defaultBarHeight = 12
	minBarHeight     = 4
	levelWidth       = 40
)

var quitKeys = key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"))

type snapshotMsg struct {
	snap publish.Snapshot
}

// MeterModel draws the spectrum as vertical bars with a level meter below.
type MeterModel struct {
	title      string
	bucketFreq func(int) float64
	floorDB    float64

	snap   publish.Snapshot
	height int
	width  int
}

// NewMeterModel creates a meter. bucketFreq labels the first and last bar and
// may be nil. floorDB is the bottom of the level meter.
func NewMeterModel(title string, bucketFreq func(int) float64, floorDB float64) MeterModel {
	return MeterModel{
		title:      title,
		bucketFreq: bucketFreq,
		floorDB:    floorDB,
		height:     defaultBarHeight,
	}
}

func (m MeterModel) Init() tea.Cmd {
	return nil
}

func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = msg.snap
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = max(minBarHeight, msg.Height-6)
	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m MeterModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	if !m.snap.Running {
		sb.WriteString(idleStyle.Render("waiting for audio..."))
		sb.WriteString("\n\n")
	}

	sb.WriteString(m.bars())
	sb.WriteString(m.labels())
	sb.WriteString("\n")
	sb.WriteString(m.level())
	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("q: Quit"))
	return sb.String()
}

// bars renders one column per bucket, top row first. The loudest bucket is
// drawn in the peak style.
func (m MeterModel) bars() string {
	spectrum := m.snap.Spectrum
	peak := peakIndex(spectrum)
	steps := len(blocks) - 1
	column := make([]rune, len(spectrum))

	var sb strings.Builder
	for row := m.height - 1; row >= 0; row-- {
		for i, v := range spectrum {
			fill := clamp01(v)*float64(m.height) - float64(row)
			column[i] = blocks[int(math.Round(clamp01(fill)*float64(steps)))]
		}
		if peak < 0 {
			sb.WriteString(barStyle.Render(string(column)))
		} else {
			sb.WriteString(barStyle.Render(string(column[:peak])))
			sb.WriteString(peakStyle.Render(string(column[peak])))
			sb.WriteString(barStyle.Render(string(column[peak+1:])))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m MeterModel) labels() string {
	n := len(m.snap.Spectrum)
	if m.bucketFreq == nil || n == 0 {
		return ""
	}
	lo := formatHz(m.bucketFreq(0))
	hi := formatHz(m.bucketFreq(n - 1))
	gap := max(1, n-len(lo)-len(hi))
	return labelStyle.Render(lo+strings.Repeat(" ", gap)+hi) + "\n"
}

func (m MeterModel) level() string {
	cells := int(math.Round(clamp01(m.snap.Level) * levelWidth))
	meter := strings.Repeat("█", cells) + strings.Repeat("░", levelWidth-cells)
	return fmt.Sprintf("%s %6.1f dB", barStyle.Render(meter), m.snap.Decibels)
}

func formatHz(hz float64) string {
	if hz >= 1000 {
		return fmt.Sprintf("%.1fk", hz/1000)
	}
	return fmt.Sprintf("%.0f", hz)
}

func peakIndex(values []float64) int {
	peak, best := -1, 0.0
	for i, v := range values {
		if v > best {
			peak, best = i, v
		}
	}
	return peak
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return 1
	}
	return v
}

// MeterRenderer forwards snapshots to a running MeterModel program.
type MeterRenderer struct {
	program *tea.Program
	send    func(tea.Msg)

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

var _ render.Renderer = (*MeterRenderer)(nil)

// NewMeterRenderer starts the meter in the alternate screen. Done is closed
// when the program exits, including when the user quits.
func NewMeterRenderer(model MeterModel, opts ...tea.ProgramOption) *MeterRenderer {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	p := tea.NewProgram(model, opts...)
	r := &MeterRenderer{program: p, send: p.Send, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		if _, err := p.Run(); err != nil {
			r.err = err
		}
	}()
	return r
}

// Render hands a copy of snap to the program. It never blocks on the terminal.
func (r *MeterRenderer) Render(snap publish.Snapshot) error {
	select {
	case <-r.done:
		return r.err
	default:
	}
	snap.Spectrum = append([]float64(nil), snap.Spectrum...)
	r.send(snapshotMsg{snap: snap})
	return nil
}

// Done is closed when the meter program has exited.
func (r *MeterRenderer) Done() <-chan struct{} {
	return r.done
}

// Close quits the program and waits for it to restore the terminal.
func (r *MeterRenderer) Close() error {
	r.closeOnce.Do(func() {
		if r.program != nil {
			r.program.Quit()
		}
		<-r.done
	})
	return r.err
}
