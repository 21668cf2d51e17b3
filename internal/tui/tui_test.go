// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"visualizer/internal/publish"
	"visualizer/internal/source"
)

type fakeBackend struct {
	devices []source.DeviceDescriptor
	err     error
}

func (b *fakeBackend) Open(string, source.Format) (source.Source, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBackend) Devices() ([]source.DeviceDescriptor, error) {
	return b.devices, b.err
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func step(t *testing.T, m tea.Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func testDevices() []source.DeviceDescriptor {
	return []source.DeviceDescriptor{
		{ID: "default", Name: "Built-in Mic", Default: true, MaxInputChannels: 2, DefaultSampleRate: 48000},
		{ID: "3", Name: "USB Interface", MaxInputChannels: 4, DefaultSampleRate: 96000},
	}
}

func TestDeviceListInitFetches(t *testing.T) {
	m := NewDeviceListModel(&fakeBackend{devices: testDevices()})
	msg := m.Init()()
	got, ok := msg.(devicesMsg)
	if !ok {
		t.Fatalf("Init() message = %T, want devicesMsg", msg)
	}
	if len(got.devices) != 2 {
		t.Errorf("devices = %d, want 2", len(got.devices))
	}

	m = NewDeviceListModel(&fakeBackend{err: errors.New("boom")})
	if _, ok := m.Init()().(errMsg); !ok {
		t.Error("Init() with failing backend did not return errMsg")
	}
}

func TestDeviceListSelect(t *testing.T) {
	var m tea.Model = NewDeviceListModel(&fakeBackend{})
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	m, _ = step(t, m, devicesMsg{testDevices()})

	if v := m.View(); !strings.Contains(v, "USB Interface") {
		t.Errorf("View() missing device name:\n%s", v)
	}

	m, _ = step(t, m, keyMsg("down"))
	m, _ = step(t, m, keyMsg("enter"))
	if got := m.(DeviceListModel).activeScreen; got != ConfigScreen {
		t.Fatalf("activeScreen = %v, want ConfigScreen", got)
	}
	// 96000 is the device default.
	if got := m.(DeviceListModel).sampleRateIndex; got != 3 {
		t.Errorf("sampleRateIndex = %d, want 3", got)
	}

	m, _ = step(t, m, keyMsg("up"))
	m, cmd := step(t, m, keyMsg("enter"))
	if !isQuit(cmd) {
		t.Fatal("confirming did not quit")
	}
	sel, ok := m.(DeviceListModel).Selection()
	if !ok {
		t.Fatal("Selection() ok = false")
	}
	if sel.Device.ID != "3" || sel.SampleRate != 88200 {
		t.Errorf("Selection = %+v, want device 3 at 88200", sel)
	}
}

func TestDeviceListBackAndQuit(t *testing.T) {
	var m tea.Model = NewDeviceListModel(&fakeBackend{})
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	m, _ = step(t, m, devicesMsg{testDevices()})
	m, _ = step(t, m, keyMsg("enter"))
	m, _ = step(t, m, keyMsg("esc"))
	if got := m.(DeviceListModel).activeScreen; got != ListScreen {
		t.Errorf("activeScreen after esc = %v, want ListScreen", got)
	}

	m, cmd := step(t, m, keyMsg("q"))
	if !isQuit(cmd) {
		t.Error("q did not quit")
	}
	if _, ok := m.(DeviceListModel).Selection(); ok {
		t.Error("Selection() ok = true after quitting")
	}
}

func TestDeviceListEmptyAndError(t *testing.T) {
	var m tea.Model = NewDeviceListModel(&fakeBackend{})
	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	m, _ = step(t, m, devicesMsg{nil})
	m, _ = step(t, m, keyMsg("enter"))
	if got := m.(DeviceListModel).activeScreen; got != ListScreen {
		t.Error("enter with no devices left the list screen")
	}
	if v := m.View(); !strings.Contains(v, "No capture devices") {
		t.Errorf("View() = %q", v)
	}

	m, _ = step(t, m, errMsg{errors.New("no backend")})
	if v := m.View(); !strings.Contains(v, "no backend") {
		t.Errorf("View() = %q, want error", v)
	}
	if _, cmd := step(t, m, keyMsg("x")); !isQuit(cmd) {
		t.Error("any key after an error should quit")
	}
}

func TestMeterModelView(t *testing.T) {
	freqs := func(b int) float64 { return float64(b+1) * 1000 }
	var m tea.Model = NewMeterModel("Spectrum", freqs, -60)

	if v := m.View(); !strings.Contains(v, "waiting for audio") {
		t.Errorf("idle View() = %q", v)
	}

	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 10})
	m, _ = step(t, m, snapshotMsg{publish.Snapshot{
		Spectrum: []float64{0, 1, 0.5, 0},
		Level:    0.5,
		Decibels: -30,
		Running:  true,
	}})
	v := m.View()
	if strings.Contains(v, "waiting for audio") {
		t.Error("running View() still shows idle text")
	}
	if !strings.Contains(v, "█") {
		t.Error("View() has no full bar")
	}
	if !strings.Contains(v, "-30.0 dB") {
		t.Errorf("View() missing level:\n%s", v)
	}
	if !strings.Contains(v, "1.0k") || !strings.Contains(v, "4.0k") {
		t.Errorf("View() missing frequency labels:\n%s", v)
	}
	if got := m.(MeterModel).height; got != minBarHeight {
		t.Errorf("height = %d, want %d", got, minBarHeight)
	}

	if _, cmd := step(t, m, keyMsg("q")); !isQuit(cmd) {
		t.Error("q did not quit")
	}
}

func TestMeterBarsHeight(t *testing.T) {
	m := NewMeterModel("", nil, -60)
	m.height = 4
	m.snap = publish.Snapshot{Spectrum: []float64{1, 0.5, 0}}
	rows := strings.Split(strings.TrimSuffix(m.bars(), "\n"), "\n")
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	// The full bar reaches the top row; the half bar stops at row two.
	if !strings.Contains(rows[0], "█") {
		t.Errorf("top row = %q, want full block", rows[0])
	}
	if strings.Count(rows[3], "█") != 2 {
		t.Errorf("bottom row = %q, want two full blocks", rows[3])
	}
}

func TestMeterRendererCopiesSpectrum(t *testing.T) {
	var got []tea.Msg
	r := &MeterRenderer{
		send: func(msg tea.Msg) { got = append(got, msg) },
		done: make(chan struct{}),
	}

	spectrum := []float64{0.1, 0.2}
	if err := r.Render(publish.Snapshot{Spectrum: spectrum, Sequence: 9}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	spectrum[0] = 99

	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	snap := got[0].(snapshotMsg).snap
	if snap.Spectrum[0] != 0.1 || snap.Sequence != 9 {
		t.Errorf("sent snapshot = %+v, want a copy of the original", snap)
	}

	wantErr := errors.New("terminal gone")
	r.err = wantErr
	close(r.done)
	if err := r.Render(publish.Snapshot{}); !errors.Is(err, wantErr) {
		t.Errorf("Render after exit error = %v, want %v", err, wantErr)
	}
	if err := r.Close(); !errors.Is(err, wantErr) {
		t.Errorf("Close() error = %v, want %v", err, wantErr)
	}
}
