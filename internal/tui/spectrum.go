// SPDX-License-Identifier: MIT
/*
Package tui renders delivered frames in the terminal.

Spectrum is both a sink and a Bubble Tea program. The consumer writes frames
into it; the program redraws at a fixed rate from the latest frame, so a slow
terminal never holds up the consumer loop.
*/
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"specgate/internal/frame"
)

// DefaultRefresh is the redraw interval.
const DefaultRefresh = 33 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	peakStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F25D94")).
			Bold(true)
)

type keyMap struct {
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.Quit}} }

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Spectrum holds the latest frame for display.
type Spectrum struct {
	title string

	mu      sync.Mutex
	values  []float64
	kind    string
	frames  uint64
	updated bool
}

// NewSpectrum returns a renderer showing title in its header.
func NewSpectrum(title string) *Spectrum {
	return &Spectrum{title: title}
}

// WritePoints stores the magnitudes of a spectrum frame.
func (s *Spectrum) WritePoints(points []frame.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = s.values[:0]
	for _, p := range points {
		s.values = append(s.values, p.Magnitude)
	}
	s.kind = "spectrum"
	s.frames++
	s.updated = true
	return nil
}

// WriteSamples stores the absolute sample values of a reconstructed frame.
func (s *Spectrum) WriteSamples(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = s.values[:0]
	for _, v := range samples {
		s.values = append(s.values, math.Abs(float64(v)))
	}
	s.kind = "waveform"
	s.frames++
	s.updated = true
	return nil
}

// snapshot copies the latest values into dst if they changed since the last
// call.
func (s *Spectrum) snapshot(dst []float64) ([]float64, string, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.updated {
		return dst, s.kind, s.frames, false
	}
	s.updated = false
	return append(dst[:0], s.values...), s.kind, s.frames, true
}

// Run shows the renderer until the user quits or ctx is cancelled. A user
// quit returns ErrQuit so the caller can stop the rest of the run.
func (s *Spectrum) Run(ctx context.Context, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(newModel(s, DefaultRefresh), opts...)
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("terminal renderer: %w", err)
	}
	return ErrQuit
}

// ErrQuit is returned by Run when the user asked to stop.
var ErrQuit = errors.New("renderer closed by user")

type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	src     *Spectrum
	refresh time.Duration
	help    help.Model

	values []float64
	kind   string
	frames uint64
	scale  float64 // Decaying peak used to normalise bar heights.
	width  int
	height int
}

func newModel(src *Spectrum, refresh time.Duration) model {
	return model{
		src:     src,
		refresh: refresh,
		help:    help.New(),
		width:   80,
		height:  24,
	}
}

func (m model) Init() tea.Cmd {
	return tick(m.refresh)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}

	case tickMsg:
		var changed bool
		m.values, m.kind, m.frames, changed = m.src.snapshot(m.values)
		if changed {
			m.scale = nextScale(m.scale, m.values)
		}
		return m, tick(m.refresh)
	}
	return m, nil
}

// nextScale follows a rising peak immediately and lets it fall slowly.
func nextScale(prev float64, values []float64) float64 {
	peak := 0.0
	for _, v := range values {
		peak = math.Max(peak, v)
	}
	if peak >= prev {
		return peak
	}
	return math.Max(peak, prev*0.95)
}

func (m model) View() string {
	title := titleStyle.Render(m.src.title)
	status := infoStyle.Render(fmt.Sprintf("%s • frame %d", m.kindLabel(), m.frames))
	header := lipgloss.JoinHorizontal(lipgloss.Top, title, " ", status)

	rows := max(m.height-4, 1)
	cols := max(m.width, 1)
	chart := renderBars(columns(m.values, cols), m.scale, rows)

	return lipgloss.JoinVertical(lipgloss.Left, header, "", chart, m.help.View(keys))
}

func (m model) kindLabel() string {
	if m.kind == "" {
		return "waiting for audio"
	}
	return m.kind
}

// columns reduces values to at most n columns, keeping the maximum of each
// group so narrow peaks stay visible.
func columns(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for i, v := range values {
		c := i * n / len(values)
		out[c] = math.Max(out[c], v)
	}
	return out
}

// renderBars draws one vertical bar per value, rows characters tall. The
// tallest column is highlighted.
func renderBars(values []float64, scale float64, rows int) string {
	if len(values) == 0 || !(scale > 0) {
		return strings.Repeat("\n", rows-1)
	}

	heights := make([]int, len(values))
	peak := 0
	for i, v := range values {
		heights[i] = int(math.Round(math.Min(v/scale, 1) * float64(rows)))
		if heights[i] > heights[peak] {
			peak = i
		}
	}

	var sb strings.Builder
	for r := rows; r >= 1; r-- {
		var line strings.Builder
		for _, h := range heights {
			if h >= r {
				line.WriteRune('█')
			} else {
				line.WriteRune(' ')
			}
		}
		text := line.String()
		if heights[peak] == r {
			// Highlight the top of the tallest bar.
			runes := []rune(text)
			text = barStyle.Render(string(runes[:peak])) +
				peakStyle.Render(string(runes[peak])) +
				barStyle.Render(string(runes[peak+1:]))
		} else {
			text = barStyle.Render(text)
		}
		sb.WriteString(text)
		if r > 1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
