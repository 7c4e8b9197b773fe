package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"whisperkey/config"
	"whisperkey/controller"
	"whisperkey/log"
)

var errTUIQuit = errors.New("tui closed")

const (
	levelPoll  = 100 * time.Millisecond
	meterWidth = 40
	// Levels are RMS of [-1,1] samples; speech rarely goes above this.
	meterFullScale = 0.25
)

type stateMsg controller.State
type outcomeMsg controller.Outcome
type warningMsg string
type levelMsg controller.Level

type levelSource interface {
	Level() controller.Level
}

var (
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	busyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle    = helpStyle.Bold(true)
	meterOn     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterLoud   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	meterOffStr = idleStyle.Render("·")
)

type tuiModel struct {
	src      levelSource
	settings config.Settings
	// focus is read by the injector before each paste.
	focus *atomic.Bool

	state    controller.State
	level    float64
	peak     float64
	recSince time.Time
	now      time.Time
	width    int

	last    *controller.Outcome
	count   int
	warning string
	times   []float64 // transcription ms, for the percentile line
}

func (m tuiModel) poll() tea.Cmd {
	return tea.Tick(levelPoll, func(t time.Time) tea.Msg {
		return levelMsg(m.src.Level())
	})
}

func (m tuiModel) Init() tea.Cmd { return m.poll() }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.FocusMsg:
		if m.focus != nil {
			m.focus.Store(true)
		}

	case tea.BlurMsg:
		if m.focus != nil {
			m.focus.Store(false)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case levelMsg:
		m.now = time.Now()
		if msg.Recording {
			m.level = m.level*0.6 + msg.Level*0.4
			m.peak = max(m.peak, msg.Level)
		} else {
			m.level = 0
		}
		return m, m.poll()

	case stateMsg:
		st := controller.State(msg)
		if st == controller.Recording {
			m.recSince = time.Now()
			m.peak = 0
			m.warning = ""
		}
		m.state = st

	case outcomeMsg:
		o := controller.Outcome(msg)
		m.last = &o
		m.count++
		if o.Err == nil && !o.Canceled && !o.Skipped {
			m.times = append(m.times, float64(o.TranscriptionTime.Milliseconds()))
		}

	case warningMsg:
		m.warning = string(msg)
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(m.meter() + "\n")
	if m.warning != "" {
		b.WriteString(warnStyle.Render("⚠ "+m.warning) + "\n")
	}
	b.WriteString("\n")

	if m.last == nil {
		b.WriteString(idleStyle.Render("No transcriptions yet") + "\n")
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Last transcription (#%d)", m.count)) + "\n")
		style := textStyle
		if m.last.Err != nil || m.last.Text == "" {
			style = warnStyle
		}
		width := max(m.width-2, 20)
		for _, line := range wrapText(outcomeLine(*m.last), width) {
			b.WriteString(style.Render(line) + "\n")
		}
	}
	if line := percentileLine(m.times); line != "" {
		b.WriteString("\n" + dimStyle.Render(line) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s · %s · %s", m.settings.ModelSize, m.settings.Device, m.settings.Language)) + "\n")
	b.WriteString(keyStyle.Render(m.settings.Bindings.Toggle) + helpStyle.Render(" to record, ") +
		keyStyle.Render(m.settings.Bindings.Cancel) + helpStyle.Render(" to cancel, q to quit") + "\n")
	b.WriteString(helpStyle.Render("whisperkey "+version) + "\n")
	return b.String()
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case controller.Recording:
		d := m.now.Sub(m.recSince)
		if d < 0 {
			d = 0
		}
		s := recStyle.Render(fmt.Sprintf("● REC %.1fs", d.Seconds()))
		if d > time.Second && m.peak < 0.02 {
			s += warnStyle.Render("  no voice detected")
		}
		return s
	case controller.Transcribing, controller.Injecting:
		return busyStyle.Render("◐ " + strings.ToUpper(m.state.String()))
	}
	return idleStyle.Render("○ STANDBY")
}

func (m tuiModel) meter() string {
	lit := int(min(m.level/meterFullScale, 1) * meterWidth)
	var b strings.Builder
	for i := range meterWidth {
		switch {
		case i >= lit:
			b.WriteString(meterOffStr)
		case i >= meterWidth*4/5:
			b.WriteString(meterLoud.Render("█"))
		default:
			b.WriteString(meterOn.Render("█"))
		}
	}
	return b.String()
}

// percentileLine summarises transcription latency as min/p50/p90/max.
func percentileLine(ms []float64) string {
	if len(ms) == 0 {
		return ""
	}
	sorted := slices.Clone(ms)
	slices.Sort(sorted)
	at := func(p float64) float64 { return sorted[int(float64(len(sorted)-1)*p)] }
	return fmt.Sprintf("latency ms  min %.0f  p50 %.0f  p90 %.0f  max %.0f  (n=%d)",
		sorted[0], at(0.5), at(0.9), sorted[len(sorted)-1], len(sorted))
}

func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	width = max(width, 1)

	var lines []string
	for len(text) > width {
		cut := strings.LastIndexByte(text[:width+1], ' ')
		if cut <= 0 {
			cut = width
		}
		lines = append(lines, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}

// tuiProgram owns the bubbletea program. Controller events reach it through
// a buffered queue so the control loop never waits on rendering.
type tuiProgram struct {
	settings config.Settings
	queue    chan tea.Msg
	focus    atomic.Bool
}

func newTUI(s config.Settings) *tuiProgram {
	return &tuiProgram{settings: s, queue: make(chan tea.Msg, 64)}
}

func (t *tuiProgram) sink() controller.Sink { return tuiSink{t.queue} }

// focused reports whether the terminal running the TUI has focus. Terminals
// that never send focus events read as unfocused.
func (t *tuiProgram) focused() bool { return t.focus.Load() }

func (t *tuiProgram) model(src levelSource) tuiModel {
	return tuiModel{src: src, settings: t.settings, focus: &t.focus}
}

func (t *tuiProgram) run(ctx context.Context, src levelSource) error {
	p := tea.NewProgram(t.model(src), tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-t.queue:
				p.Send(msg)
			}
		}
	}()

	_, err := p.Run()
	switch {
	case ctx.Err() != nil:
		return nil
	case err != nil:
		log.Errorf("tui: %v", err)
		return err
	}
	return errTUIQuit
}

type tuiSink struct {
	queue chan<- tea.Msg
}

func (s tuiSink) send(msg tea.Msg) {
	select {
	case s.queue <- msg:
	default:
	}
}

func (s tuiSink) StateChanged(st controller.State)     { s.send(stateMsg(st)) }
func (s tuiSink) SessionFinished(o controller.Outcome) { s.send(outcomeMsg(o)) }
func (s tuiSink) Warning(msg string)                   { s.send(warningMsg(msg)) }
