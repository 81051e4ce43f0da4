package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justyntemme/vst3host/pkg/bridge"
	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/host"
)

const (
	meterWidth = 40
	meterFloor = -60.0
	testNote   = 60
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	crashStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	selectStyle  = lipgloss.NewStyle().Reverse(true)
	sectionStyle = lipgloss.NewStyle().MarginTop(1)
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// monitor shows the health, meters and parameters of one plugin
type monitor struct {
	p        *host.Plugin
	params   []host.Parameter
	sel      int
	noteOn   bool
	message  string
	quitting bool
}

func newMonitor(p *host.Plugin) monitor {
	return monitor{p: p, params: p.Parameters()}
}

func (m monitor) Init() tea.Cmd {
	return tick()
}

func (m monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "r":
			if m.p.Reset() {
				m.message = "processing resumed"
			} else {
				m.message = "reset failed, reload the plugin"
			}

		case " ", "space":
			var err error
			if m.noteOn {
				err = m.p.SendNoteOff(0, testNote, 0)
			} else {
				err = m.p.SendNoteOn(0, testNote, 100)
			}
			if err != nil {
				m.message = err.Error()
			} else {
				m.noteOn = !m.noteOn
			}

		case "c":
			m.p.Bridge().ResetHold()
			m.message = "meters reset"

		case "x":
			m.noteOn = false
			if err := m.p.MIDIPanic(); err != nil {
				m.message = err.Error()
			} else {
				m.message = "all notes off"
			}

		case "up", "k":
			if m.sel > 0 {
				m.sel--
			}

		case "down", "j":
			if m.sel < len(m.params)-1 {
				m.sel++
			}

		case "left", "h":
			m.nudge(-0.05)

		case "right", "l":
			m.nudge(0.05)
		}

	case tickMsg:
		m.p.Bridge().DrainLog()
		m.params = m.p.Parameters()
		if m.sel >= len(m.params) {
			m.sel = max(len(m.params)-1, 0)
		}
		return m, tick()
	}
	return m, nil
}

func (m *monitor) nudge(delta float64) {
	if m.sel >= len(m.params) {
		return
	}
	pr := m.params[m.sel]
	if pr.IsDiscrete() {
		delta = math.Copysign(1/float64(pr.StepCount), delta)
	}
	v := math.Min(math.Max(pr.Value+delta, 0), 1)
	if err := m.p.SetParameter(pr.ID, v); err != nil {
		m.message = err.Error()
	}
}

func (m monitor) View() string {
	if m.quitting {
		return ""
	}
	info := m.p.Info()
	st := m.p.Status()

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("vst3host  %s by %s", info.Name, info.Vendor)))
	b.WriteString("\n")
	if st.Isolated {
		helper := okStyle.Render("alive")
		if !st.HelperAlive {
			helper = crashStyle.Render("gone")
		}
		b.WriteString(dimStyle.Render("isolated  session "+st.SessionID+"  helper ") + helper)
	} else {
		b.WriteString(dimStyle.Render("in process"))
	}
	b.WriteString("\n")
	b.WriteString(healthStyle(st.Health).Render(st.Health.String()))
	b.WriteString("  " + dimStyle.Render(statusLine(st)))

	var meters strings.Builder
	levels := m.p.Levels()
	for i, l := range levels {
		fmt.Fprintf(&meters, "%-2s %s %7s  hold %7s\n", channelName(i, len(levels)), meterBar(l, meterWidth), formatDB(l.PeakDB()), formatDB(l.HoldDB()))
	}
	b.WriteString(sectionStyle.Render(strings.TrimRight(meters.String(), "\n")))
	if m.p.Bridge().Clipping() {
		b.WriteString("\n" + crashStyle.Render("CLIP"))
	}

	if len(m.params) > 0 {
		var params strings.Builder
		for i, pr := range m.params {
			text, err := m.p.FormatParameter(pr.ID, pr.Value)
			if err != nil {
				text = pr.String()
			}
			line := fmt.Sprintf("%-16s %s", pr.Name, text)
			if i == m.sel {
				line = selectStyle.Render(line)
			}
			params.WriteString(line + "\n")
		}
		b.WriteString(sectionStyle.Render(strings.TrimRight(params.String(), "\n")))
	}

	if m.message != "" {
		b.WriteString("\n\n" + warnStyle.Render(m.message))
	}
	b.WriteString("\n\n" + dimStyle.Render("space:note  x:panic  r:reset  c:meters  ↑↓:select  ←→:adjust  q:quit"))
	b.WriteString("\n")
	return b.String()
}

func healthStyle(s crash.Status) lipgloss.Style {
	switch s.State {
	case crash.StateOK:
		return okStyle
	case crash.StateCrashed:
		return crashStyle
	}
	return warnStyle
}

// statusLine summarizes the counters of st on one line
func statusLine(st host.Status) string {
	s := fmt.Sprintf("blocks %d  underruns %d  crashes %d", st.Blocks, st.Underruns, st.Crashes)
	if st.Isolated {
		s += fmt.Sprintf("  late %d", st.Late)
	}
	if !st.Active && st.Processing {
		s += "  stopped"
	}
	return s
}

func channelName(i, n int) string {
	if n == 2 {
		return [...]string{"L", "R"}[i]
	}
	return fmt.Sprint(i + 1)
}

func formatDB(db float64) string {
	if math.IsInf(db, -1) || db <= meterFloor {
		return "-inf"
	}
	return fmt.Sprintf("%.1f", db)
}

// meterBar draws the peak as a bar from -60 to 0 dB with the hold as a
// marker.
func meterBar(l bridge.ChannelLevel, width int) string {
	pos := func(db float64) int {
		if math.IsInf(db, -1) || db <= meterFloor {
			return 0
		}
		return int(math.Round(math.Min(1, (db-meterFloor)/-meterFloor) * float64(width)))
	}
	fill, hold := pos(l.PeakDB()), pos(l.HoldDB())

	bar := make([]rune, width)
	for i := range bar {
		switch {
		case i < fill:
			bar[i] = '█'
		case i == hold-1:
			bar[i] = '|'
		default:
			bar[i] = '·'
		}
	}
	return string(bar)
}
