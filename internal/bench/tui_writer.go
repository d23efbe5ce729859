package bench

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"discobench/internal/measure"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

type sampleMsg struct{ measure.Sample }

type trialMsg struct{ measure.TrialRecord }

type groupMsg struct{ measure.Group }

// adminMsg reports admin server status.
type adminMsg struct{ active bool }

// TUIWriter renders experiment progress using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting
// the TUI interrupts the process so the experiment stops with it.
func NewTUIWriter(opts Options) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(opts), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteSample implements SampleWriter.
func (w *TUIWriter) WriteSample(s measure.Sample) error {
	line := fmt.Sprintf("%s[%s]%s %strial=%d%s %sparam=%s%s %selapsed=%.3fs%s",
		colorGray, s.ObservedAt.Format(time.RFC3339), colorReset,
		colorBlue, s.Trial, colorReset,
		colorMagenta, formatSeconds(s.Param), colorReset,
		colorGreen, s.Seconds(), colorReset)
	if s.Peer != "" {
		line += fmt.Sprintf(" %speer=%s%s address=%s", colorCyan, s.Peer, colorReset, s.Address)
	}
	w.program.Send(logMsg{line: line})
	w.program.Send(sampleMsg{s})
	return nil
}

// WriteTrial implements TrialWriter.
func (w *TUIWriter) WriteTrial(t measure.TrialRecord) error {
	switch t.Outcome {
	case measure.OutcomeTimeout:
		w.program.Send(logMsg{line: fmt.Sprintf("%sTIMEOUT%s trial=%d param=%s samples=%d",
			colorYellow, colorReset, t.Index, formatSeconds(t.Param), t.Samples)})
	case measure.OutcomeError:
		w.program.Send(logMsg{line: fmt.Sprintf("%sERROR%s trial=%d param=%s %s",
			colorRed, colorReset, t.Index, formatSeconds(t.Param), t.Err)})
	}
	w.program.Send(trialMsg{t})
	return nil
}

// WriteGroup implements GroupWriter.
func (w *TUIWriter) WriteGroup(g measure.Group) error {
	w.program.Send(groupMsg{g})
	return nil
}

// WriteRunEnd implements RunEndWriter.
func (w *TUIWriter) WriteRunEnd(e measure.RunEnd) error {
	w.program.Send(logMsg{line: fmt.Sprintf("%sRUN END%s trial=%d discovered=%d reason=%s",
		colorCyan, colorReset, e.Trial, e.Discovered, e.Reason)})
	return nil
}

// SetAdminStatus updates the admin server indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type paramStats struct {
	samples int
	sum     float64
}

type tuiModel struct {
	opts         Options
	table        table.Model
	vp           viewport.Model
	logs         []string
	header       string
	headerHeight int
	height       int
	wrap         bool
	autoscroll   bool
	help         bool
	admin        bool
	param        float64
	completed    int
	timeouts     int
	errors       int
	stats        map[float64]*paramStats
}

func newTUIModel(opts Options) tuiModel {
	cols := []table.Column{
		{Title: "Experiment", Width: 14},
		{Title: "Value", Width: 38},
	}
	rows := []table.Row{
		{"Run ID", opts.RunID},
		{"Mode", opts.Mode},
		{"Measurement", string(opts.Kind)},
		{"Runs", fmt.Sprintf("%d", opts.Runs)},
		{"Settle (s)", formatParams(opts.Params)},
		{"Timeout", opts.Timeout.String()},
	}
	if opts.Kind.MultiMatch() {
		rows = append(rows, table.Row{"Target peers", fmt.Sprintf("%d", opts.Target)})
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	m := tuiModel{
		opts:       opts,
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
		stats:      make(map[float64]*paramStats),
	}
	if len(opts.Params) > 0 {
		m.param = opts.Params[0]
	}
	m.header = m.table.View()
	m.headerHeight = lipgloss.Height(m.header)
	return m
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.header = m.table.View()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "?", "h":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	case logMsg:
		m.logs = append(m.logs, msg.line)
		m.refreshViewport()
	case sampleMsg:
		st, ok := m.stats[msg.Param]
		if !ok {
			st = &paramStats{}
			m.stats[msg.Param] = st
		}
		st.samples++
		st.sum += msg.Seconds()
		m.param = msg.Param
	case trialMsg:
		m.completed++
		m.param = msg.Param
		switch msg.Outcome {
		case measure.OutcomeTimeout:
			m.timeouts++
		case measure.OutcomeError:
			m.errors++
		}
	case groupMsg:
		m.param = msg.Param
		m.logs = append(m.logs, fmt.Sprintf("%s== settle %ss ==%s", colorYellow, formatSeconds(msg.Param), colorReset))
		m.refreshViewport()
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - m.headerHeight - lipgloss.Height(m.renderBottom()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			l = wordwrap.String(l, m.vp.Width)
		}
		lines = append(lines, l)
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) average() (float64, int) {
	st, ok := m.stats[m.param]
	if !ok || st.samples == 0 {
		return 0, 0
	}
	return st.sum / float64(st.samples), st.samples
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{m.header, divider, m.vp.View(), divider, m.renderBottom()}, "\n")
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	total := m.opts.Runs * len(m.opts.Params)
	avg, n := m.average()
	progress := fmt.Sprintf("%sPROGRESS%s %strials=%d/%d%s %sparam=%s%s %ssamples=%d%s %savg=%.3fs%s %stimeouts=%d%s %serrors=%d%s",
		colorBlue, colorReset,
		colorGreen, m.completed, total, colorReset,
		colorMagenta, formatSeconds(m.param), colorReset,
		colorCyan, n, colorReset,
		colorCyan, avg, colorReset,
		colorYellow, m.timeouts, colorReset,
		colorRed, m.errors, colorReset)
	return fmt.Sprintf("%s | Admin %s | Wrap %s | Scroll %s | Help ?", progress,
		indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit and stop the experiment",
		" w  toggle line wrap",
		" s  toggle auto-scroll",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
