package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/link"
)

// SessionSource supplies the session table.
type SessionSource interface {
	Statuses() []link.Status
}

// MonitorConfig configures the live monitor.
type MonitorConfig struct {
	Title    string
	Command  string
	Params   []Param
	Sessions SessionSource
	Events   *diag.Queue

	// Interval is the redraw tick. Each tick drains at most DrainMax
	// events from the queue.
	Interval  time.Duration
	DrainMax  int
	MaxEvents int
}

const (
	defaultInterval  = 100 * time.Millisecond
	defaultDrainMax  = 256
	defaultMaxEvents = 500
)

type tickMsg time.Time

type keyMap struct {
	Quit     key.Binding
	Pause    key.Binding
	Problems key.Binding
	Clear    key.Binding
	Help     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Problems, k.Clear, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Pause, k.Problems, k.Clear}, {k.Help, k.Quit}}
}

var defaultKeys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Pause:    key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause")),
	Problems: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "problems only")),
	Clear:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

// Monitor is the Bubble Tea model behind `hwlink-ctl run --monitor`. It
// polls the diagnostics queue on a tick instead of being pushed to, so the
// board decoders never wait on the terminal.
type Monitor struct {
	cfg    MonitorConfig
	keys   keyMap
	help   help.Model
	table  table.Model
	bar    progress.Model
	width  int
	height int

	statuses []link.Status
	events   []diag.Event
	paused   bool
	problems bool
}

// NewMonitor creates the monitor model.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.DrainMax <= 0 {
		cfg.DrainMax = defaultDrainMax
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Events == nil {
		cfg.Events = diag.NewQueue(0)
	}

	width, height := GetTerminalSize()

	t := table.New(
		table.WithColumns(sessionColumns()),
		table.WithHeight(4),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(MutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Cell
	t.SetStyles(styles)

	m := &Monitor{
		cfg:    cfg,
		keys:   defaultKeys,
		help:   help.New(),
		table:  t,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		width:  width,
		height: height,
	}
	m.refresh()
	return m
}

func sessionColumns() []table.Column {
	return []table.Column{
		{Title: "ID", Width: 3},
		{Title: "Board", Width: 14},
		{Title: "Dialect", Width: 8},
		{Title: "State", Width: 11},
		{Title: "Frames", Width: 9},
		{Title: "Bytes", Width: 10},
		{Title: "Resyncs", Width: 8},
		{Title: "Errors", Width: 7},
		{Title: "Conn", Width: 5},
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model
func (m *Monitor) Init() tea.Cmd {
	return tick(m.cfg.Interval)
}

// Update implements tea.Model
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if !m.paused {
			m.drain()
		}
		m.refresh()
		return m, tick(m.cfg.Interval)

	case tea.WindowSizeMsg:
		m.width, m.height = clampWidth(msg.Width), msg.Height
		m.help.Width = m.width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Problems):
			m.problems = !m.problems
		case key.Matches(msg, m.keys.Clear):
			m.events = m.events[:0]
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

// drain moves queued events into the scrollback, oldest dropped first.
func (m *Monitor) drain() {
	m.events = append(m.events, m.cfg.Events.Drain(m.cfg.DrainMax)...)
	if over := len(m.events) - m.cfg.MaxEvents; over > 0 {
		m.events = append(m.events[:0], m.events[over:]...)
	}
}

func (m *Monitor) refresh() {
	if m.cfg.Sessions == nil {
		return
	}
	m.statuses = m.cfg.Sessions.Statuses()

	rows := make([]table.Row, 0, len(m.statuses))
	for _, st := range m.statuses {
		s := st.Stats
		errs := s.UnknownCommands + s.ChecksumErrors + s.IOErrors + s.HandlerErrors
		rows = append(rows, table.Row{
			strconv.Itoa(st.ID),
			st.Name,
			st.Dialect,
			string(st.State),
			strconv.FormatUint(s.Frames, 10),
			strconv.FormatUint(s.PayloadBytes, 10),
			strconv.FormatUint(s.Resyncs, 10),
			strconv.FormatUint(errs, 10),
			strconv.Itoa(st.Connects),
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 1)
}

// visibleEvents returns the newest events that fit in n lines.
func (m *Monitor) visibleEvents(n int) []diag.Event {
	var out []diag.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		e := m.events[i]
		if m.problems && !IsProblem(e.Kind) {
			continue
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// View implements tea.Model
func (m *Monitor) View() string {
	var b strings.Builder

	header := NewHeader(m.cfg.Title, m.cfg.Command, m.cfg.Params...).SetWidth(m.width)
	b.WriteString(header.Render())
	b.WriteString("\n\n")

	b.WriteString(SectionTitleStyle.Render("Sessions"))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	title := "Diagnostics"
	if m.problems {
		title += " (problems only)"
	}
	if m.paused {
		title += " " + PausedMarker + " paused"
	}
	b.WriteString(SectionTitleStyle.Render(title))
	b.WriteString("\n")

	lines := m.height - lipgloss.Height(b.String()) - 4
	if lines < 5 {
		lines = 5
	}
	events := m.visibleEvents(lines)
	if len(events) == 0 {
		b.WriteString(MutedStyle.Render("  no events"))
		b.WriteString("\n")
	}
	for _, e := range events {
		line := e.String()
		if len(line) > m.width-2 {
			line = line[:m.width-2]
		}
		b.WriteString(" " + EventStyle(e.Kind).Render(line) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.backlogLine())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// backlogLine shows how full the diagnostics queue is, and what was lost.
func (m *Monitor) backlogLine() string {
	q := m.cfg.Events
	fill := float64(len(q.C())) / float64(cap(q.C()))
	line := " backlog " + m.bar.ViewAs(fill)
	if dropped := q.Dropped(); dropped > 0 {
		line += ErrorMessageStyle.Render(fmt.Sprintf("  %d dropped", dropped))
	}
	return line
}

// RunMonitor runs the monitor until the user quits or ctx is done.
func RunMonitor(ctx context.Context, cfg MonitorConfig) error {
	p := tea.NewProgram(NewMonitor(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
