package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/crewgate/internal/events"
	"github.com/mattjoyce/crewgate/internal/jobs"
)

const (
	listLimit      = 100
	healthInterval = 5 * time.Second
	retryDelay     = 3 * time.Second
	promptWidth    = 48
)

var filterCycle = []jobs.Filter{jobs.FilterAll, jobs.FilterActive, jobs.FilterCompleted, jobs.FilterFailed}

// --- Message types ---

type tickMsg time.Time

type healthMsg Health

type jobsMsg []jobs.Info

type detailMsg jobs.Info

type killedMsg jobs.Info

type eventMsg events.Event

type streamClosedMsg struct{ err error }

type reconnectMsg struct{}

type errMsg struct{ err error }

// Model is the watch screen.
type Model struct {
	ctx    context.Context
	client *Client
	theme  Theme
	now    func() time.Time

	width  int
	height int

	health    Health
	connected bool
	filter    jobs.Filter
	jobs      []jobs.Info
	table     table.Model
	detail    *jobs.Info

	eventLog []events.Event
	activity activity
	incoming chan events.Event

	lastError string
}

// New creates the watch model. ctx bounds the event stream.
func New(ctx context.Context, client *Client) Model {
	theme := NewDefaultTheme()
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(theme.TableStyles())

	return Model{
		ctx:      ctx,
		client:   client,
		theme:    theme,
		now:      time.Now,
		filter:   jobs.FilterAll,
		table:    t,
		incoming: make(chan events.Event, 100),
	}
}

func columns(width int) []table.Column {
	prompt := width - 10 - 8 - 11 - 9 - 12
	if prompt < 10 {
		prompt = 10
	}
	return []table.Column{
		{Title: "ID", Width: 10},
		{Title: "AGENT", Width: 8},
		{Title: "STATUS", Width: 11},
		{Title: "ELAPSED", Width: 9},
		{Title: "PROMPT", Width: prompt},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.stream(),
		m.receive(),
		m.fetchHealth(),
		m.fetchJobs(),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

// --- Commands ---

func (m Model) stream() tea.Cmd {
	return func() tea.Msg {
		return streamClosedMsg{err: m.client.Stream(m.ctx, m.incoming)}
	}
}

func (m Model) receive() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.incoming:
			return eventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		h, err := m.client.Health(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return healthMsg(h)
	}
}

func (m Model) fetchJobs() tea.Cmd {
	filter := m.filter
	return func() tea.Msg {
		list, err := m.client.Jobs(m.ctx, filter, listLimit)
		if err != nil {
			return errMsg{err}
		}
		return jobsMsg(list)
	}
}

func (m Model) fetchDetail(id string) tea.Cmd {
	return func() tea.Msg {
		info, err := m.client.Job(m.ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return detailMsg(info)
	}
}

func (m Model) kill(id string) tea.Cmd {
	return func() tea.Msg {
		info, err := m.client.Kill(m.ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return killedMsg(info)
	}
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.filter = nextFilter(m.filter)
			return m, m.fetchJobs()
		case "r":
			return m, tea.Batch(m.fetchJobs(), m.fetchHealth())
		case "x":
			if id := m.selectedID(); id != "" {
				return m, m.kill(id)
			}
			return m, nil
		case "enter":
			if id := m.selectedID(); id != "" {
				return m, m.fetchDetail(id)
			}
			return m, nil
		case "esc":
			m.detail = nil
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width - 8))
		m.table.SetHeight(max(msg.Height/2-4, 3))
		return m, nil

	case tickMsg:
		m.activity.decay(m.now())
		m.table.SetRows(m.rows())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case healthMsg:
		m.health = Health(msg)
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.fetchHealth()() })

	case jobsMsg:
		m.jobs = []jobs.Info(msg)
		m.table.SetRows(m.rows())
		return m, nil

	case detailMsg:
		info := jobs.Info(msg)
		m.detail = &info
		return m, nil

	case killedMsg:
		m.lastError = ""
		return m, m.fetchJobs()

	case eventMsg:
		ev := events.Event(msg)
		m.eventLog = append([]events.Event{ev}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.activity.hit(m.now())
		m.connected = true
		return m, tea.Batch(m.receive(), m.fetchJobs())

	case streamClosedMsg:
		m.connected = false
		if msg.err != nil {
			m.lastError = "event stream disconnected, reconnecting: " + msg.err.Error()
		}
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, tea.Tick(retryDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.stream()

	case errMsg:
		m.lastError = msg.err.Error()
		return m, nil
	}

	return m, nil
}

func nextFilter(f jobs.Filter) jobs.Filter {
	for i, c := range filterCycle {
		if c == f {
			return filterCycle[(i+1)%len(filterCycle)]
		}
	}
	return jobs.FilterAll
}

func (m Model) selectedID() string {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

func (m Model) rows() []table.Row {
	now := m.now()
	rows := make([]table.Row, 0, len(m.jobs))
	for _, j := range m.jobs {
		prompt := strings.ReplaceAll(j.Prompt, "\n", " ")
		if len([]rune(prompt)) > promptWidth {
			prompt = string([]rune(prompt)[:promptWidth-1]) + "…"
		}
		rows = append(rows, table.Row{
			j.ID,
			j.Agent,
			string(j.Status),
			formatDuration(j.Elapsed(now)),
			prompt,
		})
	}
	return rows
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to crewgate..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m, now),
		m.theme.Border.Width(m.width - 4).Render(m.table.View()),
	}
	if m.detail != nil {
		parts = append(parts, renderDetail(*m.detail, m.theme, m.width, now))
	} else {
		parts = append(parts, renderEventStream(m.eventLog, m.theme, m.width, 8))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit • [↑/↓] select • [enter] details • [esc] back • [x] kill • [f] filter • [r] refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func renderDetail(info jobs.Info, theme Theme, width int, now time.Time) string {
	lines := []string{
		theme.Title.Render("JOB " + info.ID),
		fmt.Sprintf(" agent: %s  status: %s  elapsed: %s", info.Agent, theme.Status(info.Status).Render(string(info.Status)), formatDuration(info.Elapsed(now))),
	}
	if info.Model != "" {
		lines = append(lines, " model: "+info.Model)
	}
	if info.ExitCode != nil {
		lines = append(lines, fmt.Sprintf(" exit code: %d", *info.ExitCode))
	}
	if info.Error != "" {
		lines = append(lines, " error: "+theme.StatusFailed.Render(info.Error))
	}
	lines = append(lines, " prompt: "+info.Prompt)
	if info.StdoutPreview != nil && *info.StdoutPreview != "" {
		lines = append(lines, theme.Dim.Render(" --- stdout preview ---"), *info.StdoutPreview)
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
