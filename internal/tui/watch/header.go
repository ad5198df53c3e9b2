package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// activity lights up on events and fades over ten seconds.
type activity struct {
	dots int
	last time.Time
}

func (a *activity) hit(now time.Time) {
	a.dots = 5
	a.last = now
}

func (a *activity) decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	a.dots = 5 - int(now.Sub(a.last)/(2*time.Second))
	if a.dots < 0 {
		a.dots = 0
	}
}

func (a activity) render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(m Model, now time.Time) string {
	innerWidth := m.width - 4
	theme := m.theme

	status := theme.StatusCompleted.Render("CONNECTED")
	if !m.connected {
		status = theme.StatusFailed.Render("CONNECTING")
	} else if m.health.Status != "ok" {
		status = theme.StatusFailed.Render("DEGRADED")
	}

	title := " CREWGATE WATCH " + theme.Dim.Render(m.client.baseURL)
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 2
	if pad < 1 {
		pad = 1
	}

	stats := fmt.Sprintf(" %s  up %s  running: %d  tracked: %d  filter: %s",
		status,
		formatDuration(time.Duration(m.health.UptimeSeconds)*time.Second),
		m.health.JobsRunning,
		m.health.JobsTracked,
		theme.Highlight.Render(string(m.filter)),
	)

	last := "never"
	if !m.activity.last.IsZero() {
		last = now.Sub(m.activity.last).Round(time.Second).String() + " ago"
	}
	activityLine := fmt.Sprintf(" last event: %s %s", last, m.activity.render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		title+strings.Repeat(" ", pad)+clock,
		stats,
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
