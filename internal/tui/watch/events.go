package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/crewgate/internal/events"
	"github.com/mattjoyce/crewgate/internal/jobs"
)

const eventLogSize = 50

func renderEventStream(log []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(log) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range log {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	style := theme.Dim
	switch e.Type {
	case jobs.EventCompleted:
		style = theme.StatusCompleted
	case jobs.EventFailed:
		style = theme.StatusFailed
	case jobs.EventKilled:
		style = theme.StatusKilled
	case jobs.EventStarted:
		style = theme.StatusRunning
	}

	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-14s", e.Type)), describeEvent(e))
}

// describeEvent summarizes the payload: job snapshots show id, agent and
// exit code; sweeps show how many jobs went.
func describeEvent(e events.Event) string {
	if e.Type == jobs.EventSwept {
		var swept struct {
			IDs []string `json:"ids"`
		}
		if err := json.Unmarshal(e.Data, &swept); err == nil {
			return fmt.Sprintf("%d job(s) removed", len(swept.IDs))
		}
	}

	var info jobs.Info
	if err := json.Unmarshal(e.Data, &info); err != nil || info.ID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{fmt.Sprintf("[%s]", info.ID), info.Agent}
	if info.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit %d", *info.ExitCode))
	}
	if info.Error != "" {
		parts = append(parts, info.Error)
	}
	return strings.Join(parts, " ")
}
