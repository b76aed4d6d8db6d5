// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/payload"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// Per-address traffic
type addressTally struct {
	commands uint64
	data     uint64
	lastSeen time.Time
	lastID   uint8 // last command id seen
	hasID    bool
}

// TUI model
type monitorModel struct {
	connInfo      string
	showAll       bool
	stats         *frame.Statistics
	tallies       map[uint8]*addressTally
	eventLog      []eventLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	spinner       spinner.Model
	width         int
	height        int
	quitting      bool
	linkLost      bool
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	frame   *frame.Frame
	skipped int
}
type linkLostMsg struct {
	err error
}

func initialMonitorModel(connInfo string, showAll bool) monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         frame.NewStatistics(),
		tallies:       make(map[uint8]*addressTally),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		spinner:       sp,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.tallies = make(map[uint8]*addressTally)
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case spinner.TickMsg:
		if m.synchronized {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case linkLostMsg:
		m.linkLost = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Link lost: %v", msg.err), true)
		} else {
			m.addLogEntry("Link closed", true)
		}

	case frameMsg:
		m.handleFrame(msg)
	}

	return m, nil
}

// handleFrame records a decoded frame. Skipped bytes only count as errors
// once the stream has synchronized.
func (m *monitorModel) handleFrame(msg frameMsg) {
	if !m.synchronized {
		m.synchronized = true
		m.invalidBytes = msg.skipped
		if msg.skipped > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.skipped), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}
	} else if msg.skipped > 0 {
		m.stats.Skip(msg.skipped)
		m.addLogEntry(fmt.Sprintf("Skipped %d bytes without start marker", msg.skipped), true)
	}

	f := msg.frame
	m.stats.Update(f)

	t, ok := m.tallies[f.Address()]
	if !ok {
		t = &addressTally{}
		m.tallies[f.Address()] = t
	}
	t.lastSeen = f.Timestamp()
	if f.IsData() {
		t.data++
	} else {
		t.commands++
		t.lastID = f.CommandID()
		t.hasID = true
	}

	if m.showAll {
		m.addLogEntry(strings.TrimSpace(frame.FormatFrame(f, payload.CommandName)), false)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("TRIAD - LINK MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | r=reset q=quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.linkLost:
		s.WriteString(errorStyle.Render("✗ Link lost"))
	case !m.synchronized:
		s.WriteString(m.spinner.View() + warningStyle.Render(" Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Command:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.CommandFrames)),
		statsLabelStyle.Render("Data:"), statsValueStyle.Render(fmt.Sprintf("%d (%d bytes)", m.stats.DataFrames, m.stats.PayloadBytes)),
	))
	skipped := statsValueStyle.Render("0")
	if m.stats.SkippedBytes > 0 {
		skipped = errorStyle.Render(fmt.Sprintf("%d", m.stats.SkippedBytes))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Skipped:"), skipped,
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Skip Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f B/s", m.stats.SkipRate)),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Traffic per address
	if len(m.tallies) > 0 {
		s.WriteString(statsLabelStyle.Render("Addresses:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderTallies(statsLabelStyle, statsValueStyle, headerStyle)))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - len(m.tallies)
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func (m monitorModel) renderTallies(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	addrs := make([]int, 0, len(m.tallies))
	for a := range m.tallies {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)

	var sb strings.Builder
	for i, a := range addrs {
		t := m.tallies[uint8(a)]
		if i > 0 {
			sb.WriteString("\n")
		}
		last := "-"
		if t.hasID {
			last = frame.FormatCommandID(t.lastID, payload.CommandName)
		}
		sb.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
			labelStyle.Render(fmt.Sprintf("Addr %d:", a)),
			valueStyle.Render(fmt.Sprintf("%d cmd / %d data", t.commands, t.data)),
			labelStyle.Render("Last:"), valueStyle.Render(last),
			labelStyle.Render("Seen:"), headerStyle.Render(formatAge(time.Since(t.lastSeen))),
		))
	}
	return sb.String()
}

// formatAge formats a duration since an event for display
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
