// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/payload"
)

var composeCmd = &cobra.Command{
	Use:   "compose [out.cbor]",
	Short: "Compose a ground command batch interactively",
	Long: `Build a command batch in a terminal UI and write it as CBOR.

Pick a command from the list, type its payload as hex bytes and press enter
to append it. The batch is written with ctrl+s, to the given path or to a new
file in the spool directory where dispatch --watch picks it up.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)
	composeCmd.Flags().StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "Directory watched for batch files")
}

// Focus states
const (
	focusCommandList = iota
	focusPayloadInput
)

// commandItem is a command code shown in the list
type commandItem struct {
	code payload.CommandCode
}

func (c commandItem) Title() string       { return c.code.String() }
func (c commandItem) Description() string { return fmt.Sprintf("code 0x%02X", uint8(c.code)) }
func (c commandItem) FilterValue() string { return c.code.String() }

// composeModel is the Bubble Tea model for the batch composer
type composeModel struct {
	commandList  list.Model
	payloadInput textinput.Model
	focusedField int

	batch   []payload.Command
	outPath string
	saved   bool
	status  string
	isError bool

	width    int
	height   int
	quitting bool
}

// knownCommands lists every command code in code order
func knownCommands() []list.Item {
	var codes []payload.CommandCode
	for c := 0; c <= 0xFF; c++ {
		if payload.CommandCode(c).Known() {
			codes = append(codes, payload.CommandCode(c))
		}
	}

	items := make([]list.Item, len(codes))
	for i, c := range codes {
		items[i] = commandItem{code: c}
	}
	return items
}

func initialComposeModel(outPath string) composeModel {
	ti := textinput.New()
	ti.Placeholder = "AA BB CC"
	ti.CharLimit = frame.MaxPayloadSize * 3
	ti.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	commandList := list.New(knownCommands(), delegate, 30, 14)
	commandList.Title = "Commands"
	commandList.SetShowStatusBar(false)
	commandList.SetShowHelp(false)
	commandList.SetFilteringEnabled(false)

	return composeModel{
		commandList:  commandList,
		payloadInput: ti,
		focusedField: focusCommandList,
		outPath:      outPath,
		width:        80,
		height:       24,
	}
}

func (m composeModel) Init() tea.Cmd {
	return nil
}

func (m composeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.commandList.SetHeight(max(msg.Height-10, 6))
	}
	return m, nil
}

func (m composeModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusCommandList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		m.cycleFocus()
		return m, nil

	case "enter":
		m.appendSelected()
		return m, nil

	case "ctrl+d":
		if n := len(m.batch); n > 0 {
			m.setStatus(fmt.Sprintf("Removed %s", m.batch[n-1].Code), false)
			m.batch = m.batch[:n-1]
		}
		return m, nil

	case "ctrl+s":
		if err := m.save(); err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.saved = true
		m.quitting = true
		return m, tea.Quit
	}

	// Pass through to focused component
	var cmd tea.Cmd
	if m.focusedField == focusPayloadInput {
		m.payloadInput, cmd = m.payloadInput.Update(msg)
	} else {
		m.commandList, cmd = m.commandList.Update(msg)
	}
	return m, cmd
}

func (m *composeModel) cycleFocus() {
	if m.focusedField == focusCommandList {
		m.focusedField = focusPayloadInput
		m.payloadInput.Focus()
	} else {
		m.focusedField = focusCommandList
		m.payloadInput.Blur()
	}
}

// appendSelected adds the selected command with the typed payload
func (m *composeModel) appendSelected() {
	item, ok := m.commandList.SelectedItem().(commandItem)
	if !ok {
		return
	}
	p, err := parseHex(m.payloadInput.Value())
	if err != nil {
		m.setStatus(fmt.Sprintf("Invalid payload: %v", err), true)
		return
	}
	if len(p) > frame.MaxPayloadSize {
		m.setStatus(fmt.Sprintf("Payload of %d bytes exceeds %d", len(p), frame.MaxPayloadSize), true)
		return
	}
	m.batch = append(m.batch, payload.Command{Code: item.code, Payload: p})
	m.payloadInput.SetValue("")
	m.setStatus(fmt.Sprintf("Added %s", item.code), false)
}

func (m *composeModel) setStatus(s string, isError bool) {
	m.status = s
	m.isError = isError
}

// save writes the batch through a temporary file so a watcher never reads a
// partial batch
func (m *composeModel) save() error {
	if len(m.batch) == 0 {
		return errors.New("batch is empty")
	}
	tmp := filepath.Join(filepath.Dir(m.outPath), "."+filepath.Base(m.outPath)+".tmp")
	if err := payload.SaveBatch(tmp, m.batch); err != nil {
		return err
	}
	return os.Rename(tmp, m.outPath)
}

func (m composeModel) View() string {
	if m.quitting {
		if m.saved {
			return fmt.Sprintf("Wrote %d commands to %s\n", len(m.batch), m.outPath)
		}
		return "Discarded batch\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("TRIAD BATCH COMPOSER"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | enter=add tab=switch ctrl+d=undo ctrl+s=save esc=quit", m.outPath)))
	s.WriteString("\n\n")

	// Layout: left panel (commands) | right panel (payload and batch)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	inputStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusCommandList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	} else {
		inputStyle = focusedBoxStyle.Width(rightWidth)
	}

	var right strings.Builder
	right.WriteString(labelStyle.Render("Payload (hex):"))
	right.WriteString("\n")
	right.WriteString(m.payloadInput.View())
	right.WriteString("\n\n")
	right.WriteString(labelStyle.Render(fmt.Sprintf("Batch (%d):", len(m.batch))))
	right.WriteString("\n")
	if len(m.batch) == 0 {
		right.WriteString(headerStyle.Render("  (empty)"))
	}
	for i, c := range m.batch {
		right.WriteString(fmt.Sprintf("%s %s\n",
			headerStyle.Render(fmt.Sprintf("%3d", i+1)),
			valueStyle.Render(c.String()),
		))
	}

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Render(m.commandList.View()), " ", inputStyle.Render(right.String())))
	s.WriteString("\n\n")

	if m.status != "" {
		if m.isError {
			s.WriteString(errorStyle.Render("✗ " + m.status))
		} else {
			s.WriteString(valueStyle.Render("✓ " + m.status))
		}
	}
	return s.String()
}

// defaultBatchPath names a new batch in the spool directory
func defaultBatchPath(dir string, now time.Time) string {
	return filepath.Join(dir, "batch-"+now.UTC().Format("20060102T150405.000")+batchSuffix)
}

func runCompose(cmd *cobra.Command, args []string) error {
	outPath := ""
	switch {
	case len(args) == 1:
		outPath = args[0]
	case cfg.SpoolDir != "":
		outPath = defaultBatchPath(cfg.SpoolDir, time.Now())
	default:
		return errors.New("give an output path or --spool-dir")
	}

	if _, err := tea.NewProgram(initialComposeModel(outPath)).Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
