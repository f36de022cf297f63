package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	spinnerRune = []string{"|", "/", "-", "\\"}
)

type actionMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

type model struct {
	title   string
	timeout time.Duration
	action  func(context.Context) ([]string, error)
	started time.Time
	frame   int
	details []string
	err     error
	done    bool
}

func newModel(title string, timeout time.Duration, action func(context.Context) ([]string, error)) model {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return model{title: title, timeout: timeout, action: action, started: time.Now()}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.runAction(), tick())
}

func (m model) runAction() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		details, err := m.action(ctx)
		return actionMsg{details: details, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = context.Canceled
			m.done = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame++
		return m, tick()
	case actionMsg:
		m.details = msg.details
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if !m.done {
		fmt.Fprintf(&b, "\n%s running %s\n", spinnerRune[m.frame%len(spinnerRune)],
			mutedStyle.Render(time.Since(m.started).Truncate(100*time.Millisecond).String()))
		return b.String()
	}
	if m.err != nil {
		fmt.Fprintf(&b, "%s: %v\n", failStyle.Render("FAILED"), m.err)
	} else {
		b.WriteString(okStyle.Render("OK"))
		b.WriteString("\n")
	}
	for _, d := range m.details {
		b.WriteString("- " + d + "\n")
	}
	return b.String()
}

// Run shows a spinner while action executes and prints its details when done.
func Run(title string, timeout time.Duration, action func(context.Context) ([]string, error)) ([]string, error) {
	final, err := tea.NewProgram(newModel(title, timeout, action)).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	return res.details, res.err
}
