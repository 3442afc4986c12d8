// ABOUTME: Bubbletea model for the daemon status screen
// ABOUTME: Polls a snapshot every second and renders it with lipgloss
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot is everything the status screen shows.
type Snapshot struct {
	Name     string
	Port     int
	State    string
	URI      string
	Title    string
	Artist   string
	Format   string
	Position time.Duration
	// Duration is negative when unknown.
	Duration time.Duration
	Chunks   int
	Clients  []Client
	Plugins  []string
	Catalog  string
}

// Client is one connected stream client.
type Client struct {
	Name   string
	Codec  string
	Remote string
}

// StatusMsg replaces the displayed snapshot.
type StatusMsg Snapshot

type tickMsg time.Time

// Actions are callbacks for keys that control playback. Nil entries
// disable the key.
type Actions struct {
	TogglePause func()
}

// Model is the bubbletea model of the status screen.
type Model struct {
	status   Snapshot
	poll     func() Snapshot
	actions  Actions
	start    time.Time
	quitting bool
}

// NewModel creates a model that refreshes itself from poll, which may be nil.
func NewModel(poll func() Snapshot, actions Actions) Model {
	m := Model{poll: poll, actions: actions, start: time.Now()}
	if poll != nil {
		m.status = poll()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "p", " ":
			if m.actions.TogglePause != nil {
				m.actions.TogglePause()
			}
		}
	case tickMsg:
		if m.poll != nil {
			m.status = m.poll()
		}
		return m, tickEvery()
	case StatusMsg:
		m.status = Snapshot(msg)
	}
	return m, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	listStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("resonated"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Server", fmt.Sprintf("%s (port %d)", m.status.Name, m.status.Port))
	field("Uptime", time.Since(m.start).Round(time.Second).String())
	if m.status.Catalog != "" {
		field("Catalog", m.status.Catalog)
	}
	b.WriteString("\n")

	field("State", m.status.State)
	if m.status.URI != "" {
		field("Song", nowPlaying(m.status))
		field("Format", m.status.Format)
		field("Position", fmt.Sprintf("%s / %s", clock(m.status.Position), clock(m.status.Duration)))
	}
	b.WriteString("\n")

	b.WriteString(listStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n")
	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	}
	for _, c := range m.status.Clients {
		b.WriteString(fmt.Sprintf("  • %s", c.Name))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s)", c.Codec, c.Remote)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(listStyle.Render("Decoder Plugins"))
	b.WriteString("\n  ")
	b.WriteString(valueStyle.Render(strings.Join(m.status.Plugins, ", ")))
	b.WriteString("\n\n")

	help := "q: quit"
	if m.actions.TogglePause != nil {
		help = "p: pause/resume  " + help
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func nowPlaying(s Snapshot) string {
	switch {
	case s.Title != "" && s.Artist != "":
		return s.Artist + " - " + s.Title
	case s.Title != "":
		return s.Title
	}
	return s.URI
}

// clock formats d as m:ss, or "--:--" when unknown.
func clock(d time.Duration) string {
	if d < 0 {
		return "--:--"
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
