// ABOUTME: Runs the status screen as a bubbletea program
// ABOUTME: Returns when the user quits or the context is cancelled
package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the status screen until the user presses q or ctx ends.
func Run(ctx context.Context, poll func() Snapshot, actions Actions) error {
	p := tea.NewProgram(NewModel(poll, actions), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
