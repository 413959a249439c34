package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the chat screen until the user quits.
func Run(ctx context.Context, port ChatPort, status string) error {
	if _, err := tea.NewProgram(New(ctx, port, status), tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("failed to run tui: %w", err)
	}
	return nil
}
