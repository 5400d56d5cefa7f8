package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mitchellh/go-homedir"
)

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render
)

// expandPath expands environment variables and a leading ~.
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if expanded, err := homedir.Expand(path); err == nil {
		return expanded
	}
	return path
}
