// Package tmux provides centralized configuration and helpers for tmux operations.
//
// Batty uses per-run tmux sockets to isolate each agent run.
// This prevents a crash in one run's tmux server from affecting other runs.
// Each agent run uses a socket named "batty-{runID}", providing complete
// isolation between runs.
//
// The default "batty" socket is used for global operations like listing all
// sessions or cleanup operations that need to work across multiple runs.
package tmux

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
)

// SocketName is the base tmux socket name for Batty global operations.
// Individual runs use sockets named "batty-{runID}" for isolation.
const SocketName = "batty"

// SocketPrefix is the prefix used for all Batty tmux sockets.
// Run sockets are named "{SocketPrefix}-{runID}".
const SocketPrefix = "batty"

// Command creates an exec.Cmd for tmux with the default Batty socket.
// Use this for global operations like listing all sessions or cleanup.
// For run-specific operations, use CommandWithSocket instead.
func Command(args ...string) *exec.Cmd {
	return CommandWithSocket(SocketName, args...)
}

// CommandContext creates a context-aware exec.Cmd for tmux with the default socket.
// Use this for global operations. For run-specific operations, use
// CommandContextWithSocket instead.
func CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return CommandContextWithSocket(ctx, SocketName, args...)
}

// CommandWithSocket creates an exec.Cmd for tmux with a custom socket name.
// Use this for run-specific operations to ensure socket isolation.
func CommandWithSocket(socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.Command("tmux", fullArgs...)
}

// CommandContextWithSocket creates a context-aware exec.Cmd with a custom socket.
// Use this for run-specific operations that need context cancellation.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.CommandContext(ctx, "tmux", fullArgs...)
}

// CommandArgs returns the arguments needed to run a tmux command
// with the default Batty socket. Use this when you need to build the
// command string differently (e.g., for display purposes).
func CommandArgs(args ...string) []string {
	return CommandArgsWithSocket(SocketName, args...)
}

// CommandArgsWithSocket returns tmux arguments with a custom socket name.
func CommandArgsWithSocket(socket string, args ...string) []string {
	return append([]string{"-L", socket}, args...)
}

// BaseArgs returns just the socket arguments [-L, batty].
// Use this when you need to prepend socket args to existing argument slices.
func BaseArgs() []string {
	return BaseArgsWithSocket(SocketName)
}

// BaseArgsWithSocket returns socket arguments for a custom socket name.
func BaseArgsWithSocket(socket string) []string {
	return []string{"-L", socket}
}

// RunSocketName returns the socket name for a specific run.
// Socket names follow the format "batty-{runID}".
func RunSocketName(runID string) string {
	return SocketPrefix + "-" + runID
}

// ListBattySockets returns all tmux sockets that belong to batty runs.
// It searches the tmux socket directory for sockets matching "batty-*".
func ListBattySockets() ([]string, error) {
	socketDir, err := getSocketDir()
	if err != nil {
		return nil, err
	}

	pattern := filepath.Join(socketDir, SocketPrefix+"-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	// Also include the default socket if it exists
	defaultSocket := filepath.Join(socketDir, SocketName)
	if _, err := os.Stat(defaultSocket); err == nil {
		matches = append(matches, defaultSocket)
	}

	// Extract just the socket names from full paths
	sockets := make([]string, 0, len(matches))
	for _, match := range matches {
		sockets = append(sockets, filepath.Base(match))
	}

	return sockets, nil
}

// getSocketDir returns the tmux socket directory for the current user.
func getSocketDir() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	// tmux uses /tmp/tmux-{uid}/ for sockets
	return filepath.Join("/tmp", "tmux-"+u.Uid), nil
}

// IsRunSocket returns true if the socket name is a run-specific socket.
func IsRunSocket(socket string) bool {
	return strings.HasPrefix(socket, SocketPrefix+"-") && socket != SocketName
}

// ExtractRunID extracts the run ID from a run socket name.
// Returns empty string if the socket is not an run socket.
func ExtractRunID(socket string) string {
	prefix := SocketPrefix + "-"
	if id, found := strings.CutPrefix(socket, prefix); found {
		return id
	}
	return ""
}

// MapKeyToTmux converts Bubble Tea key names to tmux key names.
// Bubble Tea uses lowercase names like "left", "backspace" while
// tmux expects capitalized names like "Left", "BSpace".
func MapKeyToTmux(key string) string {
	switch key {
	case "up":
		return "Up"
	case "down":
		return "Down"
	case "left":
		return "Left"
	case "right":
		return "Right"
	case "home":
		return "Home"
	case "end":
		return "End"
	case "backspace":
		return "BSpace"
	case "delete":
		return "DC"
	case "insert":
		return "IC"
	case "pgup":
		return "PageUp"
	case "pgdown":
		return "PageDown"
	case "tab":
		return "Tab"
	case "enter":
		return "Enter"
	case "esc", "escape":
		return "Escape"
	default:
		return key
	}
}
