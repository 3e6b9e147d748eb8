package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/rfidgate/internal/tui/watch"
)

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Gateway API URL")
	token := fs.String("token", os.Getenv("RFIDGATE_API_TOKEN"), "API bearer token with events:ro")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: API token required. Use --token or RFIDGATE_API_TOKEN env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
