package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "employee":
		return runEmployeeNoun(args)

	// --- VERBS ---
	case "verify":
		if hasHelpFlag(args) {
			printVerifyHelp()
			return 0
		}
		return runVerify(args)
	case "monitor":
		if hasHelpFlag(args) {
			printMonitorHelp()
			return 0
		}
		return runMonitor(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: rfidgate version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("rfidgate %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`rfidgate - RFID reader gateway with directory lookup and identity verification

Usage:
  rfidgate <noun> <action> [flags]
  rfidgate <verb> [args] [flags]

Resources (Nouns):
  system    Gateway lifecycle and health
  config    Configuration validation and integrity
  employee  Employee directory administration

System Commands:
  system start      Start the reader listener (and API) in the foreground
  system status     Show config, directory and PID lock state

Config Commands:
  config check      Validate configuration against this host
  config lock       Record the config file hash in .checksums
  config get <path> Print one configuration value
  config show       Print the effective configuration (secrets masked)

Employee Commands:
  employee list             List directory records
  employee get <rfid>       Show one record
  employee add --file F     Add or replace a record from JSON ("-" for stdin)
  employee delete <rfid>    Remove a record

Verbs:
  verify <rfid>     Run a lookup and verification as a reader scan would
  monitor           Live terminal view of scans (needs the API)

General:
  version           Show version information
  help              Show this help message

Use 'rfidgate <noun> help' for resource-specific actions.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runEmployeeNoun(args []string) int {
	if len(args) < 1 {
		printEmployeeNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEmployeeNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		return runEmployeeList(actionArgs)
	case "get":
		return runEmployeeGet(actionArgs)
	case "add":
		return runEmployeeAdd(actionArgs)
	case "delete", "rm":
		return runEmployeeDelete(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown employee action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: rfidgate system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: rfidgate config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, get, show")
}

func printEmployeeNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: rfidgate employee <action> [flags]")
	fmt.Fprintln(w, "Actions: list, get, add, delete")
}

func printSystemStartHelp() {
	fmt.Println("Usage: rfidgate system start [--config PATH]")
	fmt.Println("Start the reader listener in the foreground. SIGINT or SIGTERM stops it.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: rfidgate system status [--config PATH] [--json]")
	fmt.Println("Show config, directory readiness and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printVerifyHelp() {
	fmt.Println("Usage: rfidgate verify <rfid> [--config PATH]")
	fmt.Println("Look up the tag and run the configured verifier, printing what a reader would receive.")
}

func printMonitorHelp() {
	fmt.Println("Usage: rfidgate monitor [--api URL] [--token TOKEN]")
	fmt.Println("Launch the live scan monitor. The token needs the events:ro scope.")
}
