package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/log"
	"github.com/mattjoyce/rfidgate/internal/reader"
	"github.com/mattjoyce/rfidgate/internal/storage"
	"github.com/mattjoyce/rfidgate/internal/verify"
)

// runVerify performs one scan outside the listener. The reply line goes to
// stdout and a summary to stderr. Exit status is 0 only for a granted scan.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rfidgate verify <rfid> [--config PATH]")
		return 1
	}
	rfid := fs.Arg(0)

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Directory.Driver, cfg.Directory.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open directory: %v\n", err)
		return 1
	}
	defer db.Close()

	emp, err := directory.NewStore(db).FindByID(ctx, rfid)
	if errors.Is(err, directory.ErrNotFound) {
		fmt.Println(reader.ResponseNotFound)
		fmt.Fprintf(os.Stderr, "rfid %q is not in the directory\n", rfid)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: lookup: %v\n", err)
		return 1
	}

	if cfg.Verifier.Enabled {
		proc, err := verify.New(cfg.Verifier)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: verifier: %v\n", err)
			return 1
		}
		res := proc.Verify(ctx, rfid)
		fmt.Fprintf(os.Stderr, "verifier: outcome=%s exit=%d duration=%s\n", res.Outcome, res.ExitCode, res.Duration.Round(time.Millisecond))
		if res.Output != "" {
			fmt.Fprintf(os.Stderr, "verifier output:\n%s\n", res.Output)
		}
		if !res.Outcome.Passed() {
			fmt.Println(reader.ResponseVerificationFailed)
			return 1
		}
	} else {
		fmt.Fprintln(os.Stderr, "verifier disabled; lookup only")
	}

	data, err := json.Marshal(emp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
