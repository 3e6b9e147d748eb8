package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/rfidgate/internal/api"
	"github.com/mattjoyce/rfidgate/internal/auth"
	"github.com/mattjoyce/rfidgate/internal/config"
	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/events"
	"github.com/mattjoyce/rfidgate/internal/lock"
	"github.com/mattjoyce/rfidgate/internal/log"
	"github.com/mattjoyce/rfidgate/internal/reader"
	"github.com/mattjoyce/rfidgate/internal/storage"
	"github.com/mattjoyce/rfidgate/internal/verify"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("rfidgate starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", cfg.Service.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("rfidgate stopped")
	return 0
}

// serve wires the directory, verifier, event hub, reader listener and API,
// and runs them until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.Open(ctx, cfg.Directory.Driver, cfg.Directory.DSN)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer db.Close()
	logger.Info("directory opened", "driver", cfg.Directory.Driver)

	store := directory.NewStore(db)

	// A nil interface puts sessions in lookup-only mode.
	var verifier reader.Verifier
	if cfg.Verifier.Enabled {
		proc, err := verify.New(cfg.Verifier)
		if err != nil {
			return fmt.Errorf("verifier: %w", err)
		}
		verifier = proc
		logger.Info("verifier enabled", "command", cfg.Verifier.Command[0], "reference_dir", cfg.Verifier.ReferenceDir, "timeout", cfg.Verifier.Timeout)
	} else {
		logger.Warn("verifier disabled; granting on directory lookup alone")
	}

	hub := events.NewHub(cfg.Events.Buffer)

	readerSrv := reader.New(reader.Config{
		Listen:         cfg.Reader.Listen,
		MaxConnections: cfg.Reader.MaxConnections,
		MaxLineBytes:   cfg.Reader.MaxLineBytes,
	}, store, verifier, hub, log.WithComponent("reader"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := readerSrv.Start(gctx); err != nil {
			return fmt.Errorf("reader: %w", err)
		}
		return nil
	})

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiServer := api.New(api.Config{
			Listen:          cfg.API.Listen,
			Tokens:          tokens,
			VerifierEnabled: cfg.Verifier.Enabled,
		}, store, readerSrv, hub, log.WithComponent("api"))

		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("rfidgate running (press Ctrl+C to stop)", "listen", cfg.Reader.Listen)

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}
	return g.Wait()
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		add("config", false, err.Error())
	} else {
		add("config", true, cfg.SourcePath)
		add(directoryStatus(cfg))
		add(pidStatus(cfg.Service.PIDFile))
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("%s %-10s %s\n", mark, c.Name, c.Detail)
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func directoryStatus(cfg *config.Config) (string, bool, string) {
	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Directory.Driver, cfg.Directory.DSN)
	if err != nil {
		return "directory", false, err.Error()
	}
	defer db.Close()

	n, err := directory.NewStore(db).Count(ctx)
	if err != nil {
		return "directory", false, err.Error()
	}
	return "directory", true, fmt.Sprintf("%s, %d employee(s)", cfg.Directory.Driver, n)
}

// pidStatus reports whether a gateway holds the PID lock. Not running is not
// a failure.
func pidStatus(path string) (string, bool, string) {
	l, err := lock.AcquirePIDLock(path)
	if err == nil {
		_ = l.Release()
		return "process", true, "not running"
	}
	if errors.Is(err, lock.ErrLocked) {
		pid, _ := lock.ReadPID(path)
		return "process", true, fmt.Sprintf("running (pid %d)", pid)
	}
	return "process", false, err.Error()
}
