package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/rfidgate/internal/config"
	"github.com/mattjoyce/rfidgate/internal/log"
	"github.com/mattjoyce/rfidgate/internal/metrics"
)

const (
	// defaultMaxOutputBytes caps the combined stdout/stderr kept per run.
	defaultMaxOutputBytes = 64 * 1024

	// waitDelay bounds how long Wait blocks on output pipes after the child
	// exits, in case a grandchild outside the process group still holds them.
	waitDelay = 2 * time.Second
)

// Outcome is the result class of one verification run.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeError    Outcome = "error"
)

// Passed reports whether the identity was confirmed.
func (o Outcome) Passed() bool {
	return o == OutcomeVerified
}

// Result describes one verification run. Only Outcome is meaningful to
// callers; the rest is diagnostic.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

// Process runs a verification program as a child process.
type Process struct {
	command      []string
	referenceDir string
	workdir      string
	timeout      time.Duration
	killGrace    time.Duration
	maxOutput    int
	logger       *slog.Logger
}

// New creates a Process from verifier configuration.
func New(cfg config.VerifierConfig) (*Process, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("verifier command is empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("verifier timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.KillGrace < 0 {
		return nil, fmt.Errorf("verifier kill_grace must not be negative, got %s", cfg.KillGrace)
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}

	return &Process{
		command:      append([]string(nil), cfg.Command...),
		referenceDir: cfg.ReferenceDir,
		workdir:      cfg.Workdir,
		timeout:      cfg.Timeout,
		killGrace:    cfg.KillGrace,
		maxOutput:    maxOutput,
		logger:       log.WithComponent("verify"),
	}, nil
}

// Verify runs the program for one identifier and blocks until it exits, the
// ceiling is reached, or ctx is cancelled.
func (p *Process) Verify(ctx context.Context, identifier string) Result {
	start := time.Now()
	res := p.run(ctx, identifier)
	res.Duration = time.Since(start)

	metrics.ObserveVerification(string(res.Outcome), res.Duration)

	attrs := []any{
		"rfid", identifier,
		"outcome", res.Outcome,
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Output != "" {
		attrs = append(attrs, "output", res.Output)
	}
	switch res.Outcome {
	case OutcomeVerified:
		p.logger.Info("verification passed", attrs...)
	case OutcomeError:
		p.logger.Error("verification failed to run", append(attrs, "error", res.Err)...)
	default:
		p.logger.Warn("verification not passed", attrs...)
	}
	return res
}

func (p *Process) run(ctx context.Context, identifier string) Result {
	refDir, err := filepath.Abs(p.referenceDir)
	if err != nil {
		return Result{Outcome: OutcomeError, ExitCode: -1, Err: fmt.Errorf("resolve reference dir: %w", err)}
	}

	args := make([]string, 0, len(p.command)+1)
	args = append(args, p.command[1:]...)
	args = append(args, identifier, refDir)

	// Not CommandContext: termination is managed here so the whole group goes.
	cmd := exec.Command(p.command[0], args...)
	cmd.Dir = p.workdir
	out := &cappedBuffer{limit: p.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	p.logger.Debug("spawning verifier", "command", p.command[0], "rfid", identifier, "timeout", p.timeout)

	if err := cmd.Start(); err != nil {
		return Result{Outcome: OutcomeError, ExitCode: -1, Err: fmt.Errorf("start verifier: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	ceiling := time.NewTimer(p.timeout)
	defer ceiling.Stop()

	select {
	case err := <-waitErr:
		return exitResult(err, out.String())

	case <-ceiling.C:
		p.terminate(cmd, waitErr)
		return Result{
			Outcome:  OutcomeTimedOut,
			ExitCode: -1,
			Output:   out.String(),
			Err:      context.DeadlineExceeded,
		}

	case <-ctx.Done():
		if err := killProcess(cmd); err != nil {
			p.logger.Error("failed to kill verifier", "error", err)
		}
		<-waitErr
		return Result{
			Outcome:  OutcomeError,
			ExitCode: -1,
			Output:   out.String(),
			Err:      ctx.Err(),
		}
	}
}

// terminate stops a child that outlived its ceiling and reaps it.
func (p *Process) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	if p.killGrace <= 0 {
		p.logger.Warn("verifier timed out, sending SIGKILL", "pid", cmd.Process.Pid)
		if err := killProcess(cmd); err != nil {
			p.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
		return
	}

	p.logger.Warn("verifier timed out, sending SIGTERM", "pid", cmd.Process.Pid)
	if err := interruptProcess(cmd); err != nil {
		p.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.killGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		p.logger.Info("verifier exited after SIGTERM")
	case <-grace.C:
		p.logger.Warn("verifier did not exit after SIGTERM, sending SIGKILL")
		if err := killProcess(cmd); err != nil {
			p.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func exitResult(err error, output string) Result {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		// ErrWaitDelay is only reported after a zero exit status.
		return Result{Outcome: OutcomeVerified, ExitCode: 0, Output: output}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Outcome: OutcomeRejected, ExitCode: exitErr.ExitCode(), Output: output}
	}
	return Result{Outcome: OutcomeError, ExitCode: -1, Output: output, Err: fmt.Errorf("wait for verifier: %w", err)}
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Report the full length so the child never sees a short write.
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.buf) + "...(truncated)"
	}
	return string(b.buf)
}
