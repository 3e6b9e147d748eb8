//go:build unix

package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/rfidgate/internal/config"
	"github.com/mattjoyce/rfidgate/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

// writeScript writes an executable shell script into a temp dir and returns its path.
func writeScript(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verifier.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// processGone reports whether pid has exited. A zombie waiting on a parent
// that never reaps counts as gone.
func processGone(pid int) bool {
	if errors.Is(syscall.Kill(pid, 0), syscall.ESRCH) {
		return true
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func newTestProcess(t *testing.T, script string, timeout time.Duration) *Process {
	t.Helper()
	p, err := New(config.VerifierConfig{
		Command:      []string{writeScript(t, script)},
		ReferenceDir: t.TempDir(),
		Timeout:      timeout,
	})
	require.NoError(t, err)
	return p
}

func TestVerify_ExitZeroIsVerified(t *testing.T) {
	p := newTestProcess(t, "#!/bin/sh\necho matched\nexit 0\n", 5*time.Second)

	res := p.Verify(context.Background(), "A1")
	assert.Equal(t, OutcomeVerified, res.Outcome)
	assert.True(t, res.Outcome.Passed())
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "matched")
	assert.NoError(t, res.Err)
}

func TestVerify_NonZeroExitIsRejected(t *testing.T) {
	p := newTestProcess(t, "#!/bin/sh\necho 'no face match' >&2\nexit 3\n", 5*time.Second)

	res := p.Verify(context.Background(), "A1")
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.False(t, res.Outcome.Passed())
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "no face match", "stderr is merged into output")
}

func TestVerify_TimeoutKillsChild(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := "#!/bin/sh\necho $$ > " + pidFile + "\nexec sleep 30\n"
	p := newTestProcess(t, script, 300*time.Millisecond)

	start := time.Now()
	res := p.Verify(context.Background(), "A1")
	elapsed := time.Since(start)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 5*time.Second)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	assert.True(t, processGone(pid), "child %d still running", pid)
}

func TestVerify_TimeoutKillsGrandchildren(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "grandchild.pid")
	script := "#!/bin/sh\nsleep 30 &\necho $! > " + pidFile + "\nwait\n"
	p := newTestProcess(t, script, 300*time.Millisecond)

	res := p.Verify(context.Background(), "A1")
	assert.Equal(t, OutcomeTimedOut, res.Outcome)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	// The grandchild is reparented after its parent dies; give it a moment.
	assert.Eventually(t, func() bool { return processGone(pid) }, 2*time.Second, 20*time.Millisecond)
}

func TestVerify_GracefulTermination(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "terminated")
	script := "#!/bin/sh\ntrap 'touch " + marker + "; exit 0' TERM\nwhile true; do sleep 0.05; done\n"
	p, err := New(config.VerifierConfig{
		Command:      []string{writeScript(t, script)},
		ReferenceDir: t.TempDir(),
		Timeout:      200 * time.Millisecond,
		KillGrace:    2 * time.Second,
	})
	require.NoError(t, err)

	res := p.Verify(context.Background(), "A1")
	assert.Equal(t, OutcomeTimedOut, res.Outcome, "a clean exit after the ceiling is still a timeout")
	assert.FileExists(t, marker)
}

func TestVerify_MissingProgramIsError(t *testing.T) {
	p, err := New(config.VerifierConfig{
		Command:      []string{filepath.Join(t.TempDir(), "does-not-exist")},
		ReferenceDir: t.TempDir(),
		Timeout:      time.Second,
	})
	require.NoError(t, err)

	res := p.Verify(context.Background(), "A1")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.False(t, res.Outcome.Passed())
	assert.Error(t, res.Err)
}

func TestVerify_ArgumentOrder(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\n"
	refDir := t.TempDir()

	p, err := New(config.VerifierConfig{
		Command:      []string{writeScript(t, script), "--model", "hog"},
		ReferenceDir: refDir,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	res := p.Verify(context.Background(), "TAG-42")
	require.Equal(t, OutcomeVerified, res.Outcome)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	absRef, err := filepath.Abs(refDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"--model", "hog", "TAG-42", absRef}, strings.Split(strings.TrimSpace(string(raw)), "\n"))
}

func TestVerify_RelativeReferenceDirIsResolved(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := "#!/bin/sh\necho \"$2\" > " + argsFile + "\n"

	p, err := New(config.VerifierConfig{
		Command:      []string{writeScript(t, script)},
		ReferenceDir: "known_faces",
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	res := p.Verify(context.Background(), "A1")
	require.Equal(t, OutcomeVerified, res.Outcome)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	got := strings.TrimSpace(string(raw))
	assert.True(t, filepath.IsAbs(got), "reference dir %q should be absolute", got)
	assert.Equal(t, "known_faces", filepath.Base(got))
}

func TestVerify_OutputIsCapped(t *testing.T) {
	script := "#!/bin/sh\nhead -c 10000 /dev/zero | tr '\\0' 'x'\nexit 1\n"
	p, err := New(config.VerifierConfig{
		Command:        []string{writeScript(t, script)},
		ReferenceDir:   t.TempDir(),
		Timeout:        5 * time.Second,
		MaxOutputBytes: 128,
	})
	require.NoError(t, err)

	res := p.Verify(context.Background(), "A1")
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, strings.Repeat("x", 128)+"...(truncated)", res.Output)
}

func TestVerify_ContextCancelKillsChild(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := "#!/bin/sh\necho $$ > " + pidFile + "\nexec sleep 30\n"
	p := newTestProcess(t, script, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	res := p.Verify(ctx, "A1")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.True(t, processGone(pid))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.VerifierConfig
	}{
		{name: "no command", cfg: config.VerifierConfig{Timeout: time.Second}},
		{name: "empty program", cfg: config.VerifierConfig{Command: []string{""}, Timeout: time.Second}},
		{name: "zero timeout", cfg: config.VerifierConfig{Command: []string{"true"}}},
		{name: "negative grace", cfg: config.VerifierConfig{Command: []string{"true"}, Timeout: time.Second, KillGrace: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 5}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde...(truncated)", b.String())
}
