// Package doctor validates rfidgate configuration against the host it will run on.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/rfidgate/internal/auth"
	"github.com/mattjoyce/rfidgate/internal/config"
	"github.com/mattjoyce/rfidgate/internal/storage"
)

// minTokenLength is the shortest API token accepted without a warning.
const minTokenLength = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateService(r)
	d.validateReader(r)
	d.validateDirectory(r)
	d.validateVerifier(r)
	d.validateAPI(r)
	d.validateTokenScopes(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateService(r *Result) {
	if d.cfg.Service.PIDFile == "" {
		d.addWarning(r, "service", "service.pid_file",
			"no pid_file set; nothing stops two instances sharing one directory")
	}
}

func (d *Doctor) validateReader(r *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.Reader.Listen); err != nil {
		d.addError(r, "reader", "reader.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.Reader.Listen, err))
	}
	if d.cfg.Reader.MaxConnections == 0 {
		d.addWarning(r, "reader", "reader.max_connections",
			"connection count is unlimited")
	}
	if d.cfg.Reader.MaxLineBytes > 0 && d.cfg.Reader.MaxLineBytes < 64 {
		d.addWarning(r, "reader", "reader.max_line_bytes",
			fmt.Sprintf("max_line_bytes %d is small enough to reject real tags", d.cfg.Reader.MaxLineBytes))
	}
}

func (d *Doctor) validateDirectory(r *Result) {
	if d.cfg.Directory.Driver != config.DriverSQLite {
		return
	}
	if err := storage.CheckSQLitePath(d.cfg.Directory.DSN); err != nil {
		d.addError(r, "directory", "directory.dsn", err.Error())
	}
}

func (d *Doctor) validateVerifier(r *Result) {
	v := d.cfg.Verifier
	if !v.Enabled {
		d.addWarning(r, "verifier", "verifier.enabled",
			"verifier disabled; found tags are granted on lookup alone")
		return
	}

	if len(v.Command) > 0 && v.Command[0] != "" {
		if _, err := d.lookPath(v.Command[0]); err != nil {
			d.addError(r, "verifier", "verifier.command",
				fmt.Sprintf("verifier program %q not found: %v", v.Command[0], err))
		}
	}

	d.checkDir(r, "verifier.reference_dir", v.ReferenceDir, true)
	if v.Workdir != "" {
		d.checkDir(r, "verifier.workdir", v.Workdir, false)
	}

	if v.Timeout > 2*time.Minute {
		d.addWarning(r, "verifier", "verifier.timeout",
			fmt.Sprintf("timeout %s holds a reader for a long time on a hung verifier", v.Timeout))
	}
	if v.KillGrace >= v.Timeout && v.Timeout > 0 {
		d.addWarning(r, "verifier", "verifier.kill_grace",
			"kill_grace is not shorter than timeout")
	}
}

func (d *Doctor) checkDir(r *Result, field, path string, wantEntries bool) {
	info, err := os.Stat(path)
	if err != nil {
		d.addError(r, "verifier", field, fmt.Sprintf("%s: %v", path, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "verifier", field, fmt.Sprintf("%s is not a directory", path))
		return
	}
	if !wantEntries {
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		d.addError(r, "verifier", field, fmt.Sprintf("read %s: %v", path, err))
		return
	}
	if len(entries) == 0 {
		abs, _ := filepath.Abs(path)
		d.addWarning(r, "verifier", field,
			fmt.Sprintf("%s is empty; every verification will fail", abs))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	}
	if len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth",
			"API enabled but no tokens configured; only /healthz and /metrics are reachable")
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		if tok.Token != "" && len(tok.Token) < minTokenLength {
			d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i),
				fmt.Sprintf("token is shorter than %d characters", minTokenLength))
		}
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.IsKnownScope(strings.TrimSpace(scope)) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected one of: %s)", scope, strings.Join(auth.KnownScopes, ", ")))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
