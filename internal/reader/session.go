package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/rfidgate/internal/directory"
	"github.com/mattjoyce/rfidgate/internal/events"
	"github.com/mattjoyce/rfidgate/internal/log"
	"github.com/mattjoyce/rfidgate/internal/metrics"
)

const (
	// DefaultMaxLineBytes bounds a single protocol line.
	DefaultMaxLineBytes = 4096

	// writeTimeout bounds how long a reply may sit unread by the client.
	writeTimeout = 10 * time.Second
)

// Session serves one reader connection. Commands are handled strictly in
// order; a second command is not read until the first reply is flushed.
type Session struct {
	id       string
	remote   string
	conn     net.Conn
	scanner  *bufio.Scanner
	w        *bufio.Writer
	dir      Directory
	verifier Verifier
	hub      *events.Hub
	logger   *slog.Logger
}

// NewSession binds a session to conn. A nil verifier means lookup-only
// replies; a nil hub disables scan events.
func NewSession(conn net.Conn, dir Directory, verifier Verifier, hub *events.Hub, maxLineBytes int) *Session {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(maxLineBytes, 512)), maxLineBytes)

	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	return &Session{
		id:       id,
		remote:   remote,
		conn:     conn,
		scanner:  scanner,
		w:        bufio.NewWriter(conn),
		dir:      dir,
		verifier: verifier,
		hub:      hub,
		logger:   log.WithSession(id, remote),
	}
}

// ID returns the session identifier used in logs and events.
func (s *Session) ID() string {
	return s.id
}

// Run reads commands until the stream ends or breaks, then closes the connection.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()
	s.logger.Info("reader connected")

	for {
		line, ok := s.readLine()
		if !ok {
			return
		}
		if line != CommandRFID {
			s.logger.Debug("ignoring unrecognized line", "line", line)
			continue
		}

		id, ok := s.readLine()
		if !ok {
			return
		}

		if err := s.handle(ctx, id); err != nil {
			s.logger.Info("reader disconnected", "reason", "write failed", "error", err)
			return
		}
	}
}

// readLine returns the next line without its terminator. ok is false when
// the session must end.
func (s *Session) readLine() (line string, ok bool) {
	if s.scanner.Scan() {
		return s.scanner.Text(), true
	}

	err := s.scanner.Err()
	switch {
	case err == nil:
		s.logger.Info("reader disconnected", "reason", "eof")
	case errors.Is(err, bufio.ErrTooLong):
		s.logger.Warn("reader disconnected", "reason", "line too long")
	case errors.Is(err, net.ErrClosed):
		s.logger.Info("reader disconnected", "reason", "closed")
	default:
		s.logger.Info("reader disconnected", "reason", "read failed", "error", err)
	}
	return "", false
}

// handle answers one command. Only a failed write is returned; everything
// else is absorbed so the session can take the next command.
func (s *Session) handle(ctx context.Context, rfid string) (err error) {
	start := time.Now()
	ev := events.ScanEvent{
		SessionID: s.id,
		Remote:    s.remote,
		RFID:      rfid,
		Result:    events.ResultError,
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling command", "rfid", rfid, "panic", r, "stack", string(debug.Stack()))
			ev.Result = events.ResultError
			err = nil
		}
		ev.DurationMS = time.Since(start).Milliseconds()
		metrics.ObserveScan(ev.Result)
		s.hub.PublishScan(ev)
	}()

	reply, ok := s.resolve(ctx, rfid, &ev)
	if !ok {
		return nil
	}
	return s.writeLine(reply)
}

// resolve runs lookup and, when configured, verification. ok is false when
// no reply should be sent.
func (s *Session) resolve(ctx context.Context, rfid string, ev *events.ScanEvent) (reply string, ok bool) {
	if rfid == "" {
		ev.Result = events.ResultNotFound
		return ResponseNotFound, true
	}

	emp, err := s.dir.FindByID(ctx, rfid)
	if errors.Is(err, directory.ErrNotFound) {
		s.logger.Info("scan not found", "rfid", rfid)
		ev.Result = events.ResultNotFound
		return ResponseNotFound, true
	}
	if err != nil {
		s.logger.Error("directory lookup failed", "rfid", rfid, "error", err)
		return "", false
	}
	if emp == nil {
		s.logger.Error("directory returned no record and no error", "rfid", rfid)
		return "", false
	}
	ev.Username = emp.Username

	if s.verifier != nil {
		res := s.verifier.Verify(ctx, rfid)
		ev.Outcome = string(res.Outcome)
		if !res.Outcome.Passed() {
			s.logger.Info("scan denied", "rfid", rfid, "outcome", res.Outcome)
			ev.Result = events.ResultVerificationFailed
			return ResponseVerificationFailed, true
		}
	}

	b, err := json.Marshal(emp)
	if err != nil {
		s.logger.Error("encode employee", "rfid", rfid, "error", err)
		return "", false
	}

	s.logger.Info("scan granted", "rfid", rfid, "username", emp.Username)
	ev.Result = events.ResultGranted
	return string(b), true
}

func (s *Session) writeLine(line string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}
