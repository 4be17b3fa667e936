// Package session owns one Pi subprocess: spawning it in RPC mode, writing
// requests to its stdin, and reading stdout events through a dedicated
// goroutine into a FIFO queue.
package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/fae-ai/fae-pi/internal/rpc"
)

// ErrNotRunning is returned by Send when no Pi process is attached. Callers
// must Spawn first; Send never auto-spawns.
var ErrNotRunning = errors.New("pi session not running")

// Session manages a single Pi child process. A Session starts out not
// running; Spawn attaches a process and Shutdown detaches it. Shutdown must
// be called on every exit path; there is no finalizer watching the child.
//
// Session methods are safe for concurrent use, but the subprocess serves one
// prompt at a time; callers coordinating multiple tasks must serialize them
// (the delegate tool holds its own lock for this).
type Session struct {
	binPath  string
	provider string
	model    string
	logger   *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	events *queue[rpc.SessionEvent]
}

// New creates a session for the given Pi binary. The process is not started
// until Spawn.
func New(binPath, provider, model string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		binPath:  binPath,
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// BinaryPath returns the Pi binary path this session runs.
func (s *Session) BinaryPath() string {
	return s.binPath
}

// IsRunning reports whether a Pi process is currently attached.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Spawn starts the Pi process in RPC mode. It is a no-op when the session is
// already running.
func (s *Session) Spawn() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	cmd := exec.Command(s.binPath,
		"--mode", "rpc",
		"--no-session",
		"--provider", s.provider,
		"--model", s.model,
	)
	cmd.Stderr = nil // discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("capture pi stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture pi stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn pi at %s: %w", s.binPath, err)
	}

	events := newQueue[rpc.SessionEvent]()
	go readEvents(stdout, events)

	s.cmd = cmd
	s.stdin = stdin
	s.writer = bufio.NewWriter(stdin)
	s.events = events

	s.logger.Info("pi rpc session spawned",
		zap.String("path", s.binPath),
		zap.String("provider", s.provider),
		zap.String("model", s.model))
	return nil
}

// Send serializes a request and writes it to Pi's stdin as one line, flushing
// immediately.
func (s *Session) Send(req rpc.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return ErrNotRunning
	}

	line, err := rpc.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("serialize request: %w", err)
	}
	if _, err := s.writer.WriteString(line); err != nil {
		return fmt.Errorf("write to pi stdin: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline to pi stdin: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush pi stdin: %w", err)
	}
	return nil
}

// SendPrompt sends a coding task to Pi.
func (s *Session) SendPrompt(message string) error {
	return s.Send(rpc.Prompt(message))
}

// SendAbort asks Pi to abort the current operation.
func (s *Session) SendAbort() error {
	return s.Send(rpc.Abort())
}

// TryRecv returns the next buffered event without blocking. ok is false when
// nothing is buffered or the session has never been spawned.
func (s *Session) TryRecv() (rpc.SessionEvent, bool) {
	q := s.eventQueue()
	if q == nil {
		return rpc.SessionEvent{}, false
	}
	return q.tryPop()
}

// Recv blocks until an event is available. ok is false once the queue is
// closed and drained (the process is gone).
func (s *Session) Recv() (rpc.SessionEvent, bool) {
	q := s.eventQueue()
	if q == nil {
		return rpc.SessionEvent{}, false
	}
	return q.pop()
}

func (s *Session) eventQueue() *queue[rpc.SessionEvent] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Shutdown closes stdin to signal EOF, kills and reaps the child, and closes
// the event queue. Safe to call repeatedly and on a never-spawned session.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
		s.writer = nil
	}

	if s.cmd != nil {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.cmd = nil
		s.logger.Info("pi rpc session shut down")
	}

	if s.events != nil {
		s.events.close()
		s.events = nil
	}
}

// readEvents reads stdout lines, decodes them, and forwards the results until
// EOF, then pushes the process-exited sentinel and closes the queue.
func readEvents(stdout io.Reader, events *queue[rpc.SessionEvent]) {
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if !events.push(rpc.ParseLine(string(line))) {
				return // consumer gone
			}
		}
		if err != nil {
			events.push(rpc.ProcessExited())
			events.close()
			return
		}
	}
}
