package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fae-ai/fae-pi/internal/observability"
	"github.com/fae-ai/fae-pi/internal/rpc"
	"github.com/fae-ai/fae-pi/internal/session"
)

const (
	defaultTaskTimeout  = 5 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
)

// Delegate hands coding tasks to the Pi agent over its RPC session and
// returns the accumulated response text.
//
// Pi's stdio is blocking I/O, so Execute runs its poll loop on the calling
// goroutine; the Go scheduler parks it without starving anything else, and
// the loop watches both the hard deadline and the caller's context. One task
// is in flight per session: concurrent calls queue on the mutex instead of
// racing for the single stdin/stdout pair.
type Delegate struct {
	session *session.Session
	timeout time.Duration
	poll    time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu sync.Mutex
}

// DelegateOption tweaks delegate construction.
type DelegateOption func(*Delegate)

// WithTimeout overrides the hard task deadline. Values outside the sane band
// are the config layer's problem; the tool accepts what it is given.
func WithTimeout(d time.Duration) DelegateOption {
	return func(t *Delegate) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithPollInterval overrides the event poll sleep.
func WithPollInterval(d time.Duration) DelegateOption {
	return func(t *Delegate) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithMetrics attaches delegate/session collectors.
func WithMetrics(m *observability.Metrics) DelegateOption {
	return func(t *Delegate) {
		t.metrics = m
	}
}

// NewDelegate builds the delegate tool around a shared session.
func NewDelegate(sess *session.Session, logger *zap.Logger, opts ...DelegateOption) *Delegate {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Delegate{
		session: sess,
		timeout: defaultTaskTimeout,
		poll:    defaultPollInterval,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Tool.
func (d *Delegate) Name() string {
	return "pi_delegate"
}

// Description implements Tool.
func (d *Delegate) Description() string {
	return "Delegate a coding task to the Pi coding agent. Pi can read files, " +
		"edit code, run shell commands, and perform research. Use this for " +
		"tasks that require writing or modifying code, running tests, " +
		"editing configuration files, or performing multi-step development work."
}

// InputSchema implements Tool.
func (d *Delegate) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Description of the coding task for Pi to execute",
			},
			"working_directory": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the task (defaults to current directory)",
			},
		},
		"required": []string{"task"},
	}
}

// Execute implements Tool. It ensures the session is spawned, sends exactly
// one prompt, and polls events until AgentEnd, the deadline, or process
// death.
func (d *Delegate) Execute(ctx context.Context, input map[string]any) (string, error) {
	task, ok := StringField(input, "task")
	if !ok || task == "" {
		return "", fmt.Errorf("missing 'task' field")
	}

	prompt := task
	if dir, ok := StringField(input, "working_directory"); ok && dir != "" {
		prompt = fmt.Sprintf("Working directory: %s\n\n%s", dir, task)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	text, err := d.run(ctx, prompt)
	d.metrics.RecordDelegateRun(outcomeLabel(err), time.Since(start))
	return text, err
}

func (d *Delegate) run(ctx context.Context, prompt string) (string, error) {
	if err := d.session.Spawn(); err != nil {
		return "", fmt.Errorf("spawn pi: %w", err)
	}
	if err := d.session.SendPrompt(prompt); err != nil {
		return "", fmt.Errorf("send prompt to pi: %w", err)
	}

	var text strings.Builder
	deadline := time.Now().Add(d.timeout)

	for {
		if err := ctx.Err(); err != nil {
			d.abandon()
			return "", fmt.Errorf("pi task cancelled: %w", err)
		}
		if time.Now().After(deadline) {
			d.abandon()
			return "", fmt.Errorf("%w after %.0f seconds", ErrTaskTimeout, d.timeout.Seconds())
		}

		ev, ok := d.session.TryRecv()
		if !ok {
			time.Sleep(d.poll)
			continue
		}

		switch {
		case ev.Exited:
			d.metrics.RecordSessionEvent("process_exited")
			return "", ErrProcessExited
		case ev.Event == nil:
			d.metrics.RecordSessionEvent("unknown")
			d.logger.Debug("unrecognized pi line", zap.String("line", ev.Raw))
		default:
			d.metrics.RecordSessionEvent(string(ev.Event.Type))
			switch ev.Event.Type {
			case rpc.EventMessageUpdate:
				text.WriteString(ev.Event.Text)
			case rpc.EventToolExecutionStart:
				d.logger.Debug("pi tool started", zap.String("tool", ev.Event.Name))
			case rpc.EventToolExecutionEnd:
				d.logger.Debug("pi tool finished",
					zap.String("tool", ev.Event.Name),
					zap.Bool("success", ev.Event.Success))
			case rpc.EventAgentEnd:
				return text.String(), nil
			}
		}
	}
}

// abandon aborts the in-flight task best-effort and tears the session down
// so the next Execute starts from a clean process.
func (d *Delegate) abandon() {
	_ = d.session.SendAbort()
	d.session.Shutdown()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTaskTimeout):
		return "timeout"
	case errors.Is(err, ErrProcessExited):
		return "process_exited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
