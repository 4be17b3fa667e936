package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fae-ai/fae-pi/internal/approval"
	"github.com/fae-ai/fae-pi/internal/observability"
)

const defaultApprovalTimeout = 60 * time.Second

// ApprovalGate wraps any tool and requires an explicit user approval before
// delegating execution. With no submitter configured it is transparent
// (headless/CLI mode). The inner tool runs only on an explicit approved=true
// answer; denial, an abandoned request, and a timed-out wait are three
// distinct errors.
type ApprovalGate struct {
	inner     Tool
	submitter approval.Submitter
	timeout   time.Duration
	metrics   *observability.Metrics
}

// NewApprovalGate wraps inner. submitter may be nil for headless operation;
// timeout <= 0 falls back to the default.
func NewApprovalGate(inner Tool, submitter approval.Submitter, timeout time.Duration, metrics *observability.Metrics) *ApprovalGate {
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	return &ApprovalGate{inner: inner, submitter: submitter, timeout: timeout, metrics: metrics}
}

// Name forwards to the wrapped tool.
func (g *ApprovalGate) Name() string {
	return g.inner.Name()
}

// Description forwards to the wrapped tool.
func (g *ApprovalGate) Description() string {
	return g.inner.Description()
}

// InputSchema forwards to the wrapped tool.
func (g *ApprovalGate) InputSchema() map[string]any {
	return g.inner.InputSchema()
}

// Execute implements Tool.
func (g *ApprovalGate) Execute(ctx context.Context, input map[string]any) (string, error) {
	if g.submitter == nil {
		return g.inner.Execute(ctx, input)
	}

	inputJSON := serializeForDisplay(input)
	req := approval.NewRequest(approval.NextID(), g.inner.Name(), inputJSON)
	if err := g.submitter.Submit(req); err != nil {
		g.metrics.RecordApprovalDecision("unavailable")
		return "", fmt.Errorf("submit approval request: %w", err)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case verdict, ok := <-req.Response():
		if !ok {
			g.metrics.RecordApprovalDecision("closed")
			return "", ErrApprovalClosed
		}
		if !verdict {
			g.metrics.RecordApprovalDecision("denied")
			return "", ErrDenied
		}
		g.metrics.RecordApprovalDecision("approved")
		return g.inner.Execute(ctx, input)
	case <-timer.C:
		g.metrics.RecordApprovalDecision("timeout")
		return "", ErrApprovalTimeout
	case <-ctx.Done():
		g.metrics.RecordApprovalDecision("cancelled")
		return "", ctx.Err()
	}
}

// serializeForDisplay renders the input for the approver. Marshal failures
// degrade to a placeholder rather than blocking the approval flow.
func serializeForDisplay(input map[string]any) string {
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf(`{"_error":"failed to serialize tool input: %v"}`, err)
	}
	return string(raw)
}
