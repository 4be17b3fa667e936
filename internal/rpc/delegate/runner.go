package delegate

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fae-ai/fae-pi/internal/approval"
	"github.com/fae-ai/fae-pi/internal/rpc"
	"github.com/fae-ai/fae-pi/internal/tools"
)

// Runner executes a delegation and yields streamed events.
type Runner interface {
	Run(ctx context.Context, req rpc.DelegateRunRequest) (<-chan rpc.DelegateRunEvent, error)
}

// ToolRunner drives the delegate tool and translates its outcome into RPC
// events. When a Broker is attached, pending approval requests are forwarded
// into the stream so the client can answer them.
type ToolRunner struct {
	Tool   tools.Tool
	Broker *approval.Broker
	Logger *zap.Logger
}

// Run starts the delegation in the background. The returned channel emits an
// approval_request for each gated call, a message with the complete result,
// token events for each word of it, and finally done. Failures terminate the
// stream with a single error event.
func (r *ToolRunner) Run(ctx context.Context, req rpc.DelegateRunRequest) (<-chan rpc.DelegateRunEvent, error) {
	if r.Tool == nil {
		return nil, errors.New("delegate tool unavailable")
	}

	out := make(chan rpc.DelegateRunEvent, 16)
	go func() {
		corr := req.CorrelationID
		if corr == "" {
			corr = req.SessionID
		}

		finished := make(chan struct{})
		forwarderDone := make(chan struct{})
		if r.Broker != nil {
			go func() {
				defer close(forwarderDone)
				r.forwardApprovals(req.SessionID, corr, out, finished)
			}()
		} else {
			close(forwarderDone)
		}
		// The forwarder must stop before out closes so it never sends on a
		// closed channel.
		defer func() {
			close(finished)
			<-forwarderDone
			close(out)
		}()

		input := map[string]any{"task": req.Task}
		if req.WorkingDirectory != "" {
			input["working_directory"] = req.WorkingDirectory
		}

		result, err := r.Tool.Execute(ctx, input)
		if err != nil {
			r.log().Warn("delegation failed",
				zap.String("session_id", req.SessionID), zap.Error(err))
			out <- rpc.DelegateRunEvent{
				Type:          "error",
				SessionID:     req.SessionID,
				CorrelationID: corr,
				Error:         err.Error(),
				FinishReason:  finishReason(err),
			}
			return
		}

		out <- rpc.DelegateRunEvent{
			Type:          "message",
			SessionID:     req.SessionID,
			CorrelationID: corr,
			Message:       result,
		}
		for _, word := range strings.Fields(result) {
			select {
			case <-ctx.Done():
				out <- rpc.DelegateRunEvent{
					Type:          "error",
					SessionID:     req.SessionID,
					CorrelationID: corr,
					Error:         "cancelled",
					FinishReason:  "cancelled",
				}
				return
			case out <- rpc.DelegateRunEvent{
				Type:          "token",
				SessionID:     req.SessionID,
				CorrelationID: corr,
				Token:         word,
			}:
			}
		}

		out <- rpc.DelegateRunEvent{
			Type:          "done",
			SessionID:     req.SessionID,
			CorrelationID: corr,
			Done:          true,
			FinishReason:  "completed",
		}
	}()
	return out, nil
}

// forwardApprovals relays gate submissions into the event stream until the
// run finishes.
func (r *ToolRunner) forwardApprovals(sessionID, corr string, out chan<- rpc.DelegateRunEvent, finished <-chan struct{}) {
	for {
		select {
		case <-finished:
			return
		case req, ok := <-r.Broker.Requests():
			if !ok {
				return
			}
			select {
			case <-finished:
				// Nobody is listening anymore; leave the request pending so
				// the gate's own timeout resolves it.
				return
			case out <- rpc.DelegateRunEvent{
				Type:          "approval_request",
				SessionID:     sessionID,
				CorrelationID: corr,
				ApprovalID:    req.ID,
				Tool:          req.Tool,
				InputJSON:     req.InputJSON,
			}:
			}
		}
	}
}

func (r *ToolRunner) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// finishReason maps a delegation error to the stream's finish reason label.
func finishReason(err error) string {
	switch {
	case errors.Is(err, tools.ErrTaskTimeout):
		return "timeout"
	case errors.Is(err, tools.ErrProcessExited):
		return "process_exited"
	case errors.Is(err, tools.ErrDenied):
		return "denied"
	case errors.Is(err, tools.ErrApprovalTimeout), errors.Is(err, tools.ErrApprovalClosed):
		return "approval_failed"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
