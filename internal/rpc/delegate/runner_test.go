package delegate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fae-ai/fae-pi/internal/approval"
	"github.com/fae-ai/fae-pi/internal/rpc"
	"github.com/fae-ai/fae-pi/internal/tools"
)

type fakeTool struct {
	out string
	err error

	gotInput map[string]any
}

func (f *fakeTool) Name() string                    { return "pi_delegate" }
func (f *fakeTool) Description() string             { return "fake" }
func (f *fakeTool) InputSchema() map[string]any     { return map[string]any{"type": "object"} }
func (f *fakeTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	f.gotInput = input
	return f.out, f.err
}

func collect(t *testing.T, events <-chan rpc.DelegateRunEvent) []rpc.DelegateRunEvent {
	t.Helper()
	var out []rpc.DelegateRunEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestRunnerStreamsResultAsTokens(t *testing.T) {
	tool := &fakeTool{out: "all tests pass"}
	r := &ToolRunner{Tool: tool}

	events, err := r.Run(context.Background(), rpc.DelegateRunRequest{
		SessionID: "s1",
		Task:      "run the tests",
	})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 5)

	require.Equal(t, "message", got[0].Type)
	require.Equal(t, "all tests pass", got[0].Message)
	require.Equal(t, "s1", got[0].SessionID)
	require.Equal(t, "s1", got[0].CorrelationID, "correlation id defaults to session id")

	require.Equal(t, "token", got[1].Type)
	require.Equal(t, "all", got[1].Token)
	require.Equal(t, "tests", got[2].Token)
	require.Equal(t, "pass", got[3].Token)

	require.Equal(t, "done", got[4].Type)
	require.True(t, got[4].Done)
	require.Equal(t, "completed", got[4].FinishReason)
}

func TestRunnerPassesWorkingDirectoryThrough(t *testing.T) {
	tool := &fakeTool{out: "ok"}
	r := &ToolRunner{Tool: tool}

	events, err := r.Run(context.Background(), rpc.DelegateRunRequest{
		SessionID:        "s1",
		Task:             "fix it",
		WorkingDirectory: "/srv/repo",
	})
	require.NoError(t, err)
	collect(t, events)

	require.Equal(t, "fix it", tool.gotInput["task"])
	require.Equal(t, "/srv/repo", tool.gotInput["working_directory"])
}

func TestRunnerMapsFailuresToFinishReasons(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", tools.ErrTaskTimeout, "timeout"},
		{"process exit", tools.ErrProcessExited, "process_exited"},
		{"denied", tools.ErrDenied, "denied"},
		{"approval timeout", tools.ErrApprovalTimeout, "approval_failed"},
		{"cancelled", context.Canceled, "cancelled"},
		{"other", errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &ToolRunner{Tool: &fakeTool{err: tc.err}}
			events, err := r.Run(context.Background(), rpc.DelegateRunRequest{SessionID: "s1", Task: "t"})
			require.NoError(t, err)

			got := collect(t, events)
			require.Len(t, got, 1)
			require.Equal(t, "error", got[0].Type)
			require.Equal(t, tc.want, got[0].FinishReason)
			require.Contains(t, got[0].Error, tc.err.Error())
		})
	}
}

func TestRunnerRejectsMissingTool(t *testing.T) {
	r := &ToolRunner{}
	_, err := r.Run(context.Background(), rpc.DelegateRunRequest{Task: "t"})
	require.Error(t, err)
}

func TestRunnerForwardsApprovalRequests(t *testing.T) {
	inner := &fakeTool{out: "done"}
	broker := approval.NewBroker(4)
	gate := tools.NewApprovalGate(inner, broker, 5*time.Second, nil)
	r := &ToolRunner{Tool: gate, Broker: broker}

	events, err := r.Run(context.Background(), rpc.DelegateRunRequest{
		SessionID: "s1",
		Task:      "needs approval",
	})
	require.NoError(t, err)

	var sawApproval bool
	var final []rpc.DelegateRunEvent
	timeout := time.After(5 * time.Second)
	for {
		var ev rpc.DelegateRunEvent
		var ok bool
		select {
		case ev, ok = <-events:
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
		if !ok {
			break
		}
		if ev.Type == "approval_request" {
			sawApproval = true
			require.Equal(t, "pi_delegate", ev.Tool)
			require.NotZero(t, ev.ApprovalID)
			require.True(t, broker.Resolve(ev.ApprovalID, true))
			continue
		}
		final = append(final, ev)
	}

	require.True(t, sawApproval)
	require.NotEmpty(t, final)
	require.Equal(t, "message", final[0].Type)
	require.Equal(t, "done", final[len(final)-1].Type)
	require.Equal(t, "completed", final[len(final)-1].FinishReason)
}

func TestRunnerDeniedApprovalEndsWithError(t *testing.T) {
	inner := &fakeTool{out: "never"}
	broker := approval.NewBroker(4)
	gate := tools.NewApprovalGate(inner, broker, 5*time.Second, nil)
	r := &ToolRunner{Tool: gate, Broker: broker}

	events, err := r.Run(context.Background(), rpc.DelegateRunRequest{SessionID: "s1", Task: "t"})
	require.NoError(t, err)

	var last rpc.DelegateRunEvent
	timeout := time.After(5 * time.Second)
	for {
		var ev rpc.DelegateRunEvent
		var ok bool
		select {
		case ev, ok = <-events:
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
		if !ok {
			break
		}
		if ev.Type == "approval_request" {
			require.True(t, broker.Resolve(ev.ApprovalID, false))
			continue
		}
		last = ev
	}

	require.Equal(t, "error", last.Type)
	require.Equal(t, "denied", last.FinishReason)
}
