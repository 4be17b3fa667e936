package delegate

import (
	"context"
	"errors"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/fae-ai/fae-pi/internal/approval"
	"github.com/fae-ai/fae-pi/internal/observability"
	"github.com/fae-ai/fae-pi/internal/rpc"
	"github.com/fae-ai/fae-pi/internal/rpc/connectjson"
)

const ConnectRunProcedure = "/connect.delegate.v1.DelegateService/Run"

// NewConnectHandler builds a Connect bidi stream handler for delegation.
// The first client message carries the run payload; later messages may
// cancel the run or answer approval requests through the broker.
func NewConnectHandler(runner Runner, broker *approval.Broker, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectRunHandler{runner: runner, broker: broker, metrics: metrics}
	return ConnectRunProcedure, connect.NewBidiStreamHandler(ConnectRunProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectRunHandler struct {
	runner  Runner
	broker  *approval.Broker
	metrics *observability.Metrics
}

func (h *connectRunHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.DelegateStreamRequest, rpc.DelegateRunEvent]) error {
	h.metrics.IncActiveSessions("connect")
	defer h.metrics.DecActiveSessions("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Run == nil {
		h.metrics.RecordTransportError("connect", "missing_run")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include run payload"))
	}

	req := *first.Run
	if req.Task == "" {
		h.metrics.RecordTransportError("connect", "missing_task")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("missing task"))
	}
	fillIdentifiers(&req)

	// Listen for cancellation and approval answers from the client.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				if !errors.Is(recvErr, context.Canceled) {
					h.metrics.RecordTransportError("connect", "receive_stream")
				}
				cancel()
				return
			}
			if msg == nil {
				continue
			}
			if msg.Cancel {
				cancel()
				return
			}
			if msg.Approval != nil && h.broker != nil {
				if !h.broker.Resolve(msg.Approval.ID, msg.Approval.Approved) {
					h.metrics.RecordTransportError("connect", "stale_approval")
				}
			}
		}
	}()

	events, runErr := h.runner.Run(ctx, req)
	if runErr != nil {
		h.metrics.RecordTransportError("connect", "runner_error")
		return connect.NewError(connect.CodeInternal, runErr)
	}

	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			return err
		}
	}
	return nil
}
