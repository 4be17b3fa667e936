package delegate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fae-ai/fae-pi/internal/rpc"
)

type stubRunner struct {
	events []rpc.DelegateRunEvent
	err    error
	got    rpc.DelegateRunRequest
}

func (s *stubRunner) Run(ctx context.Context, req rpc.DelegateRunRequest) (<-chan rpc.DelegateRunEvent, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan rpc.DelegateRunEvent, len(s.events))
	for _, ev := range s.events {
		ev.SessionID = req.SessionID
		out <- ev
	}
	close(out)
	return out, nil
}

func TestHandlerStreamsNDJSON(t *testing.T) {
	runner := &stubRunner{events: []rpc.DelegateRunEvent{
		{Type: "message", Message: "hi"},
		{Type: "done", Done: true, FinishReason: "completed"},
	}}
	handler := NewHandler(runner, nil)

	body := bytes.NewBufferString(`{"session_id":"s-1","task":"say hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/delegate/run", body)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	resp := rr.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	require.Equal(t, "say hi", runner.got.Task)
	require.Equal(t, "s-1", runner.got.SessionID)
	require.Equal(t, "s-1-corr", runner.got.CorrelationID)

	scanner := bufio.NewScanner(resp.Body)
	var types []string
	for scanner.Scan() {
		var ev rpc.DelegateRunEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{"message", "done"}, types)
}

func TestHandlerRejectsNonPost(t *testing.T) {
	handler := NewHandler(&stubRunner{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/delegate/run", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandlerRejectsMissingTask(t *testing.T) {
	handler := NewHandler(&stubRunner{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/delegate/run", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerRejectsBadJSON(t *testing.T) {
	handler := NewHandler(&stubRunner{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/delegate/run", bytes.NewBufferString(`{nope`))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerGeneratesSessionID(t *testing.T) {
	runner := &stubRunner{events: []rpc.DelegateRunEvent{{Type: "done", Done: true}}}
	handler := NewHandler(runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/delegate/run", bytes.NewBufferString(`{"task":"t"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, runner.got.SessionID)
	require.NotEmpty(t, runner.got.CorrelationID)
}
