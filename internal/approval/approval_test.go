package approval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIDIsMonotonic(t *testing.T) {
	a := NextID()
	b := NextID()
	require.Greater(t, b, a)
}

func TestRequestRespondIsOneShot(t *testing.T) {
	req := NewRequest(1, "pi_delegate", "{}")
	require.True(t, req.Respond(true))
	require.False(t, req.Respond(false), "second answer must be ignored")

	verdict, ok := <-req.Response()
	require.True(t, ok)
	require.True(t, verdict)
}

func TestRequestCancelClosesWithoutAnswer(t *testing.T) {
	req := NewRequest(2, "pi_delegate", "{}")
	req.Cancel()

	_, ok := <-req.Response()
	require.False(t, ok)
	require.False(t, req.Respond(true), "respond after cancel must be a no-op")
}

func TestBrokerRoutesAnswerByID(t *testing.T) {
	b := NewBroker(4)
	req := NewRequest(NextID(), "pi_delegate", `{"task":"x"}`)
	require.NoError(t, b.Submit(req))

	got := <-b.Requests()
	require.Equal(t, req.ID, got.ID)

	require.True(t, b.Resolve(got.ID, false))
	verdict, ok := <-req.Response()
	require.True(t, ok)
	require.False(t, verdict)

	require.False(t, b.Resolve(got.ID, true), "resolved ids must not linger")
}

func TestBrokerResolveUnknownID(t *testing.T) {
	b := NewBroker(1)
	require.False(t, b.Resolve(999, true))
}

func TestBrokerCloseCancelsPending(t *testing.T) {
	b := NewBroker(4)
	req := NewRequest(NextID(), "pi_delegate", "{}")
	require.NoError(t, b.Submit(req))

	b.Close()
	_, ok := <-req.Response()
	require.False(t, ok, "pending requests must be cancelled on close")

	err := b.Submit(NewRequest(NextID(), "pi_delegate", "{}"))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBrokerSaturatedFeedRejects(t *testing.T) {
	b := NewBroker(1)
	require.NoError(t, b.Submit(NewRequest(NextID(), "a", "{}")))
	err := b.Submit(NewRequest(NextID(), "b", "{}"))
	require.ErrorIs(t, err, ErrUnavailable)
}
