// Package approval carries tool-approval requests between the gate wrapped
// around a dangerous tool and whatever frontend answers them (the daemon's
// bidi stream, a TUI, or nothing at all in headless mode).
package approval

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrUnavailable is returned by Submit when the broker has been closed.
var ErrUnavailable = errors.New("tool approval handler is unavailable")

var nextID atomic.Uint64

// NextID allocates a process-wide monotonically increasing approval id.
func NextID() uint64 {
	return nextID.Add(1)
}

// Request asks an external approver to allow or deny one tool execution.
// The approver answers via Respond; Cancel abandons the request, which the
// waiting gate observes as a closed channel.
type Request struct {
	ID        uint64
	Tool      string
	InputJSON string

	respond chan bool
	once    *sync.Once
}

// NewRequest builds a request with a one-shot response channel.
func NewRequest(id uint64, tool, inputJSON string) Request {
	return Request{
		ID:        id,
		Tool:      tool,
		InputJSON: inputJSON,
		respond:   make(chan bool, 1),
		once:      &sync.Once{},
	}
}

// Respond delivers the verdict. Reports whether this call was the one that
// settled the request (later calls are no-ops).
func (r Request) Respond(approved bool) bool {
	delivered := false
	r.once.Do(func() {
		r.respond <- approved
		close(r.respond)
		delivered = true
	})
	return delivered
}

// Cancel abandons the request without answering.
func (r Request) Cancel() {
	r.once.Do(func() {
		close(r.respond)
	})
}

// Response returns the channel the gate waits on. A received value is the
// verdict; a closed channel without a value means the request was abandoned.
func (r Request) Response() <-chan bool {
	return r.respond
}

// Submitter accepts approval requests. The gate depends on this narrow
// interface rather than on the broker.
type Submitter interface {
	Submit(Request) error
}

// Broker queues approval requests for a frontend and routes answers back by
// id. Close cancels everything pending so no gate waits forever on a dead
// approver.
type Broker struct {
	mu      sync.Mutex
	closed  bool
	pending map[uint64]Request
	ch      chan Request
}

// NewBroker builds a broker whose Requests channel buffers up to buffer
// outstanding requests.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		pending: make(map[uint64]Request),
		ch:      make(chan Request, buffer),
	}
}

// Submit hands a request to the frontend feed.
func (b *Broker) Submit(req Request) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrUnavailable
	}
	b.pending[req.ID] = req
	b.mu.Unlock()

	select {
	case b.ch <- req:
		return nil
	default:
		// Feed is saturated; treat as an unavailable approver rather than
		// blocking the tool runner indefinitely.
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
		return ErrUnavailable
	}
}

// Requests is the frontend's feed of pending approval requests.
func (b *Broker) Requests() <-chan Request {
	return b.ch
}

// Resolve answers a pending request by id. Reports whether the id was known
// and still pending.
func (b *Broker) Resolve(id uint64, approved bool) bool {
	b.mu.Lock()
	req, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	return req.Respond(approved)
}

// Close rejects future submissions and cancels all pending requests.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := b.pending
	b.pending = make(map[uint64]Request)
	b.mu.Unlock()

	for _, req := range pending {
		req.Cancel()
	}
}
