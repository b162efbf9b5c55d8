// Package master implements the master client (§4.4): address
// issuance against the fleet master, backed by a strict FIFO queue of
// pending requests.
//
// The predecessor's setNewCommID resolved the pending-request queue
// with Python's list.pop() — which pops the last appended element,
// i.e. LIFO — while the queue it was draining is filled in request
// order. This client instead keeps an explicit pop-front queue so the
// i-th request is always resolved by the i-th response, which is the
// whole point of correlating requests to a response *stream* rather
// than to individually tagged responses.
package master

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/future"
	"github.com/roboswarm/satellite/internal/wire"
)

// Sender is the outbound half of the dispatcher this client needs: the
// ability to send a typed message to the master.
type Sender interface {
	SendToMaster(t wire.Type, payload interface{}) error
}

// Client requests and releases fleet-unique addresses from the master
// node.
type Client struct {
	send Sender
	log  hclog.Logger

	mu      sync.Mutex
	pending []*future.Future[string]
}

// NewClient builds a Client that sends requests through send.
func NewClient(send Sender, log hclog.Logger) *Client {
	return &Client{send: send, log: log.Named("master-client")}
}

// RequestNewAddress enqueues a pending slot, sends ID_REQUEST to the
// master, and returns the slot's completion handle. The correlation
// token is for log correlation only; resolution itself is purely
// FIFO-positional, matching §4.4.
func (c *Client) RequestNewAddress() *future.Future[string] {
	f := future.New[string]()
	token, err := uuid.GenerateUUID()
	if err != nil {
		token = "unavailable"
	}

	c.mu.Lock()
	c.pending = append(c.pending, f)
	queueLen := len(c.pending)
	c.mu.Unlock()

	c.log.Debug("requesting new address", "correlation", token, "queue_depth", queueLen)
	if err := c.send.SendToMaster(wire.IDRequest, wire.IDRequestPayload{}); err != nil {
		c.log.Error("failed to send ID_REQUEST", "correlation", token, "error", err)
		c.failNewest(errs.Wrap(errs.MasterUnavailable, "send ID_REQUEST", err))
	}
	return f
}

// OnIDResponse resolves the oldest pending slot with address, in
// strict FIFO order. It fails with Internal if no slot is pending — a
// response with nothing to correlate to indicates a protocol bug, not
// a caller mistake.
func (c *Client) OnIDResponse(address string) error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return errs.New(errs.Internal, "ID_RESPONSE received with no pending request")
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	c.mu.Unlock()

	f.Resolve(address)
	return nil
}

// ReleaseAddress sends a fire-and-forget ID_DELETE to the master; no
// acknowledgment is expected and a send failure is silently tolerated,
// matching §4.4.
func (c *Client) ReleaseAddress(address string) {
	if err := c.send.SendToMaster(wire.IDDelete, wire.IDDeletePayload{Address: address}); err != nil {
		c.log.Debug("ID_DELETE send failed, tolerated", "address", address, "error", err)
	}
}

// OnLinkDown fails every pending slot with MasterUnavailable, matching
// §4.4's "if the master connection drops while slots are pending, all
// pending slots are failed".
func (c *Client) OnLinkDown() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, f := range pending {
		f.Fail(errs.New(errs.MasterUnavailable, "master link is down"))
	}
}

// Shutdown cancels every pending slot, matching the Cancelled
// propagation §5/§8 require at satellite shutdown.
func (c *Client) Shutdown(ctx context.Context) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, f := range pending {
		f.Cancel()
	}
}

// failNewest is used when sending the request itself failed: the slot
// we just enqueued (and only that one) should be failed immediately
// rather than waiting for a response that will never come.
func (c *Client) failNewest(err error) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	f := c.pending[len(c.pending)-1]
	c.pending = c.pending[:len(c.pending)-1]
	c.mu.Unlock()
	f.Fail(err)
}
