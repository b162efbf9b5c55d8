// Package masterlink wires the master client (§4.4) onto a real
// dispatcher connection: it implements master.Sender by marshaling a
// wire payload and sending it as an Envelope over a persistent
// net.Conn to the master node. It does not read from that connection;
// it exposes it through Conn so the entry point can serve its read
// loop and ID_RESPONSE/CONNECT_DIRECTIVE messages reach the satellite
// manager's registered processors.
package masterlink

import (
	"github.com/roboswarm/satellite/internal/dispatch"
	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/wire"
)

// Link is a master.Sender backed by one persistent Conn to the master
// node.
type Link struct {
	conn     *dispatch.Conn
	selfAddr string
}

// New builds a Link over an already-established connection to the
// master. selfAddr is attached to every outbound envelope so the
// master can correlate requests to this satellite.
func New(conn *dispatch.Conn, selfAddr string) *Link {
	return &Link{conn: conn, selfAddr: selfAddr}
}

// SendToMaster implements master.Sender.
func (l *Link) SendToMaster(t wire.Type, payload interface{}) error {
	body, err := wire.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode message to master", err)
	}
	return l.conn.Send(wire.Envelope{Type: t, Address: l.selfAddr, Body: body})
}

// Conn exposes the underlying connection so the entry point can drive
// its read loop through the shared dispatcher.
func (l *Link) Conn() *dispatch.Conn { return l.conn }
