// Package dispatch implements the message dispatcher collaborator:
// registration of typed processors, framed delivery of inbound
// messages by type, and sending of outbound framed messages. The
// wire-level framing below is this module's own concrete choice for
// exercising the rest of the system end-to-end — §1 treats the
// underlying transport as an opaque, externally-supplied channel.
package dispatch

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/roboswarm/satellite/internal/wire"
)

// Conn frames wire.Envelope values onto a net.Conn: a 2-byte type, a
// 2-byte address length followed by the address bytes, and a 4-byte
// body length followed by the body bytes, all big-endian.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps an established net.Conn (already accepted or dialed)
// for framed envelope exchange.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Send writes env to the connection. Safe for concurrent use.
func (c *Conn) Send(env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(env.Address) > 0xFFFF {
		return fmt.Errorf("address too long: %d bytes", len(env.Address))
	}
	if len(env.Body) > 0xFFFFFFFF {
		return fmt.Errorf("body too long: %d bytes", len(env.Body))
	}

	header := make([]byte, 2+2+len(env.Address)+4)
	binary.BigEndian.PutUint16(header[0:2], uint16(env.Type))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(env.Address)))
	copy(header[4:], env.Address)
	binary.BigEndian.PutUint32(header[4+len(env.Address):], uint32(len(env.Body)))

	if _, err := c.nc.Write(header); err != nil {
		return err
	}
	if len(env.Body) > 0 {
		if _, err := c.nc.Write(env.Body); err != nil {
			return err
		}
	}
	return nil
}

// Recv blocks until one framed envelope has been read, or the
// connection errors/closes.
func (c *Conn) Recv() (wire.Envelope, error) {
	var fixedHeader [4]byte
	if _, err := io.ReadFull(c.r, fixedHeader[:]); err != nil {
		return wire.Envelope{}, err
	}
	typ := wire.Type(binary.BigEndian.Uint16(fixedHeader[0:2]))
	addrLen := binary.BigEndian.Uint16(fixedHeader[2:4])

	addrAndLen := make([]byte, int(addrLen)+4)
	if _, err := io.ReadFull(c.r, addrAndLen); err != nil {
		return wire.Envelope{}, err
	}
	address := string(addrAndLen[:addrLen])
	bodyLen := binary.BigEndian.Uint32(addrAndLen[addrLen:])

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(c.r, body); err != nil {
			return wire.Envelope{}, err
		}
	}

	return wire.Envelope{Type: typ, Address: address, Body: body}, nil
}
