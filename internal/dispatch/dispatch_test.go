package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/wire"
)

func TestSendRecvRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewConn(clientConn)
	server := NewConn(serverConn)

	payload, err := wire.Marshal(wire.IDResponsePayload{Address: "SATL0042"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env := wire.Envelope{Type: wire.IDResponse, Address: "SATL0042", Body: payload}

	done := make(chan error, 1)
	go func() { done <- client.Send(env) }()

	got, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if sendErr := <-done; sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}

	if got.Type != wire.IDResponse || got.Address != "SATL0042" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	var decoded wire.IDResponsePayload
	if err := wire.Unmarshal(got.Body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Address != "SATL0042" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestDispatchUnknownTypeIsInvalidRequest(t *testing.T) {
	d := New(hclog.NewNullLogger())
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	err := d.Dispatch(NewConn(serverConn), wire.Envelope{Type: wire.RouteInfo})
	if !errs.Is(err, errs.InvalidRequest) {
		t.Fatalf("expected InvalidRequest for unregistered type, got %v", err)
	}
}

func TestDispatchDeliversToRegisteredProcessor(t *testing.T) {
	d := New(hclog.NewNullLogger())
	received := make(chan wire.Envelope, 1)
	d.Register(wire.RouteInfo, func(conn *Conn, env wire.Envelope) error {
		received <- env
		return nil
	})

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	if err := d.Dispatch(NewConn(serverConn), wire.Envelope{Type: wire.RouteInfo, Address: "SATL0001"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case env := <-received:
		if env.Address != "SATL0001" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("processor was not invoked")
	}
}
