// Package metadatalink is a minimal concrete transport for the
// metadata client's two lookups against the external database (§4.6).
// The database itself and its wire format are explicitly out of scope
// (§1 "the persistent database that stores robot and node metadata");
// this package exists only so the process entry point has a working
// RobotSpecFetcher/NodeSpecFetcher to construct internal/metadata's
// Client with, the same way internal/dispatch supplies a concrete
// net.Conn transport for the otherwise-opaque inter-node channel.
package metadatalink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/ugorji/go/codec"

	"github.com/roboswarm/satellite/internal/metadata"
	"github.com/roboswarm/satellite/internal/node"
)

var mh codec.MsgpackHandle

const (
	kindRobotSpec byte = 1
	kindNodeSpec  byte = 2
)

type robotSpecRequest struct {
	RobotID string `codec:"robot_id"`
}

type robotSpecResponse struct {
	HomeDir string `codec:"home_dir"`
	Error   string `codec:"error,omitempty"`
}

type nodeSpecRequest struct {
	NodeID string `codec:"node_id"`
}

type parameterSpecWire struct {
	Name     string `codec:"name"`
	Kind     string `codec:"kind"`
	Optional bool   `codec:"optional"`
	Default  string `codec:"default"`
}

type nodeSpecResponse struct {
	Package    string              `codec:"package"`
	Executable string              `codec:"executable"`
	Parameters []parameterSpecWire `codec:"parameters"`
	Error      string              `codec:"error,omitempty"`
}

// Link talks to the external metadata database at DialAddr over a
// short-lived request/response TCP connection, one per lookup — unlike
// the satellite mesh's persistent links, there is no reason to hold a
// metadata connection open between requests.
type Link struct {
	DialAddr string
}

func roundTrip(ctx context.Context, dialAddr string, kind byte, req, resp interface{}) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, &mh).Encode(req); err != nil {
		return err
	}

	header := make([]byte, 5)
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(buf.Len()))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return err
	}

	r := bufio.NewReader(conn)
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return codec.NewDecoderBytes(body, &mh).Decode(resp)
}

// FetchRobotSpec implements metadata.RobotSpecFetcher.
func (l *Link) FetchRobotSpec(ctx context.Context, robotID string) (string, error) {
	var resp robotSpecResponse
	if err := roundTrip(ctx, l.DialAddr, kindRobotSpec, robotSpecRequest{RobotID: robotID}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.HomeDir, nil
}

// FetchNodeSpec implements metadata.NodeSpecFetcher.
func (l *Link) FetchNodeSpec(ctx context.Context, nodeID string) (metadata.NodeSpec, error) {
	var resp nodeSpecResponse
	if err := roundTrip(ctx, l.DialAddr, kindNodeSpec, nodeSpecRequest{NodeID: nodeID}, &resp); err != nil {
		return metadata.NodeSpec{}, err
	}
	if resp.Error != "" {
		return metadata.NodeSpec{}, errors.New(resp.Error)
	}

	params := make([]node.ParameterSpec, len(resp.Parameters))
	for i, p := range resp.Parameters {
		kind, err := node.ParseKind(p.Kind)
		if err != nil {
			return metadata.NodeSpec{}, err
		}
		params[i] = node.ParameterSpec{Name: p.Name, Kind: kind, Optional: p.Optional, Default: p.Default}
	}
	return metadata.NodeSpec{Package: resp.Package, Executable: resp.Executable, Parameters: params}, nil
}
