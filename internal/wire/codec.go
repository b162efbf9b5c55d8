package wire

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

var mh codec.MsgpackHandle

// Envelope is the type-tagged, address-routed unit the dispatcher
// frames onto the wire: a message Type, the destination/source
// address it concerns (for messages to the master, the sending
// satellite's own address), and the msgpack-encoded payload body.
type Envelope struct {
	Type    Type
	Address string
	Body    []byte
}

// Marshal msgpack-encodes v, which must be one of the *Payload types
// in this package, into a ready-to-frame byte slice.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes body into v, the pointer to one of the *Payload
// types matching the Envelope's Type.
func Unmarshal(body []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(body, &mh)
	return dec.Decode(v)
}
