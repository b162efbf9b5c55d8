package dispatch

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/wire"
)

// Processor handles one inbound envelope from conn. It is registered
// per message Type; the dispatcher looks the processor up by the
// envelope's Type and delivers.
type Processor func(conn *Conn, env wire.Envelope) error

// Dispatcher registers typed processors and delivers inbound messages
// by type. One Dispatcher is shared across every peer connection a
// satellite holds; each connection is served by its own read loop
// (see Serve) feeding into the same registry.
type Dispatcher struct {
	mu         sync.RWMutex
	processors map[wire.Type]Processor
	log        hclog.Logger
}

// New builds an empty Dispatcher.
func New(log hclog.Logger) *Dispatcher {
	return &Dispatcher{
		processors: make(map[wire.Type]Processor),
		log:        log.Named("dispatcher"),
	}
}

// Register installs the processor for t, replacing any previous
// registration.
func (d *Dispatcher) Register(t wire.Type, p Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processors[t] = p
}

// Dispatch delivers env to its registered processor. It fails with
// InvalidRequest if no processor is registered for env.Type — an
// unrecognized message type is the sender's fault, not ours.
func (d *Dispatcher) Dispatch(conn *Conn, env wire.Envelope) error {
	d.mu.RLock()
	p, ok := d.processors[env.Type]
	d.mu.RUnlock()
	if !ok {
		return errs.New(errs.InvalidRequest, "no processor registered for message type "+env.Type.String())
	}
	return p(conn, env)
}

// Serve runs conn's read loop until it errors or closes, dispatching
// each envelope in turn. It returns the error that ended the loop
// (io.EOF on a clean close).
func (d *Dispatcher) Serve(conn *Conn) error {
	for {
		env, err := conn.Recv()
		if err != nil {
			return err
		}
		if err := d.Dispatch(conn, env); err != nil {
			d.log.Warn("dispatch failed", "type", env.Type.String(), "error", err)
		}
	}
}

// ServeRestricted is Serve with a filter on message types: envelopes
// whose type is not in allowed are logged and dropped. The satellite
// manager uses it to limit peer-mesh links to ROUTE_INFO and ROS_MSG
// and container links to ROS_MSG.
func (d *Dispatcher) ServeRestricted(conn *Conn, allowed ...wire.Type) error {
	allowedSet := make(map[wire.Type]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}
	for {
		env, err := conn.Recv()
		if err != nil {
			return err
		}
		if !allowedSet[env.Type] {
			d.log.Warn("rejected message type on restricted connection", "type", env.Type.String())
			continue
		}
		if err := d.Dispatch(conn, env); err != nil {
			d.log.Warn("dispatch failed", "type", env.Type.String(), "error", err)
		}
	}
}
