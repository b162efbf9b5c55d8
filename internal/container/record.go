package container

import (
	"sync"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/wire"
)

// State is one state of the ContainerRecord lifecycle (§4.3).
type State int

const (
	Allocating State = iota
	Starting
	WaitingHandshake
	Ready
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Allocating:
		return "Allocating"
	case Starting:
		return "Starting"
	case WaitingHandshake:
		return "WaitingHandshake"
	case Ready:
		return "Ready"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// RoutingTrigger is a non-owning capability the record calls back
// through whenever its connection state changes in a way that should
// re-announce the routing view. It is invalidated (set to a no-op) by
// the owner at teardown, never by the record itself, so the record
// never needs a back-reference to its owning manager.
type RoutingTrigger func()

// Record is the in-memory representation of one running container:
// owner robot, address, connection state, node set, and the callback
// used to re-announce routing when connection state changes. Record
// holds every dependency it needs at construction time (see
// DESIGN.md's note on the original's inconsistent stop() signature),
// so no caller ever threads extra arguments through a teardown call.
type Record struct {
	Address    string
	OwnerRobot string
	HomeDir    string

	mu        sync.Mutex
	state     State
	connected bool
	nodes     map[string]wire.ROSAddPayload
	trigger   RoutingTrigger
}

// NewRecord constructs a Record in the Allocating state. trigger may
// be nil, in which case routing changes are silently dropped (used in
// tests).
func NewRecord(address, ownerRobot, homeDir string, trigger RoutingTrigger) *Record {
	if trigger == nil {
		trigger = func() {}
	}
	return &Record{
		Address:    address,
		OwnerRobot: ownerRobot,
		HomeDir:    homeDir,
		state:      Allocating,
		nodes:      make(map[string]wire.ROSAddPayload),
		trigger:    trigger,
	}
}

// State returns the record's current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CheckOwner reports whether robotID is this record's owner.
func (r *Record) CheckOwner(robotID string) bool {
	return robotID == r.OwnerRobot
}

// MarkStarting transitions Allocating -> Starting.
func (r *Record) MarkStarting() error {
	return r.transition(Allocating, Starting)
}

// MarkWaitingHandshake transitions Starting -> WaitingHandshake.
func (r *Record) MarkWaitingHandshake() error {
	return r.transition(Starting, WaitingHandshake)
}

// SetConnected handles setConnectedFlagContainer's per-record half: if
// flag is true the record must be in WaitingHandshake and transitions
// to Ready, firing the routing trigger; if flag is false the record's
// connected flag is cleared without a state change (teardown drives
// the Stopping/Stopped transition separately).
func (r *Record) SetConnected(flag bool) error {
	r.mu.Lock()
	if !flag {
		r.connected = false
		r.mu.Unlock()
		return nil
	}
	if r.state != WaitingHandshake {
		r.mu.Unlock()
		return errs.New(errs.NotReady, "container "+r.Address+" is not waiting for a handshake")
	}
	r.connected = true
	r.state = Ready
	trigger := r.trigger
	r.mu.Unlock()

	trigger()
	return nil
}

// Connected reports the record's connected flag.
func (r *Record) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// MarkStopping transitions any state to Stopping. It is valid from
// every state, matching "any state -> Stopping on explicit teardown or
// satellite shutdown".
func (r *Record) MarkStopping() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Stopping
}

// MarkStopped transitions Stopping -> Stopped.
func (r *Record) MarkStopped() error {
	return r.transition(Stopping, Stopped)
}

// Invalidate clears the routing trigger, matching the "manager
// invalidates it at teardown" rule in the design notes.
func (r *Record) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trigger = func() {}
}

func (r *Record) transition(from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return errs.New(errs.Internal, "invalid transition for "+r.Address+": expected "+from.String()+", was "+r.state.String())
	}
	r.state = to
	return nil
}

// requireReady is the gate every node/send operation passes through.
func (r *Record) requireReady() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Ready {
		return errs.New(errs.NotReady, "container "+r.Address+" is not Ready (state "+r.state.String()+")")
	}
	return nil
}

// AddNode loads a resolved node description. Valid only in Ready.
func (r *Record) AddNode(nodeID string, desc wire.ROSAddPayload) error {
	if err := r.requireReady(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = desc
	return nil
}

// RemoveNode unloads a node. Valid only in Ready.
func (r *Record) RemoveNode(nodeID string) error {
	if err := r.requireReady(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeID)
	return nil
}

// Nodes returns the set of currently loaded node IDs.
func (r *Record) Nodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	return ids
}

// RequireReadyForSend is the gate sendROSMsgToContainer/ToRobot pass
// through (§4.3: "send" is valid only in Ready).
func (r *Record) RequireReadyForSend() error {
	return r.requireReady()
}
