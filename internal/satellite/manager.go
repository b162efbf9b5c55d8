// Package satellite implements the Satellite manager (§4.5): the
// top-level orchestrator mediating every robot-initiated operation,
// owning the ContainerRecord map, the peer mesh, and the routing
// view.
//
// This is a near line-for-line generalization of
// SatelliteUtil/Manager.py's responsibilities, reworked per
// SPEC_FULL.md's supplemented features: destroyContainer no longer
// removes the map entry before the stop has actually completed (the
// original race), the pending-address queue resolves FIFO (see
// internal/master), and shutdown drives every record through the
// event loop instead of mixing a synchronous wait with async
// callbacks.
package satellite

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/roboswarm/satellite/internal/addrfmt"
	"github.com/roboswarm/satellite/internal/container"
	"github.com/roboswarm/satellite/internal/dispatch"
	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/master"
	"github.com/roboswarm/satellite/internal/metadata"
	"github.com/roboswarm/satellite/internal/node"
	"github.com/roboswarm/satellite/internal/wire"
)

// Dialer opens an outbound connection to a peer satellite reachable at
// ip. Separated out so tests can substitute an in-memory transport.
type Dialer func(ctx context.Context, ip string) (*dispatch.Conn, error)

// Manager is the top-level orchestrator. One Manager exists per
// satellite process.
type Manager struct {
	log      hclog.Logger
	scheme   addrfmt.Scheme
	selfAddr string

	adapter  *container.Adapter
	master   *master.Client
	metadata *metadata.Client
	dispatch *dispatch.Dispatcher
	dial     Dialer

	mu             sync.Mutex
	containers     map[string]*container.Record
	containerConns map[string]*dispatch.Conn
	peers          map[string]*dispatch.Conn
	// remoteRoutes maps a container address owned by some other
	// satellite to the peer link that last announced it in a
	// ROUTE_INFO message — the routing table §2 calls out as turning
	// satellite-level addresses into outbound links.
	remoteRoutes map[string]*dispatch.Conn
}

// Config bundles everything NewManager needs that isn't itself a
// collaborator object.
type Config struct {
	Scheme   addrfmt.Scheme
	SelfAddr string
}

// NewManager builds a Manager and registers its processors on
// dispatcher.
func NewManager(cfg Config, adapter *container.Adapter, masterClient *master.Client, metadataClient *metadata.Client, dispatcher *dispatch.Dispatcher, dial Dialer, log hclog.Logger) *Manager {
	m := &Manager{
		log:            log.Named("satellite-manager"),
		scheme:         cfg.Scheme,
		selfAddr:       cfg.SelfAddr,
		adapter:        adapter,
		master:         masterClient,
		metadata:       metadataClient,
		dispatch:       dispatcher,
		dial:           dial,
		containers:     make(map[string]*container.Record),
		containerConns: make(map[string]*dispatch.Conn),
		peers:          make(map[string]*dispatch.Conn),
		remoteRoutes:   make(map[string]*dispatch.Conn),
	}

	dispatcher.Register(wire.IDResponse, m.onIDResponse)
	dispatcher.Register(wire.ConnectDirective, m.onConnectDirective)
	dispatcher.Register(wire.RouteInfo, m.onRouteInfo)
	dispatcher.Register(wire.ROSMsg, m.onROSMsg)

	return m
}

func (m *Manager) onIDResponse(conn *dispatch.Conn, env wire.Envelope) error {
	var payload wire.IDResponsePayload
	if err := wire.Unmarshal(env.Body, &payload); err != nil {
		return errs.Wrap(errs.InvalidRequest, "decode ID_RESPONSE", err)
	}
	return m.master.OnIDResponse(payload.Address)
}

func (m *Manager) onConnectDirective(conn *dispatch.Conn, env wire.Envelope) error {
	var payload wire.ConnectDirectivePayload
	if err := wire.Unmarshal(env.Body, &payload); err != nil {
		return errs.Wrap(errs.InvalidRequest, "decode CONNECT_DIRECTIVE", err)
	}
	m.ConnectToSatellites(context.Background(), payload.Peers)
	return nil
}

// onRouteInfo records which peer link reaches which remote container
// addresses, building the routing table that turns satellite-level
// addresses into outbound links (§2). This satellite's own
// RoutingView (§3) is unaffected — it always reflects only its own
// containers.
func (m *Manager) onRouteInfo(conn *dispatch.Conn, env wire.Envelope) error {
	var payload wire.RouteInfoPayload
	if err := wire.Unmarshal(env.Body, &payload); err != nil {
		return errs.Wrap(errs.InvalidRequest, "decode ROUTE_INFO", err)
	}
	m.mu.Lock()
	for _, addr := range payload.Addresses {
		m.remoteRoutes[addr] = conn
	}
	m.mu.Unlock()
	return nil
}

// onROSMsg forwards an inbound ROS_MSG envelope to its destination: a
// locally hosted container, or — if the address is owned by a peer per
// the routing table built from ROUTE_INFO — back out across that
// peer's link. A destination that resolves to neither is dropped with
// a log line; there is no dead-letter queue at this layer.
func (m *Manager) onROSMsg(conn *dispatch.Conn, env wire.Envelope) error {
	m.mu.Lock()
	target, isLocal := m.containerConns[env.Address]
	record, hasRecord := m.containers[env.Address]
	route, isRemote := m.remoteRoutes[env.Address]
	m.mu.Unlock()

	if isLocal {
		if hasRecord {
			if err := record.RequireReadyForSend(); err != nil {
				return err
			}
		}
		return target.Send(env)
	}
	if isRemote {
		return route.Send(env)
	}
	m.log.Warn("ROS_MSG with no known destination", "address", env.Address)
	return errs.New(errs.InvalidRequest, "no route to "+env.Address)
}

// CreateContainer runs the robot-home and new-address lookups in
// parallel-by-construction (both futures are already in flight before
// either is waited on), validates the results, and on success drives a
// new ContainerRecord through Allocating -> Starting.
func (m *Manager) CreateContainer(ctx context.Context, robotID string) error {
	homeFut := m.metadata.GetRobotSpecs(robotID)
	addrFut := m.master.RequestNewAddress()

	homeDir, homeErr := homeFut.Wait(ctx)
	address, addrErr := addrFut.Wait(ctx)

	if homeErr != nil || addrErr != nil {
		if addrErr == nil {
			m.master.ReleaseAddress(address)
		}
		if homeErr != nil {
			m.log.Error("createContainer: robot spec lookup failed", "robot", robotID, "error", homeErr)
			return homeErr
		}
		m.log.Error("createContainer: address request failed", "robot", robotID, "error", addrErr)
		return addrErr
	}

	if !m.scheme.Validate(address) {
		m.master.ReleaseAddress(address)
		return errs.New(errs.InvalidRequest, "master returned an invalid address: "+address)
	}

	m.mu.Lock()
	if _, exists := m.containers[address]; exists {
		m.mu.Unlock()
		m.master.ReleaseAddress(address)
		return errs.New(errs.InvalidRequest, "address already in use: "+address)
	}
	m.mu.Unlock()

	info, err := os.Stat(homeDir)
	if err != nil || !info.IsDir() {
		m.master.ReleaseAddress(address)
		return errs.New(errs.InvalidRequest, "homeDir is not an existing directory: "+homeDir)
	}

	record := container.NewRecord(address, robotID, homeDir, func() { m.announceRouting() })
	m.mu.Lock()
	m.containers[address] = record
	m.mu.Unlock()
	m.announceRouting()

	if err := record.MarkStarting(); err != nil {
		return errs.Wrap(errs.Internal, "unexpected state on fresh record", err)
	}

	resultCh, err := m.adapter.Start(ctx, address, homeDir)
	if err != nil {
		m.mu.Lock()
		delete(m.containers, address)
		m.mu.Unlock()
		m.master.ReleaseAddress(address)
		m.announceRouting()
		m.log.Error("createContainer: start failed", "address", address, "error", err)
		return err
	}

	go func() {
		<-resultCh
		if err := record.MarkWaitingHandshake(); err != nil {
			m.log.Error("createContainer: failed to reach WaitingHandshake", "address", address, "error", err)
		}
	}()

	return nil
}

// AuthenticateContainerConnection returns true iff there is a
// ContainerRecord with address in WaitingHandshake.
func (m *Manager) AuthenticateContainerConnection(address string) bool {
	m.mu.Lock()
	record, ok := m.containers[address]
	m.mu.Unlock()
	return ok && record.State() == container.WaitingHandshake
}

// SetConnectedFlagContainer updates a record's connected flag and
// drives WaitingHandshake -> Ready on flag=true.
func (m *Manager) SetConnectedFlagContainer(address string, flag bool) error {
	m.mu.Lock()
	record, ok := m.containers[address]
	m.mu.Unlock()

	if !ok {
		if flag {
			return errs.New(errs.InvalidRequest, "no container with address "+address)
		}
		return nil
	}
	return record.SetConnected(flag)
}

// DestroyContainer resolves the record (owner-checked), drives it
// through Stopping, and blocks until the runtime adapter's stop and
// cleanup have completed before removing it from the map — matching
// the Cleanup invariant that <confDir>/<address> and the map entry
// are both gone by the time this call returns.
func (m *Manager) DestroyContainer(ctx context.Context, robotID, containerID string) error {
	m.mu.Lock()
	record, ok := m.containers[containerID]
	m.mu.Unlock()
	if !ok || !record.CheckOwner(robotID) {
		return errs.New(errs.InvalidRequest, "no container "+containerID+" owned by "+robotID)
	}

	record.MarkStopping()
	done := m.adapter.Stop(ctx, containerID)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := record.MarkStopped(); err != nil {
		m.log.Error("destroyContainer: unexpected transition failure", "address", containerID, "error", err)
	}
	record.Invalidate()

	m.mu.Lock()
	delete(m.containers, containerID)
	m.mu.Unlock()

	m.master.ReleaseAddress(containerID)
	m.announceRouting()
	return nil
}

// AddNode fetches the node definition, type-checks the caller-supplied
// config against its ParameterSpec list, and forwards the resolved
// node description to the record.
func (m *Manager) AddNode(ctx context.Context, robotID, containerID, nodeID string, rawConfig map[string]string) error {
	record, err := m.resolveOwned(robotID, containerID)
	if err != nil {
		return err
	}

	spec, err := m.metadata.GetNodeSpecs(nodeID).Wait(ctx)
	if err != nil {
		return err
	}

	resolved, err := node.Resolve(spec.Parameters, rawConfig)
	if err != nil {
		return err
	}

	return record.AddNode(nodeID, wire.ROSAddPayload{
		NodeID:     nodeID,
		Package:    spec.Package,
		Executable: spec.Executable,
		Parameters: resolved,
	})
}

// RemoveNode requests removal of nodeID from an owned, Ready record.
func (m *Manager) RemoveNode(robotID, containerID, nodeID string) error {
	record, err := m.resolveOwned(robotID, containerID)
	if err != nil {
		return err
	}
	return record.RemoveNode(nodeID)
}

// PeerSender delivers an outbound ROS_MSG over one connection (a peer
// satellite link, a container link, or a robot's link). Kept as a
// narrow interface so the manager does not need to know how a given
// connection was established.
type PeerSender interface {
	Send(env wire.Envelope) error
}

// SendROSMsgToContainer forwards an owner-checked payload to the
// container identified by containerID over conn (the dispatcher
// connection authenticated for that container).
func (m *Manager) SendROSMsgToContainer(robotID, containerID, iface string, payload []byte, conn PeerSender) error {
	record, err := m.resolveOwned(robotID, containerID)
	if err != nil {
		return err
	}
	if err := record.RequireReadyForSend(); err != nil {
		return err
	}
	body, err := wire.Marshal(wire.ROSMsgPayload{Interface: iface, Payload: payload})
	if err != nil {
		return errs.Wrap(errs.Internal, "encode ROS_MSG", err)
	}
	return conn.Send(wire.Envelope{Type: wire.ROSMsg, Address: containerID, Body: body})
}

// SendROSMsgToRobot forwards an owner-checked payload from a container
// back to the owning robot over conn.
func (m *Manager) SendROSMsgToRobot(robotID, containerID, iface string, payload []byte, conn PeerSender) error {
	record, err := m.resolveOwned(robotID, containerID)
	if err != nil {
		return err
	}
	if err := record.RequireReadyForSend(); err != nil {
		return err
	}
	body, err := wire.Marshal(wire.ROSMsgPayload{Interface: iface, Payload: payload})
	if err != nil {
		return errs.Wrap(errs.Internal, "encode ROS_MSG", err)
	}
	return conn.Send(wire.Envelope{Type: wire.ROSMsg, Address: robotID, Body: body})
}

func (m *Manager) resolveOwned(robotID, containerID string) (*container.Record, error) {
	m.mu.Lock()
	record, ok := m.containers[containerID]
	m.mu.Unlock()
	if !ok || !record.CheckOwner(robotID) {
		return nil, errs.New(errs.InvalidRequest, "no container "+containerID+" owned by "+robotID)
	}
	return record, nil
}

// ConnectToSatellites opens an outbound connection to every peer not
// already connected, matching §4.5's peer-mesh contract: inbound
// messages on these links are restricted to ROUTE_INFO and ROS_MSG,
// and the routing trigger fires once the link is up.
func (m *Manager) ConnectToSatellites(ctx context.Context, peers []wire.Peer) {
	for _, p := range peers {
		m.mu.Lock()
		_, already := m.peers[p.Address]
		m.mu.Unlock()
		if already {
			continue
		}
		go m.connectOne(ctx, p)
	}
}

func (m *Manager) connectOne(ctx context.Context, p wire.Peer) {
	conn, err := m.dial(ctx, p.IP)
	if err != nil {
		m.log.Error("failed to connect to peer satellite", "peer", p.Address, "ip", p.IP, "error", err)
		return
	}

	m.mu.Lock()
	m.peers[p.Address] = conn
	m.mu.Unlock()

	go func() {
		if err := m.dispatch.ServeRestricted(conn, wire.RouteInfo, wire.ROSMsg); err != nil {
			m.log.Warn("peer connection closed", "peer", p.Address, "error", err)
			m.mu.Lock()
			delete(m.peers, p.Address)
			m.mu.Unlock()
			m.pruneRoutesFor(conn)
		}
	}()

	m.sendRoutingTo(conn)
}

// HandleInboundConnection is driven by the process entry point's
// accept loop for every connection arriving on PORT_SATELLITE_SATELLITE.
// The first envelope received determines what the connection is: if
// its address authenticates as a container in WaitingHandshake, this
// is the inner framework completing its handshake (§4.3), and the
// link is restricted to ROS_MSG for the rest of its life; otherwise it
// is treated as another satellite's mesh link, restricted to
// ROUTE_INFO/ROS_MSG exactly like an outbound CONNECT_DIRECTIVE link.
func (m *Manager) HandleInboundConnection(ctx context.Context, conn *dispatch.Conn) {
	env, err := conn.Recv()
	if err != nil {
		conn.Close()
		return
	}

	if m.AuthenticateContainerConnection(env.Address) {
		m.serveContainerConnection(conn, env)
		return
	}

	m.mu.Lock()
	m.peers[env.Address] = conn
	m.mu.Unlock()
	m.sendRoutingTo(conn)

	if err := m.dispatch.Dispatch(conn, env); err != nil {
		m.log.Warn("dispatch failed", "type", env.Type.String(), "error", err)
	}
	if err := m.dispatch.ServeRestricted(conn, wire.RouteInfo, wire.ROSMsg); err != nil {
		m.log.Warn("peer connection closed", "peer", env.Address, "error", err)
	}
	m.mu.Lock()
	delete(m.peers, env.Address)
	m.mu.Unlock()
	m.pruneRoutesFor(conn)
}

func (m *Manager) serveContainerConnection(conn *dispatch.Conn, first wire.Envelope) {
	address := first.Address
	if err := m.SetConnectedFlagContainer(address, true); err != nil {
		m.log.Error("failed to mark container connected", "address", address, "error", err)
		conn.Close()
		return
	}

	m.mu.Lock()
	m.containerConns[address] = conn
	m.mu.Unlock()

	if err := m.dispatch.Dispatch(conn, first); err != nil {
		m.log.Warn("dispatch failed", "type", first.Type.String(), "error", err)
	}
	if err := m.dispatch.ServeRestricted(conn, wire.ROSMsg); err != nil {
		m.log.Warn("container connection closed", "address", address, "error", err)
	}

	m.mu.Lock()
	delete(m.containerConns, address)
	m.mu.Unlock()
	if err := m.SetConnectedFlagContainer(address, false); err != nil {
		m.log.Error("failed to clear connected flag on disconnect", "address", address, "error", err)
	}
}

// pruneRoutesFor removes every remote-routing entry that pointed at
// conn, called once a peer link has gone down so a stale route is
// never chosen over a future, correct one.
func (m *Manager) pruneRoutesFor(conn *dispatch.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, c := range m.remoteRoutes {
		if c == conn {
			delete(m.remoteRoutes, addr)
		}
	}
}

func (m *Manager) sendRoutingTo(conn *dispatch.Conn) {
	body, err := wire.Marshal(wire.RouteInfoPayload{Addresses: m.GetSatelliteRouting()})
	if err != nil {
		m.log.Error("failed to encode ROUTE_INFO", "error", err)
		return
	}
	if err := conn.Send(wire.Envelope{Type: wire.RouteInfo, Address: m.selfAddr, Body: body}); err != nil {
		m.log.Warn("failed to send ROUTE_INFO", "error", err)
	}
}

// GetSatelliteRouting returns the set of local container addresses
// currently in the map, regardless of connected flag.
func (m *Manager) GetSatelliteRouting() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	addrs := make([]string, 0, len(m.containers))
	for addr := range m.containers {
		addrs = append(addrs, addr)
	}
	return addrs
}

func (m *Manager) announceRouting() {
	m.mu.Lock()
	peers := make([]*dispatch.Conn, 0, len(m.peers))
	for _, c := range m.peers {
		peers = append(peers, c)
	}
	m.mu.Unlock()

	for _, conn := range peers {
		m.sendRoutingTo(conn)
	}
}

// RunHeartbeat periodically re-announces the routing view even when
// it hasn't changed, so a peer whose connection raced the
// event-driven announcement still gets one on the next tick. It
// blocks until ctx is cancelled.
func (m *Manager) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.announceRouting()
		}
	}
}

// Shutdown cancels the metadata and master clients and drives every
// live ContainerRecord through Stopping -> Stopped in parallel,
// blocking until all of them finish. This replaces the predecessor's
// mix of a reactor callback and a synchronous event wait (§9 open
// question (a)): every record is driven through the same goroutine
// pool errgroup.Wait already blocks this call on, nothing else is
// waited on separately.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.master.Shutdown(ctx)
	m.metadata.Shutdown()

	m.mu.Lock()
	records := make([]*container.Record, 0, len(m.containers))
	for _, r := range m.containers {
		records = append(records, r)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range records {
		r := r
		g.Go(func() error {
			r.MarkStopping()
			done := m.adapter.Stop(gctx, r.Address)
			select {
			case <-done:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := r.MarkStopped(); err != nil {
				return err
			}
			r.Invalidate()
			m.mu.Lock()
			delete(m.containers, r.Address)
			m.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
