// Package metadata implements the metadata client (§4.6): asynchronous
// lookup of robot home directories and node specifications against the
// external database. The database itself and its wire format are
// explicitly out of scope (§1); this package only owns request
// serialization/correlation and the async-completion contract.
package metadata

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/future"
	"github.com/roboswarm/satellite/internal/node"
)

// RobotSpecFetcher performs the actual out-of-process lookup of a
// robot's home directory. Implementations own request serialization
// and response correlation against the opaque external database link.
type RobotSpecFetcher func(ctx context.Context, robotID string) (homeDir string, err error)

// NodeSpec is the resolved shape of one node's specification.
type NodeSpec struct {
	Package    string
	Executable string
	Parameters []node.ParameterSpec
}

// NodeSpecFetcher performs the out-of-process lookup of a node's
// package/executable/parameter schema.
type NodeSpecFetcher func(ctx context.Context, nodeID string) (NodeSpec, error)

// Client is the asynchronous façade over the two metadata lookups the
// satellite manager needs.
type Client struct {
	fetchRobot RobotSpecFetcher
	fetchNode  NodeSpecFetcher
	log        hclog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient builds a Client. fetchRobot/fetchNode are the concrete
// implementations that actually talk to the external database.
func NewClient(fetchRobot RobotSpecFetcher, fetchNode NodeSpecFetcher, log hclog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		fetchRobot: fetchRobot,
		fetchNode:  fetchNode,
		log:        log.Named("metadata-client"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// GetRobotSpecs resolves robotID's home directory asynchronously.
func (c *Client) GetRobotSpecs(robotID string) *future.Future[string] {
	f := future.New[string]()
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.Cancel()
			return
		default:
		}
		homeDir, err := c.fetchRobot(ctx, robotID)
		if ctx.Err() != nil {
			f.Cancel()
			return
		}
		if err != nil {
			f.Fail(errs.Wrap(errs.Internal, "getRobotSpecs("+robotID+")", err))
			return
		}
		f.Resolve(homeDir)
	}()
	return f
}

// GetNodeSpecs resolves nodeID's package/executable/parameter schema
// asynchronously.
func (c *Client) GetNodeSpecs(nodeID string) *future.Future[NodeSpec] {
	f := future.New[NodeSpec]()
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.Cancel()
			return
		default:
		}
		spec, err := c.fetchNode(ctx, nodeID)
		if ctx.Err() != nil {
			f.Cancel()
			return
		}
		if err != nil {
			f.Fail(errs.Wrap(errs.Internal, "getNodeSpecs("+nodeID+")", err))
			return
		}
		f.Resolve(spec)
	}()
	return f
}

// Shutdown cancels every in-flight and future lookup with Cancelled,
// matching §5's "outstanding metadata calls fail with Cancelled".
func (c *Client) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
}
