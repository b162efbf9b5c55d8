package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/node"
)

func TestGetRobotSpecsResolves(t *testing.T) {
	c := NewClient(
		func(ctx context.Context, robotID string) (string, error) {
			return "/home/ros/" + robotID, nil
		},
		func(ctx context.Context, nodeID string) (NodeSpec, error) { return NodeSpec{}, nil },
		hclog.NewNullLogger(),
	)

	f := c.GetRobotSpecs("robot-A")
	homeDir, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if homeDir != "/home/ros/robot-A" {
		t.Fatalf("unexpected homeDir: %s", homeDir)
	}
}

func TestGetNodeSpecsResolves(t *testing.T) {
	want := NodeSpec{Package: "pkg", Executable: "exe", Parameters: []node.ParameterSpec{{Name: "speed", Kind: node.Float, Optional: true, Default: "1.5"}}}
	c := NewClient(
		func(ctx context.Context, robotID string) (string, error) { return "", nil },
		func(ctx context.Context, nodeID string) (NodeSpec, error) { return want, nil },
		hclog.NewNullLogger(),
	)

	f := c.GetNodeSpecs("n1")
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Package != want.Package || got.Executable != want.Executable {
		t.Fatalf("unexpected node spec: %+v", got)
	}
}

func TestShutdownCancelsInFlightLookups(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := NewClient(
		func(ctx context.Context, robotID string) (string, error) {
			close(started)
			select {
			case <-release:
				return "home", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
		func(ctx context.Context, nodeID string) (NodeSpec, error) { return NodeSpec{}, nil },
		hclog.NewNullLogger(),
	)

	f := c.GetRobotSpecs("robot-A")
	<-started
	c.Shutdown()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); !errs.Is(err, errs.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}
