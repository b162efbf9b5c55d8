package satellite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/addrfmt"
	"github.com/roboswarm/satellite/internal/container"
	"github.com/roboswarm/satellite/internal/dispatch"
	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/master"
	"github.com/roboswarm/satellite/internal/metadata"
	"github.com/roboswarm/satellite/internal/wire"
)

func testScheme() addrfmt.Scheme {
	return addrfmt.Scheme{
		TotalLength:   8,
		PrefixLength:  4,
		MasterPrefix:  "MSTR",
		MasterAddress: "MSTR0000",
	}
}

type fakeMasterSender struct {
	sent []wire.Type
}

func (f *fakeMasterSender) SendToMaster(t wire.Type, payload interface{}) error {
	f.sent = append(f.sent, t)
	return nil
}

func newTestManager(t *testing.T, homeDir string) (*Manager, *master.Client) {
	t.Helper()
	log := hclog.NewNullLogger()
	scheme := testScheme()

	adapter := container.NewAdapter(t.TempDir(), "/rootfs-template", "/opt/reappengine-src", "", "", "", log)

	sender := &fakeMasterSender{}
	masterClient := master.NewClient(sender, log)

	metaClient := metadata.NewClient(
		func(ctx context.Context, robotID string) (string, error) { return homeDir, nil },
		func(ctx context.Context, nodeID string) (metadata.NodeSpec, error) {
			return metadata.NodeSpec{Package: "pkg", Executable: "exe"}, nil
		},
		log,
	)

	dispatcher := dispatch.New(log)
	dial := func(ctx context.Context, ip string) (*dispatch.Conn, error) {
		return nil, errs.New(errs.Internal, "dial not used in this test")
	}

	m := NewManager(Config{Scheme: scheme, SelfAddr: "SATL0000"}, adapter, masterClient, metaClient, dispatcher, dial, log)
	return m, masterClient
}

// createContainerSync drives CreateContainer to completion against a
// fake master client: CreateContainer blocks waiting on the address
// future, so the response has to be injected from a second goroutine
// racing against the retry loop below until the pending slot exists.
func createContainerSync(t *testing.T, m *Manager, masterClient *master.Client, robotID, address string) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- m.CreateContainer(context.Background(), robotID) }()

	for {
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Millisecond):
		}
		if err := masterClient.OnIDResponse(address); err == nil {
			return <-done
		}
	}
}

func TestCreateContainerHappyPath(t *testing.T) {
	homeDir := t.TempDir()
	m, masterClient := newTestManager(t, homeDir)

	if err := createContainerSync(t, m, masterClient, "robot-A", "SATL0042"); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	waitForState(t, m, "SATL0042", container.WaitingHandshake)

	if err := m.SetConnectedFlagContainer("SATL0042", true); err != nil {
		t.Fatalf("SetConnectedFlagContainer: %v", err)
	}
	m.mu.Lock()
	state := m.containers["SATL0042"].State()
	m.mu.Unlock()
	if state != container.Ready {
		t.Fatalf("expected Ready, got %v", state)
	}
}

func TestDestroyContainerOwnershipViolation(t *testing.T) {
	homeDir := t.TempDir()
	m, masterClient := newTestManager(t, homeDir)

	if err := createContainerSync(t, m, masterClient, "robot-A", "SATL0044"); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	waitForState(t, m, "SATL0044", container.WaitingHandshake)
	if err := m.SetConnectedFlagContainer("SATL0044", true); err != nil {
		t.Fatalf("SetConnectedFlagContainer: %v", err)
	}

	if err := m.DestroyContainer(context.Background(), "robot-B", "SATL0044"); !errs.Is(err, errs.InvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}

	m.mu.Lock()
	state := m.containers["SATL0044"].State()
	m.mu.Unlock()
	if state != container.Ready {
		t.Fatalf("record should remain Ready after rejected destroy, got %v", state)
	}
}

func TestCreateContainerRejectsMissingHomeDir(t *testing.T) {
	m, masterClient := newTestManager(t, "/does/not/exist")

	err := createContainerSync(t, m, masterClient, "robot-A", "SATL0045")
	if !errs.Is(err, errs.InvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}

	m.mu.Lock()
	_, exists := m.containers["SATL0045"]
	m.mu.Unlock()
	if exists {
		t.Fatal("no record should have been inserted for a missing homeDir")
	}
}

func TestShutdownDrivesAllRecordsToStopped(t *testing.T) {
	homeDir := t.TempDir()
	m, masterClient := newTestManager(t, homeDir)

	for _, addr := range []string{"SATL0046", "SATL0047"} {
		if err := createContainerSync(t, m, masterClient, "robot-A", addr); err != nil {
			t.Fatalf("CreateContainer: %v", err)
		}
		waitForState(t, m, addr, container.WaitingHandshake)
		if err := m.SetConnectedFlagContainer(addr, true); err != nil {
			t.Fatalf("SetConnectedFlagContainer: %v", err)
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	m.mu.Lock()
	remaining := len(m.containers)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected all records removed after shutdown, %d remain", remaining)
	}
}

func TestGetSatelliteRoutingReflectsContainerMap(t *testing.T) {
	homeDir := t.TempDir()
	m, masterClient := newTestManager(t, homeDir)

	if err := createContainerSync(t, m, masterClient, "robot-A", "SATL0048"); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	waitForState(t, m, "SATL0048", container.WaitingHandshake)

	routing := m.GetSatelliteRouting()
	if len(routing) != 1 || routing[0] != "SATL0048" {
		t.Fatalf("expected routing view [SATL0048], got %v", routing)
	}
}

func waitForState(t *testing.T, m *Manager, address string, want container.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		m.mu.Lock()
		record, ok := m.containers[address]
		m.mu.Unlock()
		if ok && record.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("%s never reached state %v", address, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func init() {
	// Guard against accidental reliance on the real filesystem root
	// for container homeDir checks in these tests.
	if _, err := os.Stat("/does/not/exist"); err == nil {
		panic("test assumption violated: /does/not/exist exists")
	}
}
