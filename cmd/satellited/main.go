// Command satellited is the satellite process entry point: load
// Config, construct the Satellite manager and its collaborators,
// install signal handling, and block until shutdown. It does nothing
// else — all the real work lives in the internal packages this just
// wires together.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/hashicorp/go-hclog"

	"github.com/roboswarm/satellite/internal/config"
	"github.com/roboswarm/satellite/internal/container"
	"github.com/roboswarm/satellite/internal/dispatch"
	"github.com/roboswarm/satellite/internal/master"
	"github.com/roboswarm/satellite/internal/masterlink"
	"github.com/roboswarm/satellite/internal/metadata"
	"github.com/roboswarm/satellite/internal/metadatalink"
	"github.com/roboswarm/satellite/internal/satellite"
)

func main() {
	logger := log.New(&log.LoggerOptions{Name: "satellited", Level: log.Info})

	if err := run(logger); err != nil {
		logger.Error("satellited exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	overrides, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	cfg, err := config.Load(overrides.ConfigPath, overrides)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(logger)

	masterConn, err := dialTCP(context.Background(), cfg.MasterDialAddr)
	if err != nil {
		return fmt.Errorf("connect to master at %s: %w", cfg.MasterDialAddr, err)
	}
	masterLink := masterlink.New(masterConn, cfg.SelfAddress)
	masterClient := master.NewClient(masterLink, logger)

	metaLink := &metadatalink.Link{DialAddr: cfg.MetadataDialAddr}
	metadataClient := metadata.NewClient(metaLink.FetchRobotSpec, metaLink.FetchNodeSpec, logger)

	adapter := container.NewAdapter(cfg.ConfDir, cfg.Rootfs, cfg.SrcRoot, cfg.LXCStartBin, cfg.LXCStopBin, "", logger)

	dial := func(ctx context.Context, ip string) (*dispatch.Conn, error) {
		return dialTCP(ctx, fmt.Sprintf("%s:%d", ip, cfg.PortSatelliteSatellite))
	}

	manager := satellite.NewManager(
		satellite.Config{Scheme: cfg.AddressScheme(), SelfAddr: cfg.SelfAddress},
		adapter, masterClient, metadataClient, dispatcher, dial, logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := dispatcher.Serve(masterLink.Conn()); err != nil {
			logger.Warn("master connection closed", "error", err)
			masterClient.OnLinkDown()
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.PortSatelliteSatellite))
	if err != nil {
		return fmt.Errorf("listen on port_satellite_satellite %d: %w", cfg.PortSatelliteSatellite, err)
	}
	go acceptLoop(ctx, listener, manager, logger)

	go manager.RunHeartbeat(ctx, cfg.HeartbeatInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	cancel()
	_ = listener.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return manager.Shutdown(shutdownCtx)
}

// acceptLoop accepts inbound peer-satellite and container connections
// on PORT_SATELLITE_SATELLITE and hands each to the manager, which
// determines what kind of connection it is from the first envelope
// received (§4.5).
func acceptLoop(ctx context.Context, listener net.Listener, manager *satellite.Manager, logger log.Logger) {
	for {
		nc, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Error("accept failed", "error", err)
			return
		}
		go manager.HandleInboundConnection(ctx, dispatch.NewConn(nc))
	}
}

func dialTCP(ctx context.Context, addr string) (*dispatch.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return dispatch.NewConn(nc), nil
}
