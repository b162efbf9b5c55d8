// Package container implements the container runtime adapter (§4.2)
// and the ContainerRecord state machine (§4.3): deterministic
// on-disk materialization of a container's config/fstab/upstart
// files, and start/stop via the external lxc-start/lxc-stop
// commands.
//
// Each config file is rendered from a fixed text/template and
// exercised through golden-string tests; start/stop is a plain
// exec.Command invocation of lxc-start/lxc-stop rather than a D-Bus
// call, since this runtime has no systemd machine1 equivalent to
// drive.
package container

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/roboswarm/satellite/internal/errs"
)

// Adapter materializes container filesystem layouts and drives the
// external container runtime. It is stateless beyond its
// configuration; the directory at ConfDir/<address> is what actually
// tracks whether a container has been started.
type Adapter struct {
	ConfDir     string
	Rootfs      string
	SrcRoot     string
	LXCStartBin string
	LXCStopBin  string
	Bridge      string

	log hclog.Logger
}

// NewAdapter builds an Adapter. bridge and the binary names fall back
// to sensible defaults when empty.
func NewAdapter(confDir, rootfs, srcRoot, lxcStartBin, lxcStopBin, bridge string, log hclog.Logger) *Adapter {
	if lxcStartBin == "" {
		lxcStartBin = "lxc-start"
	}
	if lxcStopBin == "" {
		lxcStopBin = "lxc-stop"
	}
	if bridge == "" {
		bridge = bridgeName
	}
	return &Adapter{
		ConfDir:     confDir,
		Rootfs:      rootfs,
		SrcRoot:     srcRoot,
		LXCStartBin: lxcStartBin,
		LXCStopBin:  lxcStopBin,
		Bridge:      bridge,
		log:         log.Named("container-adapter"),
	}
}

// dir returns the per-container base path ConfDir/<address>.
func (a *Adapter) dir(address string) string {
	return filepath.Join(a.ConfDir, address)
}

// render produces the deterministic byte content of the three
// container-runtime files for (address, homeDir), in config/fstab/
// upstart order. It fails with ConfigError if homeDir, or any of the
// ConfDir, Rootfs and SrcRoot paths that end up in fstab, is not an
// absolute path.
func (a *Adapter) render(address, homeDir string) (cfg, fstab, upstart []byte, err error) {
	if !filepath.IsAbs(homeDir) {
		return nil, nil, nil, errs.New(errs.ConfigError, "homeDir must be an absolute path, got "+homeDir)
	}
	for _, p := range []string{a.ConfDir, a.Rootfs, a.SrcRoot} {
		if !filepath.IsAbs(p) {
			return nil, nil, nil, errs.New(errs.ConfigError, "container path must be absolute, got "+p)
		}
	}
	base := a.dir(address)
	fstabPath := filepath.Join(base, "fstab")
	upstartPath := filepath.Join(base, "upstart")
	entryPoint := filepath.Join(containerFramework, entryPointRelPath)

	var cfgBuf, fstabBuf, upstartBuf bytes.Buffer
	if err := configTmpl.Execute(&cfgBuf, configData{
		UTSName:    utsName,
		TTYCount:   ttyCount,
		PTSCount:   ptsCount,
		Rootfs:     a.Rootfs,
		FstabPath:  fstabPath,
		BridgeName: a.Bridge,
	}); err != nil {
		return nil, nil, nil, errs.Wrap(errs.Internal, "render config template", err)
	}
	if err := fstabTmpl.Execute(&fstabBuf, fstabData{
		Rootfs:     a.Rootfs,
		HomeDir:    homeDir,
		SrcRoot:    a.SrcRoot,
		UpstartSrc: upstartPath,
	}); err != nil {
		return nil, nil, nil, errs.Wrap(errs.Internal, "render fstab template", err)
	}
	if err := upstartTmpl.Execute(&upstartBuf, upstartData{
		User:       containerUser,
		WorkDir:    containerFramework,
		EntryPoint: entryPoint,
		Address:    address,
	}); err != nil {
		return nil, nil, nil, errs.Wrap(errs.Internal, "render upstart template", err)
	}
	return cfgBuf.Bytes(), fstabBuf.Bytes(), upstartBuf.Bytes(), nil
}

// StartResult is delivered to the completion slot Start returns once
// lxc-start's exit status has been observed.
type StartResult struct {
	ExitCode int
}

// Start materializes ConfDir/<address>/{config,fstab,upstart} and
// invokes lxc-start asynchronously. It fails synchronously with
// AlreadyStarted if the directory already exists, or ConfigError if
// any path involved is not absolute. The returned channel receives
// exactly one StartResult once lxc-start's exit status is observed; a
// non-zero exit code is logged here but not returned as an error —
// the caller observes the container as never having connected and may
// choose to stop it.
func (a *Adapter) Start(ctx context.Context, address, homeDir string) (<-chan StartResult, error) {
	base := a.dir(address)
	if _, err := os.Stat(base); err == nil {
		return nil, errs.New(errs.AlreadyStarted, "container directory already exists: "+base)
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.Internal, "stat container directory", err)
	}

	cfg, fstab, upstart, err := a.render(address, homeDir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, errs.Wrap(errs.Internal, "create container directory", err)
	}
	files := map[string][]byte{
		"config":  cfg,
		"fstab":   fstab,
		"upstart": upstart,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(base, name), content, 0o640); err != nil {
			return nil, errs.Wrap(errs.Internal, "write "+name, err)
		}
	}

	configPath := filepath.Join(base, "config")
	cmd := exec.CommandContext(ctx, a.LXCStartBin, "-n", address, "-f", configPath, "-d")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	result := make(chan StartResult, 1)
	if err := cmd.Start(); err != nil {
		a.log.Error("lxc-start failed to launch", "address", address, "error", err)
		result <- StartResult{ExitCode: -1}
		close(result)
		return result, nil
	}

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		if code != 0 {
			a.log.Error("lxc-start exited non-zero", "address", address, "exit_code", code)
		}
		result <- StartResult{ExitCode: code}
		close(result)
	}()

	return result, nil
}

// Stop invokes lxc-stop asynchronously for address and, once it
// completes (regardless of exit code), recursively removes
// ConfDir/<address>. Stopping a never-started address is a no-op: the
// returned channel is closed immediately. Otherwise the returned
// channel is closed once cleanup has finished.
func (a *Adapter) Stop(ctx context.Context, address string) <-chan struct{} {
	done := make(chan struct{})
	base := a.dir(address)

	if _, err := os.Stat(base); os.IsNotExist(err) {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		cmd := exec.CommandContext(ctx, a.LXCStopBin, "-n", address)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Run(); err != nil {
			a.log.Warn("lxc-stop reported an error", "address", address, "error", err)
			if sigErr := signalGroup(cmd, unix.SIGKILL); sigErr != nil && sigErr != unix.ESRCH {
				a.log.Warn("failed to signal lxc-stop process group", "address", address, "error", sigErr)
			}
		}

		if err := os.RemoveAll(base); err != nil {
			a.log.Error("failed to remove container directory", "address", address, "dir", base, "error", err)
		}
	}()

	return done
}

// signalGroup sends sig to the process group of cmd, used when
// lxc-stop reports an error, to kill whatever is left of that
// command's process group. Kept separate from
// Stop's happy path so the unix dependency has one clear call site.
func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, sig)
}
