package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roboswarm/satellite/internal/errs"
)

func newTestAdapter() *Adapter {
	return &Adapter{
		ConfDir:     "/var/lib/reappengine/containers",
		Rootfs:      "/var/lib/reappengine/rootfs-template",
		SrcRoot:     "/opt/reappengine-src",
		LXCStartBin: "lxc-start",
		LXCStopBin:  "lxc-stop",
		Bridge:      bridgeName,
		log:         testLogger(),
	}
}

func TestRenderConfigIsDeterministic(t *testing.T) {
	a := newTestAdapter()

	const expectedConfig = `lxc.utsname = ros
lxc.tty = 4
lxc.pts = 1024
lxc.rootfs = /var/lib/reappengine/rootfs-template
lxc.mount = /var/lib/reappengine/containers/SATL0042/fstab

lxc.network.type = veth
lxc.network.link = reapp0
lxc.network.flags = up
lxc.network.ipv4 = 0.0.0.0

lxc.cgroup.devices.deny = a
lxc.cgroup.devices.allow = c 1:3 rwm
lxc.cgroup.devices.allow = c 1:5 rwm
lxc.cgroup.devices.allow = c 5:0 rwm
lxc.cgroup.devices.allow = c 5:1 rwm
lxc.cgroup.devices.allow = c 4:0 rwm
lxc.cgroup.devices.allow = c 4:1 rwm
lxc.cgroup.devices.allow = c 5:2 rwm
lxc.cgroup.devices.allow = c 136:* rwm
lxc.cgroup.devices.allow = c 1:8 rwm
lxc.cgroup.devices.allow = c 1:9 rwm
lxc.cgroup.devices.allow = c 254:0 rwm
`

	cfg, _, _, err := a.render("SATL0042", "/home/ros/robot-A")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(cfg) != expectedConfig {
		t.Fatalf("config mismatch:\ngot:\n%s\nwant:\n%s", cfg, expectedConfig)
	}

	// Same inputs, second render, must byte-match (§8 "Deterministic
	// files").
	cfg2, _, _, err := a.render("SATL0042", "/home/ros/robot-A")
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if string(cfg) != string(cfg2) {
		t.Fatal("render is not deterministic across calls")
	}
}

func TestRenderFstabBindsHomeDirAndSrcRoot(t *testing.T) {
	a := newTestAdapter()
	_, fstab, _, err := a.render("SATL0042", "/home/ros/robot-A")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	const expectedFstab = `proc /var/lib/reappengine/rootfs-template/proc proc nodev,noexec,nosuid 0 0
devpts /var/lib/reappengine/rootfs-template/dev/pts devpts defaults 0 0
sysfs /var/lib/reappengine/rootfs-template/sys sysfs defaults 0 0
/home/ros/robot-A /var/lib/reappengine/rootfs-template/home/ros none bind,rw 0 0
/opt/reappengine-src /var/lib/reappengine/rootfs-template/opt/reappengine none bind,ro 0 0
/var/lib/reappengine/containers/SATL0042/upstart /var/lib/reappengine/rootfs-template/etc/init/reappengine.conf none bind,ro 0 0
`
	if string(fstab) != expectedFstab {
		t.Fatalf("fstab mismatch:\ngot:\n%s\nwant:\n%s", fstab, expectedFstab)
	}
}

func TestRenderUpstartRunsEntryPointAsRos(t *testing.T) {
	a := newTestAdapter()
	_, _, upstart, err := a.render("SATL0042", "/home/ros/robot-A")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	const expectedUpstart = `description "reappengine container entry point"

start on startup
stop on shutdown

respawn
kill timeout 5

script
  . /etc/environment
  exec start-stop-daemon --start -c ros:ros -d /opt/reappengine --retry 5 --exec /opt/reappengine/bin/reappengine-entry -- SATL0042
end script
`
	if string(upstart) != expectedUpstart {
		t.Fatalf("upstart mismatch:\ngot:\n%s\nwant:\n%s", upstart, expectedUpstart)
	}
}

func TestRenderRejectsRelativeHomeDir(t *testing.T) {
	a := newTestAdapter()
	if _, _, _, err := a.render("SATL0042", "relative/path"); err == nil {
		t.Fatal("expected ConfigError for relative homeDir")
	}
}

func TestStartFailsWithAlreadyStartedWhenDirExists(t *testing.T) {
	confDir := t.TempDir()
	a := &Adapter{
		ConfDir: confDir,
		Rootfs:  "/var/lib/reappengine/rootfs-template",
		SrcRoot: "/opt/reappengine-src",
		Bridge:  bridgeName,
		log:     testLogger(),
	}
	if err := os.MkdirAll(filepath.Join(confDir, "SATL0099"), 0o750); err != nil {
		t.Fatalf("pre-populate container dir: %v", err)
	}

	_, err := a.Start(context.Background(), "SATL0099", "/home/ros/robot-A")
	if !errs.Is(err, errs.AlreadyStarted) {
		t.Fatalf("expected AlreadyStarted, got %v", err)
	}
}
