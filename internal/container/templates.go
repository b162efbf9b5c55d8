package container

import "text/template"

// Fixed constants of the container-runtime contract. These never vary
// per container; only address, homeDir, and the configuration paths
// do.
const (
	utsName      = "ros"
	ttyCount     = 4
	ptsCount     = 1024
	bridgeName   = "reapp0"
	containerUser      = "ros"
	containerHome      = "/home/ros"
	containerFramework = "/opt/reappengine"
	containerInitPath  = "/etc/init/reappengine.conf"
	// entryPointRelPath is the framework entry point, relative to
	// srcRoot, invoked by the generated upstart job.
	entryPointRelPath = "bin/reappengine-entry"
)

// configData is the template input for the container's runtime config
// file.
type configData struct {
	UTSName    string
	TTYCount   int
	PTSCount   int
	Rootfs     string
	FstabPath  string
	BridgeName string
}

const configTemplate = `lxc.utsname = {{.UTSName}}
lxc.tty = {{.TTYCount}}
lxc.pts = {{.PTSCount}}
lxc.rootfs = {{.Rootfs}}
lxc.mount = {{.FstabPath}}

lxc.network.type = veth
lxc.network.link = {{.BridgeName}}
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

var configTmpl = template.Must(template.New("config").Parse(configTemplate))

// fstabData is the template input for the container's bind-mount
// table.
type fstabData struct {
	Rootfs     string
	HomeDir    string
	SrcRoot    string
	UpstartSrc string
}

const fstabTemplate = `proc {{.Rootfs}}/proc proc nodev,noexec,nosuid 0 0
devpts {{.Rootfs}}/dev/pts devpts defaults 0 0
sysfs {{.Rootfs}}/sys sysfs defaults 0 0
{{.HomeDir}} {{.Rootfs}}` + containerHome + ` none bind,rw 0 0
{{.SrcRoot}} {{.Rootfs}}` + containerFramework + ` none bind,ro 0 0
{{.UpstartSrc}} {{.Rootfs}}` + containerInitPath + ` none bind,ro 0 0
`

var fstabTmpl = template.Must(template.New("fstab").Parse(fstabTemplate))

// upstartData is the template input for the generated init-script.
type upstartData struct {
	User       string
	WorkDir    string
	EntryPoint string
	Address    string
}

const upstartTemplate = `description "reappengine container entry point"

start on startup
stop on shutdown

respawn
kill timeout 5

script
  . /etc/environment
  exec start-stop-daemon --start -c {{.User}}:{{.User}} -d {{.WorkDir}} --retry 5 --exec {{.EntryPoint}} -- {{.Address}}
end script
`

var upstartTmpl = template.Must(template.New("upstart").Parse(upstartTemplate))
