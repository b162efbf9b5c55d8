// Package config loads the satellite daemon's process-wide
// configuration from a YAML file, applies command-line overrides, and
// validates the result once at startup.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/roboswarm/satellite/internal/addrfmt"
	"github.com/roboswarm/satellite/internal/errs"
)

// Config is the single immutable configuration value every long-lived
// component is constructed with. It is built once at process start and
// never mutated afterwards.
type Config struct {
	// ConfDir is the container-config base path: per-container state
	// lives under ConfDir/<address>/.
	ConfDir string `yaml:"conf_dir"`
	// Rootfs is the container root filesystem template path.
	Rootfs string `yaml:"rootfs"`
	// SrcRoot is the framework install tree bind-mounted read-only
	// into every container.
	SrcRoot string `yaml:"src_root"`

	// PortSatelliteSatellite is the TCP port used for peer
	// satellite-to-satellite connections.
	PortSatelliteSatellite int `yaml:"port_satellite_satellite"`

	// SelfAddress is this satellite's own satellite-scoped address
	// (zero suffix) — the "sat_self" of §3's RoutingView. It is
	// statically assigned per satellite, the same way a hostname is,
	// rather than discovered at runtime.
	SelfAddress string `yaml:"self_address"`

	// MasterAddress is the reserved address constant naming the
	// master node.
	MasterAddress string `yaml:"master_address"`
	// MasterPrefix is the reserved prefix legal only for
	// MasterAddress.
	MasterPrefix string `yaml:"master_prefix"`
	// AddressLength is the fixed total Address length L.
	AddressLength int `yaml:"address_length"`
	// AddressPrefixLength is the fixed Address prefix length P.
	AddressPrefixLength int `yaml:"address_prefix_length"`

	// MasterDialAddr is the network address of the master node, used
	// by the master client to establish its link.
	MasterDialAddr string `yaml:"master_dial_addr"`
	// MetadataDialAddr is the network address of the external
	// metadata database.
	MetadataDialAddr string `yaml:"metadata_dial_addr"`

	// LXCStartBin and LXCStopBin name the external container-runtime
	// binaries invoked by the runtime adapter.
	LXCStartBin string `yaml:"lxc_start_bin"`
	LXCStopBin  string `yaml:"lxc_stop_bin"`

	// HeartbeatInterval paces the periodic ROUTE_INFO re-announcement;
	// see SPEC_FULL.md's load-info heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// CLIOverrides are the flags accepted on the satellited command line;
// any non-zero field overrides the corresponding Config field after
// the YAML file is loaded.
type CLIOverrides struct {
	ConfigPath string `short:"c" long:"config" description:"path to the satellite YAML configuration file" required:"true"`
	ConfDir    string `long:"conf-dir" description:"override conf_dir from the config file"`
	Rootfs     string `long:"rootfs" description:"override rootfs from the config file"`
	SrcRoot    string `long:"src-root" description:"override src_root from the config file"`
}

// ParseArgs parses args (typically os.Args[1:]) into CLIOverrides.
func ParseArgs(args []string) (CLIOverrides, error) {
	var o CLIOverrides
	parser := flags.NewParser(&o, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return o, err
	}
	return o, nil
}

// Load reads path as YAML into a Config, applies overrides, and
// validates the result. It returns a ConfigError on any failure.
func Load(path string, overrides CLIOverrides) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.ConfigError, "read config file", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errs.Wrap(errs.ConfigError, "parse config file", err)
	}

	if overrides.ConfDir != "" {
		cfg.ConfDir = overrides.ConfDir
	}
	if overrides.Rootfs != "" {
		cfg.Rootfs = overrides.Rootfs
	}
	if overrides.SrcRoot != "" {
		cfg.SrcRoot = overrides.SrcRoot
	}

	if err := (&cfg).Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that conf_dir, rootfs and src_root are absolute, that
// the port is in range, that the address widths are consistent, that
// master_address has the configured length, and that self_address is a
// valid satellite-scoped address; master_prefix is not checked. It
// fills in defaults for optional fields left unset. Any violation is a
// ConfigError, fatal at startup.
func (c *Config) Validate() error {
	for name, path := range map[string]string{
		"conf_dir": c.ConfDir,
		"rootfs":   c.Rootfs,
		"src_root": c.SrcRoot,
	} {
		if !filepath.IsAbs(path) {
			return errs.New(errs.ConfigError, "config field "+name+" must be an absolute path, got "+path)
		}
	}
	if c.PortSatelliteSatellite <= 0 || c.PortSatelliteSatellite > 65535 {
		return errs.New(errs.ConfigError, "port_satellite_satellite out of range")
	}
	if c.AddressLength <= 0 || c.AddressPrefixLength <= 0 || c.AddressPrefixLength >= c.AddressLength {
		return errs.New(errs.ConfigError, "address_length/address_prefix_length malformed")
	}
	if len(c.MasterAddress) != c.AddressLength {
		return errs.New(errs.ConfigError, "master_address does not match address_length")
	}
	scheme := c.AddressScheme()
	if !scheme.Validate(c.SelfAddress) || !scheme.IsSatelliteScope(c.SelfAddress) {
		return errs.New(errs.ConfigError, "self_address must be a valid satellite-scoped address, got "+c.SelfAddress)
	}
	if c.LXCStartBin == "" {
		c.LXCStartBin = "lxc-start"
	}
	if c.LXCStopBin == "" {
		c.LXCStopBin = "lxc-stop"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return nil
}

// AddressScheme derives the addrfmt.Scheme implied by this Config.
func (c Config) AddressScheme() addrfmt.Scheme {
	return addrfmt.Scheme{
		TotalLength:   c.AddressLength,
		PrefixLength:  c.AddressPrefixLength,
		MasterPrefix:  c.MasterPrefix,
		MasterAddress: c.MasterAddress,
	}
}
