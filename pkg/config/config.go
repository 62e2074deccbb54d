package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/virtmds/mdserver/pkg/render"
)

// Config is the full mdserver configuration. Defaults work for basic test
// setups but a real deployment overrides at least the network section.
type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Dnsmasq      DnsmasqConfig     `yaml:"dnsmasq"`
	Logging      LoggingConfig     `yaml:"logging"`
	PublicKeys   map[string]string `yaml:"public_keys"`
	TemplateData map[string]string `yaml:"template_data"`
}

// ServerConfig configures the metadata HTTP server and the database location.
type ServerConfig struct {
	ListenAddress   string   `yaml:"listen_address"`
	Port            int      `yaml:"port"`
	UserdataDir     string   `yaml:"userdata_dir"`
	DefaultTemplate string   `yaml:"default_template"`
	DBFile          string   `yaml:"db_file"`
	Password        string   `yaml:"password"`
	HostnamePrefix  string   `yaml:"hostname_prefix"`
	EC2Versions     []string `yaml:"ec2_versions"`
}

// DnsmasqConfig configures the subnet the allocator hands addresses from and
// the dnsmasq file tree the coordinator owns.
type DnsmasqConfig struct {
	User          string   `yaml:"user"`
	BaseDir       string   `yaml:"base_dir"`
	RunDir        string   `yaml:"run_dir"`
	NetName       string   `yaml:"net_name"`
	NetAddress    string   `yaml:"net_address"`
	NetPrefix     int      `yaml:"net_prefix"`
	Gateway       string   `yaml:"gateway"`
	Interface     string   `yaml:"interface"`
	ListenAddress string   `yaml:"listen_address"`
	LeaseLen      int      `yaml:"lease_len"`
	UseDNS        bool     `yaml:"use_dns"`
	Prefix        string   `yaml:"prefix"`
	Domain        string   `yaml:"domain"`
	EntryOrder    []string `yaml:"entry_order"`
}

// LoggingConfig configures the zerolog bootstrap.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// Default returns the hard-coded configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "169.254.169.254",
			Port:           80,
			UserdataDir:    "/etc/mdserver/userdata",
			DBFile:         "/var/lib/mdserver/db_file.json",
			HostnamePrefix: "vm",
			EC2Versions:    []string{"2009-04-04"},
		},
		Dnsmasq: DnsmasqConfig{
			User:       "mdserver",
			BaseDir:    "/var/lib/mdserver/dnsmasq",
			RunDir:     "/var/run/mdserver",
			NetName:    "mds",
			NetAddress: "10.122.0.0",
			NetPrefix:  16,
			Gateway:    "10.122.0.1",
			Interface:  "br-mds",
			LeaseLen:   86400,
			EntryOrder: []string{"base"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		PublicKeys:   map[string]string{},
		TemplateData: map[string]string{},
	}
}

// Load reads the YAML config file at path over the defaults and validates the
// result. An empty path returns validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if net.ParseIP(c.Server.ListenAddress) == nil {
		return fmt.Errorf("invalid server listen_address %q", c.Server.ListenAddress)
	}
	if c.Server.DBFile == "" {
		return fmt.Errorf("db_file must be set")
	}
	if c.Dnsmasq.BaseDir == "" || c.Dnsmasq.RunDir == "" {
		return fmt.Errorf("dnsmasq base_dir and run_dir must be set")
	}
	if c.Dnsmasq.NetName == "" {
		return fmt.Errorf("dnsmasq net_name must be set")
	}
	if c.Dnsmasq.LeaseLen < 1 {
		return fmt.Errorf("invalid dnsmasq lease_len %d", c.Dnsmasq.LeaseLen)
	}
	_, network, err := net.ParseCIDR(fmt.Sprintf("%s/%d", c.Dnsmasq.NetAddress, c.Dnsmasq.NetPrefix))
	if err != nil {
		return fmt.Errorf("invalid dnsmasq network %s/%d: %w", c.Dnsmasq.NetAddress, c.Dnsmasq.NetPrefix, err)
	}
	gw := net.ParseIP(c.Dnsmasq.Gateway)
	if gw == nil {
		return fmt.Errorf("invalid dnsmasq gateway %q", c.Dnsmasq.Gateway)
	}
	if !network.Contains(gw) {
		return fmt.Errorf("gateway %s is outside network %s", gw, network)
	}
	if c.Dnsmasq.ListenAddress != "" && net.ParseIP(c.Dnsmasq.ListenAddress) == nil {
		return fmt.Errorf("invalid dnsmasq listen_address %q", c.Dnsmasq.ListenAddress)
	}
	if _, err := render.ParseOrder(c.Dnsmasq.EntryOrder); err != nil {
		return fmt.Errorf("invalid dnsmasq entry_order: %w", err)
	}
	return nil
}

// NamePolicy builds the render policy from the dnsmasq section. Validate must
// have succeeded first.
func (c *Config) NamePolicy() render.Policy {
	order, _ := render.ParseOrder(c.Dnsmasq.EntryOrder)
	return render.Policy{
		Prefix: c.Dnsmasq.Prefix,
		Domain: c.Dnsmasq.Domain,
		Order:  order,
	}
}
