package dnsmasq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/virtmds/mdserver/pkg/render"
	"github.com/virtmds/mdserver/pkg/types"
)

// Config describes the dnsmasq instance the coordinator manages.
type Config struct {
	User          string
	BaseDir       string
	RunDir        string
	NetName       string
	Interface     string
	ListenAddress string // dnsmasq listen address, optional
	Gateway       string
	LeaseLen      int
	Domain        string
	UseDNS        bool
	// MdsAddress is the metadata server's own address, routed to VMs via a
	// classless static route in the DHCP options.
	MdsAddress string
}

// State of the current configuration generation.
type State string

const (
	// StatePending: rendered, nothing on disk yet.
	StatePending State = "pending"
	// StatePublished: host files on disk, config does not reference them yet.
	StatePublished State = "published"
	// StateCommitted: config references the host files.
	StateCommitted State = "committed"
	// StateNotified: reload signal delivered to the resolver.
	StateNotified State = "notified"
	// StateDeferred: resolver pid not discoverable; the signal is retried on
	// the next cycle.
	StateDeferred State = "deferred"
)

// Coordinator owns the dnsmasq configuration directory and decides when the
// resolver is told to reload. It is driven from the registry's serialized
// write path and is not safe for concurrent use on its own.
type Coordinator struct {
	cfg      Config
	resolver Resolver
	logger   zerolog.Logger

	generation uint64
	state      State
	last       *render.Files
}

// New creates a coordinator. A nil resolver defaults to pidfile discovery in
// the configured run directory.
func New(cfg Config, resolver Resolver, logger zerolog.Logger) *Coordinator {
	if resolver == nil {
		resolver = &PidfileResolver{Path: filepath.Join(cfg.RunDir, cfg.NetName+".pid")}
	}
	return &Coordinator{cfg: cfg, resolver: resolver, logger: logger, state: StatePending}
}

// Paths into the managed file tree.

func (c *Coordinator) DHCPHostsPath() string {
	return filepath.Join(c.cfg.BaseDir, "dhcp", c.cfg.NetName+".dhcp-hosts")
}

func (c *Coordinator) DNSHostsPath() string {
	return filepath.Join(c.cfg.BaseDir, "dns", c.cfg.NetName+".dns-hosts")
}

func (c *Coordinator) ConfPath() string {
	return filepath.Join(c.cfg.BaseDir, c.cfg.NetName+".conf")
}

func (c *Coordinator) OptsPath() string {
	return filepath.Join(c.cfg.BaseDir, c.cfg.NetName+".opts")
}

// State returns the state of the current generation.
func (c *Coordinator) State() State {
	return c.state
}

// Generation returns the current generation counter.
func (c *Coordinator) Generation() uint64 {
	return c.generation
}

// EnsureLayout creates the directory tree dnsmasq reads from.
func (c *Coordinator) EnsureLayout() error {
	for _, dir := range []string{
		c.cfg.BaseDir,
		filepath.Join(c.cfg.BaseDir, "dhcp"),
		filepath.Join(c.cfg.BaseDir, "dns"),
		c.cfg.RunDir,
	} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Apply moves one rendered generation through the publish pipeline:
//
//	publish host files -> commit config reference -> notify resolver
//
// Host files are written first, each via temp file and atomic rename; only
// once both are in place is the top-level config written. The config file's
// existence is the readiness signal an external supervisor watches before
// starting dnsmasq, so the resolver can never start against a half-written
// host-file set.
//
// When the rendered content is identical to the last committed generation
// the file writes are skipped, but a previously deferred reload signal is
// still retried.
func (c *Coordinator) Apply(files render.Files) error {
	changed := c.last == nil || *c.last != files
	if !changed && c.state == StateNotified {
		c.logger.Debug().Uint64("generation", c.generation).Msg("configuration unchanged")
		return nil
	}

	if changed {
		c.generation++
		c.state = StatePending
		if err := c.publish(files); err != nil {
			return err
		}
		c.state = StatePublished
		if err := c.commit(); err != nil {
			return err
		}
		c.state = StateCommitted
		last := files
		c.last = &last
	}

	c.notify()
	return nil
}

// publish writes the rendered host files into place.
func (c *Coordinator) publish(files render.Files) error {
	if err := c.writeAtomic(c.DHCPHostsPath(), files.DHCPHosts); err != nil {
		return fmt.Errorf("%w: dhcp hosts: %v", types.ErrPublish, err)
	}
	if err := c.writeAtomic(c.DNSHostsPath(), files.DNSHosts); err != nil {
		return fmt.Errorf("%w: dns hosts: %v", types.ErrPublish, err)
	}
	c.logger.Debug().Uint64("generation", c.generation).Msg("host files published")
	return nil
}

// commit writes the dnsmasq config and DHCP options files referencing the
// published host files.
func (c *Coordinator) commit() error {
	if err := c.writeAtomic(c.OptsPath(), c.buildOpts()); err != nil {
		return fmt.Errorf("%w: options file: %v", types.ErrPublish, err)
	}
	if err := c.writeAtomic(c.ConfPath(), c.buildConf()); err != nil {
		return fmt.Errorf("%w: config file: %v", types.ErrPublish, err)
	}
	c.logger.Info().
		Uint64("generation", c.generation).
		Str("path", c.ConfPath()).
		Msg("dnsmasq configuration committed")
	return nil
}

// notify sends SIGHUP to the resolver if its pid is discoverable. An absent
// pid is not an error: the supervisor may not have started dnsmasq yet, and
// the signal is retried on the next cycle.
func (c *Coordinator) notify() {
	pid, ok := c.resolver.FindPid()
	if !ok {
		c.state = StateDeferred
		c.logger.Info().Uint64("generation", c.generation).Msg("resolver not running, reload deferred")
		return
	}
	if err := c.resolver.Signal(pid); err != nil {
		c.state = StateDeferred
		c.logger.Info().Err(err).Int("pid", pid).Msg("failed to signal resolver, reload deferred")
		return
	}
	c.state = StateNotified
	c.logger.Info().Int("pid", pid).Uint64("generation", c.generation).Msg("resolver reloaded")
}

// writeAtomic writes content to path via a temp file in the same directory
// followed by a rename, so readers never observe partial content.
func (c *Coordinator) writeAtomic(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
