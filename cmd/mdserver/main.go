package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/virtmds/mdserver/pkg/api"
	"github.com/virtmds/mdserver/pkg/config"
	"github.com/virtmds/mdserver/pkg/dnsmasq"
	"github.com/virtmds/mdserver/pkg/ipam"
	"github.com/virtmds/mdserver/pkg/log"
	"github.com/virtmds/mdserver/pkg/registry"
	"github.com/virtmds/mdserver/pkg/store"
	"github.com/virtmds/mdserver/pkg/userdata"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mdserver",
	Short: "mdserver - metadata service for locally-hosted virtual machines",
	Long: `mdserver hands each local VM a stable IP address, a resolvable
hostname and cloud-init compatible userdata, keeping a dnsmasq
instance synchronized with the assignments.

Instances are registered by the libvirt qemu hook POSTing domain XML
to /instance-upload; VMs then fetch their metadata from the EC2-style
endpoints over the metadata address.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metadata service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mdserver version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
		File:       cfg.Logging.File,
	}); err != nil {
		return err
	}
	logger := log.WithComponent("main")

	st, err := store.Open(cfg.Server.DBFile, log.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	alloc, err := ipam.New(cfg.Dnsmasq.NetAddress, cfg.Dnsmasq.NetPrefix, cfg.Dnsmasq.Gateway, log.WithComponent("ipam"))
	if err != nil {
		return fmt.Errorf("failed to build allocator: %w", err)
	}

	coord := dnsmasq.New(dnsmasq.Config{
		User:          cfg.Dnsmasq.User,
		BaseDir:       cfg.Dnsmasq.BaseDir,
		RunDir:        cfg.Dnsmasq.RunDir,
		NetName:       cfg.Dnsmasq.NetName,
		Interface:     cfg.Dnsmasq.Interface,
		ListenAddress: cfg.Dnsmasq.ListenAddress,
		Gateway:       cfg.Dnsmasq.Gateway,
		LeaseLen:      cfg.Dnsmasq.LeaseLen,
		Domain:        cfg.Dnsmasq.Domain,
		UseDNS:        cfg.Dnsmasq.UseDNS,
		MdsAddress:    cfg.Server.ListenAddress,
	}, nil, log.WithComponent("dnsmasq"))

	reg := registry.New(st, alloc, cfg.NamePolicy(), coord, log.WithComponent("registry"))
	if err := reg.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap dnsmasq configuration: %w", err)
	}

	ud := &userdata.Resolver{
		Dir:    cfg.Server.UserdataDir,
		Logger: log.WithComponent("userdata"),
	}
	if cfg.Server.DefaultTemplate != "" {
		if err := ud.LoadFallback(cfg.Server.DefaultTemplate); err != nil {
			return err
		}
	}

	srv := api.NewServer(cfg, reg, ud, Version, log.WithComponent("api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	logger.Info().Str("version", Version).Msg("mdserver started")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("mdserver stopped")
	return nil
}
