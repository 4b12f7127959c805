// glide shares one keyboard and mouse across networked screens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chronologos/glide/internal/client"
	"github.com/chronologos/glide/internal/config"
	"github.com/chronologos/glide/internal/metrics"
	"github.com/chronologos/glide/internal/reactor"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/server"
	"github.com/chronologos/glide/internal/topology"
	"github.com/chronologos/glide/internal/transport"
	"github.com/chronologos/glide/internal/version"
)

var (
	cfgFile  string
	logLevel string

	// Overrides for the config file.
	listenAddr    string
	transportName string
	metricsAddr   string
	screenName    string
	serverAddr    string
	profile       bool
	minor         int
	legacy        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "glide",
		Short: "glide - one keyboard and mouse for many screens",
		Long: `glide shares the keyboard and mouse of one machine (the server) with
other machines (clients) on the network. Moving the cursor off an edge of
one screen moves it onto the neighboring screen, as declared in the
server's configuration.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "transport: tcp, quic or dual")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Share this machine's keyboard and mouse",
		RunE:  runServer,
	}
	serverCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default :24800)")
	serverCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")

	clientCmd := &cobra.Command{
		Use:   "client [server]",
		Short: "Accept keyboard and mouse from a server",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runClient,
	}
	clientCmd.Flags().StringVarP(&serverAddr, "server", "s", "", "server address (host or host:port)")
	clientCmd.Flags().StringVarP(&screenName, "name", "n", "", "this screen's name")
	clientCmd.Flags().IntVar(&minor, "minor", -1, "protocol minor version to request (default: newest)")
	clientCmd.Flags().BoolVar(&legacy, "legacy", false, "use the pre-1.1 login greeting")
	clientCmd.Flags().BoolVar(&profile, "profile", false, "emit RTT/traffic stats to stderr (QUIC only)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a server config file",
		RunE:  runCheck,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}

	rootCmd.AddCommand(serverCmd, clientCmd, checkCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return log.Logger
}

func loadServerConfig() (*config.ServerConfig, error) {
	if cfgFile == "" {
		return nil, errors.New("a config file is required (--config)")
	}
	cfg, err := config.LoadServerConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if transportName != "" {
		cfg.Transport = transportName
	}
	if metricsAddr != "" {
		cfg.Metrics = metricsAddr
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := setupLogging()
	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	// Validate has already checked these.
	topo, _ := cfg.Topology()
	hotkeys, _ := cfg.HotkeySet()
	mode, _ := transport.ParseMode(cfg.Transport)
	opts, _ := cfg.SwitchOptions()

	rt := reactor.NewRuntime(logger, metrics.New("server"), mode)
	srv, err := server.New(rt, server.Config{
		Addr:             cfg.Listen,
		Topology:         topo,
		Local:            screen.NewHeadless(cfg.Width, cfg.Height, logger),
		Hotkeys:          hotkeys,
		Options:          opts,
		KeepAlive:        cfg.KeepAliveInterval(),
		HandshakeTimeout: cfg.HandshakeTimeoutDuration(),
		MetricsAddr:      cfg.Metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info().Str("version", version.VERSION).Msg("starting server")
	return srv.Run(ctx)
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := setupLogging()

	cfg := &config.ClientConfig{}
	if cfgFile != "" {
		var err error
		if cfg, err = config.LoadClientConfig(cfgFile); err != nil {
			return err
		}
	}
	if screenName != "" {
		cfg.Name = screenName
	}
	if serverAddr != "" {
		cfg.Server = serverAddr
	}
	if len(args) > 0 {
		cfg.Server = args[0]
	}
	if transportName != "" {
		cfg.Transport = transportName
	}
	if cmd.Flags().Changed("minor") {
		cfg.Minor = &minor
	}
	if legacy {
		cfg.Legacy = true
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mode, _ := transport.ParseMode(cfg.Transport)
	keepAlive, handshakeTimeout, reconnect := cfg.Durations()

	rt := reactor.NewRuntime(logger, metrics.New("client"), mode)
	c := client.New(rt, client.Config{
		Name:             cfg.Name,
		Addr:             cfg.Server,
		Minor:            cfg.RequestedMinor(),
		Legacy:           cfg.Legacy,
		KeepAlive:        keepAlive,
		HandshakeTimeout: handshakeTimeout,
		ReconnectDelay:   reconnect,
		Profile:          profile,
	}, screen.NewHeadless(cfg.Width, cfg.Height, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info().Str("version", version.VERSION).Str("server", cfg.Server).Msg("starting client")
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("client exited: %w", err)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}
	topo, _ := cfg.Topology()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: ok (%d screens, transport %s, listen %s)\n", cfgFile, topo.Len(), cfg.Transport, cfg.Listen)
	for _, name := range topo.Names() {
		s, _ := topo.Screen(name)
		var links []string
		for _, dir := range topology.Directions {
			if dst, ok := topo.Edge(name, dir); ok {
				links = append(links, fmt.Sprintf("%s=%s", dir, dst))
			}
		}
		marker := ""
		if s.Local {
			marker = " (local)"
		}
		fmt.Fprintf(out, "  %s%s %v\n", name, marker, links)
	}
	return nil
}
