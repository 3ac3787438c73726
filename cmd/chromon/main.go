// Package main is chromon's entry point: flag/config parsing, the ASCII
// banner, transport discovery, and wiring every internal component before
// handing off to the console. Kept thin per the pack's convention of
// pushing logic into internal packages and leaving main.go a dispatcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chromon/internal/audit"
	"chromon/internal/banner"
	"chromon/internal/config"
	"chromon/internal/console"
	"chromon/internal/diag"
	"chromon/internal/engine"
	"chromon/internal/transport"
)

// version is set by the release process; "dev" for local builds.
var version = "dev"

var (
	flagConfig  string
	flagDebug   bool
	flagNoColor bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chromon",
		Short:         "chromon collects a synthesized audit log of a Chrome DevTools Protocol debuggee",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug-level diagnostics logging")
	root.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored banner and prompt")

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the chromon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("chromon " + version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var host string
	var port int
	var logDir string
	var username string
	var tag string
	var strictLog bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "connect to a CDP debuggee and start collecting the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.DebugeeHost = host
			}
			if port != 0 {
				cfg.DebugeePort = port
			}
			if logDir != "" {
				cfg.LogDir = logDir
			}
			if username != "" {
				cfg.Username = username
			}
			if tag != "" {
				cfg.Tag = tag
			}
			if cmd.Flags().Changed("strict-log") {
				cfg.StrictLog = strictLog
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "debugeehost", "", "debuggee host, overrides config")
	cmd.Flags().IntVar(&port, "debugeeport", 0, "debuggee port, overrides config")
	cmd.Flags().StringVar(&logDir, "logdir", "", "audit log directory, overrides config")
	cmd.Flags().StringVar(&username, "username", "", "username tag recorded in the audit log, overrides config")
	cmd.Flags().StringVar(&tag, "tag", "", "log tag recorded in the audit log, overrides config")
	cmd.Flags().BoolVar(&strictLog, "strict-log", false, "emit strict envelope-formatted audit log lines, overrides config")
	return cmd
}

func run(cfg *config.Config) error {
	logger, err := diag.New(flagDebug)
	if err != nil {
		return fmt.Errorf("build diagnostics logger: %w", err)
	}
	defer logger.Sync()

	banner.Print(os.Stdout, version, flagNoColor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := transport.Connect(ctx, cfg.DebugeeHost, cfg.DebugeePort)
	if err != nil {
		return fmt.Errorf("connect to debuggee: %w", err)
	}
	defer client.Close()
	client.OnDispatchError = diag.DispatchErrorLogger(logger)

	remote := audit.RemoteConfig{
		Enabled:  cfg.Remote.Enable,
		Scheme:   cfg.Remote.Scheme,
		UseSSL:   cfg.Remote.UseSSL,
		Host:     cfg.Remote.Host,
		Port:     cfg.Remote.Port,
		Hostname: cfg.Hostname,
		LogTag:   cfg.Tag,
	}
	registry := audit.NewRegistry()
	sink, err := audit.NewSink(registry, cfg.LogDir, cfg.Username, cfg.Tag, cfg.StrictLog, remote)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}
	defer sink.Close()

	eng, err := engine.New(client, sink, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if _, err := client.Send("Target.setDiscoverTargets", map[string]interface{}{"discover": true}); err != nil {
		logger.Warn("initial Target.setDiscoverTargets failed", zap.Error(err))
	}

	c := console.New(registry, sink, eng, cfg.LogDir, cfg.Username, cfg.Tag)
	go func() {
		<-ctx.Done()
		client.Close()
	}()
	c.Run()
	return nil
}
