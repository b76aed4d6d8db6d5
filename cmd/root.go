// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/triad/internal/config"
	"github.com/Thermoquad/triad/internal/logging"
	"github.com/Thermoquad/triad/pkg/triad"
)

var (
	cfg     = config.DefaultConfig()
	cfgPath string
	log     = zerolog.Nop()

	// Link endpoints per peer role, copied into cfg.Links when set
	linkFlags = map[triad.Role]*string{}

	// Endpoint inspected by raw_log, packet_test and monitor
	portName string
)

var rootCmd = &cobra.Command{
	Use:   "triad",
	Short: "Triple-redundant flight board coordinator",
	Long: `Triad - Tools for a triple-redundant flight computer.

Three boards (A, B, C) keep identical state and compare it over point-to-point
links. The Primary forwards ground commands to the payload and records failed
exchanges in an error log.

Links are serial devices or WebSocket bridges:
  Serial:    /dev/ttyUSB0 (rate from --baud)
  WebSocket: ws://host/path or wss://host/path [--username user]

Settings come from ~/.triad/config.toml, TRIAD_* environment variables and
flags, in increasing order of precedence. For WebSocket authentication, the
password is read from the TRIAD_PASSWORD environment variable, or prompted
interactively if not set.`,
	Version:           fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgPath, "config", "", "Config file (default ~/.triad/config.toml)")

	// Board
	f.StringVar(&cfg.Role, "role", cfg.Role, "Board role: primary, secondary, tertiary (or A, B, C)")
	f.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "State buffer size in bytes")
	f.StringVar(&cfg.Seed, "seed", cfg.Seed, "Initial buffer contents")
	f.BoolVar(&cfg.LegacyASCII, "legacy-ascii", cfg.LegacyASCII, "Use two-digit ASCII range requests")

	// Links
	for _, r := range triad.Roles {
		linkFlags[r] = f.String("link-"+r.String(), "", fmt.Sprintf("Link to the %s board", r))
	}
	f.StringVar(&cfg.PayloadLink, "payload-link", cfg.PayloadLink, "Link to the payload")
	f.StringVarP(&portName, "port", "p", "", "Link to inspect (default the payload link)")
	f.IntVarP(&cfg.Baud, "baud", "b", cfg.Baud, "Baud rate (serial only)")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Transport timeout")
	f.StringVar(&cfg.Username, "username", cfg.Username, "Username for HTTP Basic auth")
	f.BoolVar(&cfg.SkipSSLVerify, "insecure", cfg.SkipSSLVerify, "Skip TLS certificate verification (wss:// only)")

	// Ambient
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL for telemetry (tcp://host:1883/prefix)")
}

// loadConfig resolves settings for every subcommand before it runs
func loadConfig(cmd *cobra.Command, args []string) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	for r, v := range linkFlags {
		if changed["link-"+r.String()] {
			cfg.Links[r.String()] = *v
		}
	}

	path := cfgPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if err := config.Resolve(&cfg, path, changed); err != nil {
		return err
	}

	l, err := logging.New(cfg.LogLevel, nil)
	if err != nil {
		return err
	}
	log = l
	log.Debug().Str("role", cfg.Role).Str("config", path).Msg("configuration loaded")
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
