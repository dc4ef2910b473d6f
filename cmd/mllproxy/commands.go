// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/absmach/mllproxy"
	"github.com/absmach/mllproxy/pkg/proxy"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	defaultHTTPPort = "8000"
	defaultMLLPPort = mllproxy.DefaultMLLPPort
)

// bridgeConfig is one bridge to start.
type bridgeConfig struct {
	direction proxy.Direction
	config    mllproxy.Config
}

func isHTTPS(dir proxy.Direction) bool {
	return dir == proxy.HTTPS2MLLP || dir == proxy.MLLP2HTTPS
}

// loadConfig reads a bridge configuration from its environment prefix and
// fills the per-direction defaults.
func loadConfig(dir proxy.Direction, listenPort string) (mllproxy.Config, error) {
	cfg, err := mllproxy.NewConfig(env.Options{Prefix: bridgePrefix(dir)})
	if err != nil {
		return cfg, fmt.Errorf("failed to load %s config: %w", dir, err)
	}
	if cfg.Port == "" {
		cfg.Port = listenPort
	}
	if cfg.ContentType == "" {
		cfg.ContentType = mllproxy.DefaultHTTPContentType
		if isHTTPS(dir) {
			cfg.ContentType = mllproxy.DefaultHTTPSContentType
		}
	}
	return cfg, nil
}

func addCommonFlags(f *pflag.FlagSet, cfg *mllproxy.Config) {
	f.StringVarP(&cfg.Host, "host", "H", cfg.Host, "Listen host")
	f.StringVarP(&cfg.Port, "port", "p", cfg.Port, "Listen port")
	f.IntVar(&cfg.Timeout, "timeout", cfg.Timeout, "Socket timeout in milliseconds, 0 for unlimited")
	f.StringVar(&cfg.ContentType, "content-type", cfg.ContentType, "HTTP Content-Type")
	f.Int64Var(&cfg.RateLimitCapacity, "rate-limit", cfg.RateLimitCapacity, "Messages a client may burst, 0 disables rate limiting")
	f.Int64Var(&cfg.RateLimitRefill, "rate-limit-refill", cfg.RateLimitRefill, "Messages per second a client regains")
	f.Int64Var(&cfg.RateLimitGlobal, "rate-limit-global", cfg.RateLimitGlobal, "Connections and requests per second across all clients, 0 disables")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Time to drain open connections on exit")
}

// newHTTPCmd creates the http2mllp and https2mllp commands.
func newHTTPCmd(dir proxy.Direction, global *mllproxy.Global) *cobra.Command {
	cfg, envErr := loadConfig(dir, defaultHTTPPort)

	short := "HTTP server proxying to MLLP"
	if isHTTPS(dir) {
		short = "HTTPS server proxying to MLLP"
	}

	cmd := &cobra.Command{
		Use:   string(dir) + " <mllp-peer>",
		Short: short,
		Long: short + `.

The MLLP peer is given as host, host:port or mllp://host:port. A missing
port defaults to --mllp-port.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if len(args) == 1 {
				cfg.Peer = args[0]
			}
			return run(cmd.Context(), *global, []bridgeConfig{{direction: dir, config: cfg}})
		},
	}

	f := cmd.Flags()
	addCommonFlags(f, &cfg)
	f.IntVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "HTTP keep-alive in milliseconds, -1 for unlimited, 0 to close after each response")
	f.IntVar(&cfg.MLLPKeepAlive, "mllp-keep-alive", cfg.MLLPKeepAlive, "Idle MLLP connection keep-alive in milliseconds, -1 to never expire, 0 to never pool")
	f.IntVar(&cfg.MLLPMaxMessages, "mllp-max-messages", cfg.MLLPMaxMessages, "Messages per MLLP connection, -1 for unlimited")
	f.StringVar(&cfg.MLLPPort, "mllp-port", cfg.MLLPPort, "MLLP peer port when the peer has none")
	f.BoolVar(&cfg.MLLPTLS, "mllp-tls", cfg.MLLPTLS, "Use TLS to the MLLP peer")
	f.StringVar(&cfg.MLLPVerify, "mllp-verify", cfg.MLLPVerify, "Verify the MLLP peer certificate: true, false or a CA bundle path")
	f.IntVar(&cfg.BreakerMaxFailures, "breaker-max-failures", cfg.BreakerMaxFailures, "Failed MLLP dials before the circuit opens")
	f.DurationVar(&cfg.BreakerResetTimeout, "breaker-reset-timeout", cfg.BreakerResetTimeout, "Time an open circuit waits before a probe dial")

	if isHTTPS(dir) {
		f.StringVar(&cfg.CertFile, "certfile", cfg.CertFile, "Server certificate file")
		f.StringVar(&cfg.KeyFile, "keyfile", cfg.KeyFile, "Server private key file")
		f.StringVar(&cfg.Username, "username", cfg.Username, "Username required from clients")
		f.StringVar(&cfg.Password, "password", cfg.Password, "Password required from clients")
		f.BoolVar(&cfg.MLLPParser, "mllp-parser", cfg.MLLPParser, "Strip MLLP framing from replies")
	}

	return cmd
}

// newMLLPCmd creates the mllp2http and mllp2https commands.
func newMLLPCmd(dir proxy.Direction, global *mllproxy.Global) *cobra.Command {
	cfg, envErr := loadConfig(dir, defaultMLLPPort)

	short := "MLLP server proxying to HTTP"
	if isHTTPS(dir) {
		short = "MLLP server proxying to HTTPS"
	}

	cmd := &cobra.Command{
		Use:   string(dir) + " <http-url>",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if len(args) == 1 {
				cfg.Peer = args[0]
			}
			return run(cmd.Context(), *global, []bridgeConfig{{direction: dir, config: cfg}})
		},
	}

	f := cmd.Flags()
	addCommonFlags(f, &cfg)
	f.StringVar(&cfg.CertFile, "certfile", cfg.CertFile, "Certificate file enabling MLLP over TLS")
	f.StringVar(&cfg.KeyFile, "keyfile", cfg.KeyFile, "Private key file enabling MLLP over TLS")

	if isHTTPS(dir) {
		f.StringVar(&cfg.Username, "username", cfg.Username, "HTTP Basic auth username")
		f.StringVar(&cfg.Password, "password", cfg.Password, "HTTP Basic auth password")
		f.StringVar(&cfg.Verify, "verify", cfg.Verify, "Verify the server certificate: true, false or a CA bundle path")
	}

	return cmd
}

// newServeCmd runs every bridge whose port is set in the environment.
func newServeCmd(global *mllproxy.Global) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every bridge configured through MLLPROXY_<BRIDGE>_* variables",
		Long: `Run every bridge configured through the environment.

A bridge is started when its MLLPROXY_<BRIDGE>_PORT variable is set, e.g.
MLLPROXY_HTTP2MLLP_PORT=8000 and MLLPROXY_HTTP2MLLP_PEER=ehr.local:2575.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bridges, err := configuredBridges()
			if err != nil {
				return err
			}
			if len(bridges) == 0 {
				return fmt.Errorf("no bridge configured, set %s<BRIDGE>_PORT", envPrefix)
			}
			return run(cmd.Context(), *global, bridges)
		},
	}
}

func configuredBridges() ([]bridgeConfig, error) {
	dirs := []proxy.Direction{proxy.HTTP2MLLP, proxy.HTTPS2MLLP, proxy.MLLP2HTTP, proxy.MLLP2HTTPS}

	var bridges []bridgeConfig
	for _, dir := range dirs {
		cfg, err := loadConfig(dir, "")
		if err != nil {
			return nil, err
		}
		// Skip if port is not configured
		if cfg.Port == "" {
			continue
		}
		bridges = append(bridges, bridgeConfig{direction: dir, config: cfg})
	}
	return bridges, nil
}
