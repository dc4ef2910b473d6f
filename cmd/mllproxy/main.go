// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the mllproxy gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/absmach/mllproxy"
	"github.com/absmach/mllproxy/pkg/proxy"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "MLLPROXY_"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env file: %s\n", err)
	}

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	global, envErr := mllproxy.NewGlobal()

	root := &cobra.Command{
		Use:          "mllproxy",
		Short:        "Bidirectional MLLP and HTTP(S) gateway for HL7 v2 messages",
		Version:      mllproxy.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return envErr
		},
	}
	root.SetGlobalNormalizationFunc(wordSepNormalize)

	flags := root.PersistentFlags()
	flags.StringVar(&global.LogLevel, "log-level", global.LogLevel, "Log level: error, warn, info or debug")
	flags.StringVar(&global.LogFormat, "log-format", global.LogFormat, "Log format: json or text")
	flags.StringVar(&global.LogFolder, "log-folder", global.LogFolder, "Also write logs to a daily rotated file in this folder")
	flags.IntVar(&global.MetricsPort, "metrics-port", global.MetricsPort, "Serve Prometheus metrics on this port, 0 disables")
	flags.IntVar(&global.HealthPort, "health-port", global.HealthPort, "Serve health probes on this port, 0 disables")

	root.AddCommand(
		newHTTPCmd(proxy.HTTP2MLLP, &global),
		newHTTPCmd(proxy.HTTPS2MLLP, &global),
		newMLLPCmd(proxy.MLLP2HTTP, &global),
		newMLLPCmd(proxy.MLLP2HTTPS, &global),
		newServeCmd(&global),
	)

	return root
}

// wordSepNormalize accepts underscores in flag names, so --mllp_parser and
// --mllp-parser are the same flag.
func wordSepNormalize(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// bridgePrefix returns the environment prefix of a bridge, e.g.
// MLLPROXY_HTTP2MLLP_.
func bridgePrefix(dir proxy.Direction) string {
	return envPrefix + strings.ToUpper(string(dir)) + "_"
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
