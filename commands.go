package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnsproxy/dnsproxy/config"
	"github.com/dnsproxy/dnsproxy/monitor"
	"github.com/dnsproxy/dnsproxy/resolver"
	"github.com/dnsproxy/dnsproxy/upstream"
)

var (
	probeDomain  string
	probeRounds  int
	probeTimeout time.Duration

	probeCmd = &cobra.Command{
		Use:   "probe server...",
		Short: "Print the addresses untrusted servers return for the probe domain",
		Args:  cobra.MinimumNArgs(1),
		RunE:  probe,
	}

	genconfigCmd = &cobra.Command{
		Use:   "genconfig path",
		Short: "Write the default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger("info")
			return config.Generate(args[0])
		},
	}
)

func init() {
	flags := probeCmd.Flags()
	{
		flags.StringVar(&probeDomain, "domain", monitor.DefaultProbeDomain, "domain queried on every server")
		flags.IntVar(&probeRounds, "rounds", resolver.DefaultProbeRounds, "probe rounds over all servers")
		flags.DurationVar(&probeTimeout, "timeout", upstream.DefaultTimeout, "timeout of each probe query")
	}
}

func probe(cmd *cobra.Command, args []string) error {
	setupLogger("warn")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	servers, err := config.ParseServers(ctx, args, config.SystemLookup)
	if err != nil {
		return err
	}

	p := &resolver.Prober{
		Client:  upstream.New(probeTimeout),
		Rounds:  probeRounds,
		Timeout: probeTimeout,
	}

	addrs, err := p.Probe(ctx, servers, probeDomain)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		fmt.Fprintln(cmd.OutOrStdout(), addr.String())
	}

	return nil
}
