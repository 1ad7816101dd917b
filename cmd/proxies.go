package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/proxypool"
	"github.com/xkilldash9x/hostkeep/internal/service"
)

func newProxiesCmd() *cobra.Command {
	proxiesCmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect the configured egress proxies",
	}
	proxiesCmd.AddCommand(newProxiesCheckCmd())
	return proxiesCmd
}

func newProxiesCheckCmd() *cobra.Command {
	var showAll bool

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every configured proxy and print the healthy ones by latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			cfg := app.Config.Proxy
			cfg.HealthCheck = true

			pool, parseErrs := service.InitializeProxyPool(cmd.Context(), cfg, app.Logger)
			if err := cmd.Context().Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pool.Endpoints()) == 0 && len(parseErrs) == 0 {
				_, err := fmt.Fprintln(out, "No proxies configured.")
				return err
			}

			rows := pool.Healthy()
			if showAll {
				rows = pool.Endpoints()
			}
			if err := writeProxyTable(out, rows, parseErrs); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%d of %d proxies healthy.\n", len(pool.Healthy()), len(pool.Endpoints()))
			return err
		},
	}

	checkCmd.Flags().BoolVarP(&showAll, "all", "a", false, "include unhealthy endpoints")
	return checkCmd
}

func writeProxyTable(w io.Writer, endpoints []schemas.ProxyEndpoint, parseErrs []*proxypool.ParseError) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROXY\tSTATUS\tLATENCY")
	for _, ep := range endpoints {
		latency := "-"
		if ep.Health == schemas.HealthHealthy {
			latency = ep.Latency.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ep.Redacted(), ep.Health, latency)
	}
	for _, pe := range parseErrs {
		fmt.Fprintf(tw, "%s\tinvalid\t%s\n", pe.Input, pe.Reason)
	}
	return tw.Flush()
}
