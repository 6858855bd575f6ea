package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	envFiles    []string
	configFile  string
	metricsAddr string
	strict      bool
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "etxbatch",
		Short:         "Batch ingestion and administration against an ETX server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env", ".env.local"}, "Env files loaded before the environment")
	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "YAML or JSON config file (overrides ETX_CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.PersistentFlags().BoolVar(&g.strict, "strict", false, "Exit non-zero when a batch run has failed or unresolved groups")

	cmd.AddCommand(newIngestFileCmd(g))
	cmd.AddCommand(newIngestFolderCmd(g))
	cmd.AddCommand(newImportChunkedCmd(g))
	cmd.AddCommand(newCreateOrgCmd(g))
	cmd.AddCommand(newAddTenantCmd(g))
	cmd.AddCommand(newUpdateVersionCmd(g))
	cmd.AddCommand(newGenerateSchemeOrgCmd(g))
	cmd.AddCommand(newIngestIBotCmd(g))
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
