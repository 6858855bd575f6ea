package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
)

func newCreateOrgCmd(g *globalOptions) *cobra.Command {
	var user, tenant string

	cmd := &cobra.Command{
		Use:   "create-org <file>",
		Short: "Create an organization structure from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{session: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				return nil, nil, svc.CreateOrganization(ctx, user, args[0], tenant)
			})
		},
	}
	addUserFlag(cmd, &user)
	cmd.Flags().StringVar(&tenant, "tenant", "", "Name of the tenant organization to create the structure in")
	return cmd
}

func newAddTenantCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add-tenant <name>",
		Short: "Create a tenant account with its own database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{session: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				return nil, nil, svc.AddTenant(ctx, args[0])
			})
		},
	}
}

func newUpdateVersionCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update-version <version>",
		Short: "Record a server release dated today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{session: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				return nil, nil, svc.UpdateVersion(ctx, args[0])
			})
		},
	}
}

func newGenerateSchemeOrgCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-scheme-org",
		Short: "Ask the scheme coordinator to build the organization scheme",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflow(cmd, g, needs{session: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				return nil, nil, svc.GenerateSchemeOrg(ctx)
			})
		},
	}
}
