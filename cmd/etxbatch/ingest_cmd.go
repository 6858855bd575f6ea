package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
)

func newIngestFileCmd(g *globalOptions) *cobra.Command {
	var user string
	var offset, nrows int

	cmd := &cobra.Command{
		Use:   "ingest-file <file>",
		Short: "Upload a CSV file and start the remote batch importer on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{session: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				res, err := svc.IngestFile(ctx, user, args[0], offset, nrows)
				return nil, res, err
			})
		},
	}
	addUserFlag(cmd, &user)
	cmd.Flags().IntVar(&offset, "offset", 0, "First data row to import")
	cmd.Flags().IntVar(&nrows, "nrows", 0, "Rows to import (default ETX_INGEST_ROW_LIMIT)")
	return cmd
}

func newIngestFolderCmd(g *globalOptions) *cobra.Command {
	var user string
	var of bool

	cmd := &cobra.Command{
		Use:   "ingest-folder <folder>",
		Short: "Publish every CSV file of a folder, grouped by organization and entity",
		Long: "Publish every CSV file of a folder through the data API. With --of the\n" +
			"argument is a file and its folder is ingested.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{dataAPI: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				var (
					c   services.Counters
					err error
				)
				if of {
					c, err = svc.IngestFolderOf(ctx, user, args[0])
				} else {
					c, err = svc.IngestFolder(ctx, user, args[0])
				}
				return &c, nil, err
			})
		},
	}
	addUserFlag(cmd, &user)
	cmd.Flags().BoolVar(&of, "of", false, "Treat the argument as a file and ingest its folder")
	return cmd
}

func newImportChunkedCmd(g *globalOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "import-chunked <file>",
		Short: "Split a CSV file into chunks and import them through emission import directives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{session: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				rep, err := svc.ImportChunked(ctx, user, args[0])
				return nil, rep, err
			})
		},
	}
	addUserFlag(cmd, &user)
	return cmd
}

func newIngestIBotCmd(g *globalOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "ingest-ibot <file>",
		Short: "Create entities in bulk through iBots from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, needs{dataAPI: true}, func(ctx context.Context, svc *services.Service) (*services.Counters, any, error) {
				c, err := svc.CreateEntitiesUsingIBot(ctx, user, args[0])
				return &c, nil, err
			})
		},
	}
	addUserFlag(cmd, &user)
	return cmd
}
