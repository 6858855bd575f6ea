package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
)

type workflowFunc func(ctx context.Context, svc *services.Service) (*services.Counters, any, error)

// runWorkflow opens the runtime, runs fn and reports its outcome as one
// JSON line on stdout.
func runWorkflow(cmd *cobra.Command, g *globalOptions, n needs, fn workflowFunc) error {
	start := time.Now()
	a, err := openApp(cmd.Context(), g, n)
	if err != nil {
		return report(g, cmd.Name(), start, nil, nil, err)
	}
	defer a.Close()

	counters, result, err := fn(cmd.Context(), a.svc)
	return report(g, cmd.Name(), start, counters, result, err)
}

func addUserFlag(cmd *cobra.Command, user *string) {
	cmd.Flags().StringVar(user, "user", "", "Owner of the files (folder name under FILES_ROOT)")
	_ = cmd.MarkFlagRequired("user")
}
