package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/ingest"
	"quill/internal/store"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <show-id> <feed-url>",
		Short: "Import a show's RSS feed into the pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				ingestor := ingest.New(st, nil)
				count, err := ingestor.ImportFeed(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d episode(s) for %s\n", count, args[0])
				return nil
			})
		},
	}
}
