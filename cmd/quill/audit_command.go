package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/store"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				events, err := st.ListAuditEvents(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No audit events recorded")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAuditTable(events))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to list")
	return cmd
}
