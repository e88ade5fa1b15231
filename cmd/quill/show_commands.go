package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/store"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Manage shows and their pathways",
	}

	showCmd.AddCommand(newShowListCommand(ctx))
	showCmd.AddCommand(newShowSetPathwayCommand(ctx))

	return showCmd
}

func newShowListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known shows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				shows, err := st.ListShows(cmd.Context())
				if err != nil {
					return err
				}
				if len(shows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No shows ingested")
					return nil
				}
				rows := make([][]string, 0, len(shows))
				for _, show := range shows {
					pathway := string(show.Pathway)
					if pathway == "" {
						pathway = "(pending)"
					}
					rows = append(rows, []string{show.ID, show.DisplayName, pathway, show.PathwayReason})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Pathway", "Reason"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newShowSetPathwayCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "set-pathway <show-id> <pathway>",
		Short: "Override a show's resolution pathway",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathway, ok := store.ParsePathway(args[1])
			if !ok {
				return fmt.Errorf("unknown pathway %q", args[1])
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				show, err := st.GetShow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if show == nil {
					return fmt.Errorf("show %q not found", args[0])
				}
				if reason == "" {
					reason = "operator override"
				}
				if err := st.SetShowPathway(cmd.Context(), args[0], pathway, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Show %s now resolves via %s\n", args[0], pathway)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Audit trail note for the change")
	return cmd
}
