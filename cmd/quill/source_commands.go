package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/store"
)

func newSourceCommand(ctx *commandContext) *cobra.Command {
	sourceCmd := &cobra.Command{
		Use:   "source",
		Short: "Manage transcript sources",
	}

	sourceCmd.AddCommand(newSourceListCommand(ctx))
	sourceCmd.AddCommand(newSourceAddCommand(ctx))
	sourceCmd.AddCommand(newSourceEnableCommand(ctx, true))
	sourceCmd.AddCommand(newSourceEnableCommand(ctx, false))

	return sourceCmd
}

func newSourceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				sources, err := st.ListSources(cmd.Context())
				if err != nil {
					return err
				}
				if len(sources) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sources registered")
					return nil
				}
				rows := make([][]string, 0, len(sources))
				for _, source := range sources {
					rows = append(rows, []string{
						source.ID,
						string(source.Pathway),
						strconv.Itoa(source.Priority),
						yesNo(source.Enabled),
						source.BaseURL,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Pathway", "Priority", "Enabled", "Base URL"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newSourceAddCommand(ctx *commandContext) *cobra.Command {
	var (
		displayName  string
		pathwayValue string
		baseURL      string
		showPattern  string
		titlePattern string
		hostPattern  string
		priority     int
		requiresAuth bool
	)

	cmd := &cobra.Command{
		Use:   "add <source-id>",
		Short: "Register or update a transcript source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathway, ok := store.ParsePathway(pathwayValue)
			if !ok {
				return fmt.Errorf("unknown pathway %q", pathwayValue)
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				name := displayName
				if name == "" {
					name = args[0]
				}
				source := &store.Source{
					ID:               args[0],
					DisplayName:      name,
					Pathway:          pathway,
					ShowPattern:      showPattern,
					TitlePattern:     titlePattern,
					AudioHostPattern: hostPattern,
					BaseURL:          baseURL,
					Enabled:          true,
					Priority:         priority,
					RequiresAuth:     requiresAuth,
				}
				if err := st.UpsertSource(cmd.Context(), source); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source %s registered (%s)\n", source.ID, source.Pathway)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&displayName, "name", "", "Human-readable source name")
	cmd.Flags().StringVar(&pathwayValue, "pathway", "", "Pathway this source serves")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "URL template with {show}, {episode}, {title_slug} tokens")
	cmd.Flags().StringVar(&showPattern, "show-pattern", "", "Regexp limiting the source to matching show identifiers")
	cmd.Flags().StringVar(&titlePattern, "title-pattern", "", "Regexp limiting the source to matching episode titles")
	cmd.Flags().StringVar(&hostPattern, "audio-host-pattern", "", "Regexp limiting the source to matching audio hosts")
	cmd.Flags().IntVar(&priority, "priority", 0, "Ordering priority, higher first")
	cmd.Flags().BoolVar(&requiresAuth, "requires-auth", false, "Mark the source as paywalled")
	_ = cmd.MarkFlagRequired("pathway")
	return cmd
}

func newSourceEnableCommand(ctx *commandContext, enable bool) *cobra.Command {
	verb := "enable"
	if !enable {
		verb = "disable"
	}
	var reason string

	cmd := &cobra.Command{
		Use:   verb + " <source-id>",
		Short: "Mark a source " + verb + "d",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				if reason == "" {
					reason = "operator request"
				}
				if err := st.SetSourceEnabled(cmd.Context(), args[0], enable, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source %s %sd\n", args[0], verb)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Audit trail note for the change")
	return cmd
}
