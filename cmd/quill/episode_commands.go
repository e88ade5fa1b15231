package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/store"
)

func newEpisodeCommand(ctx *commandContext) *cobra.Command {
	episodeCmd := &cobra.Command{
		Use:   "episode",
		Short: "Inspect and repair individual episodes",
	}

	episodeCmd.AddCommand(newEpisodeShowCommand(ctx))
	episodeCmd.AddCommand(newEpisodeReopenCommand(ctx))

	return episodeCmd
}

func newEpisodeShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <episode-id>",
		Short: "Show an episode's state and attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				episode, err := st.GetEpisode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if episode == nil {
					return fmt.Errorf("episode %q not found", args[0])
				}
				attempts, err := st.AttemptsForEpisode(cmd.Context(), episode.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Show", episode.ShowID},
					{"Title", episode.Title},
					{"State", string(episode.State)},
					{"Attempts", strconv.Itoa(episode.AttemptCount)},
				}
				if episode.LastErrorClass != "" {
					rows = append(rows, []string{"Last error", episode.LastErrorClass})
				}
				if episode.NextAttemptAt != nil {
					rows = append(rows, []string{"Next attempt", episode.NextAttemptAt.Local().Format("2006-01-02 15:04")})
				}
				if episode.ResolvedSourceID != "" {
					rows = append(rows, []string{"Resolved via", episode.ResolvedSourceID})
				}
				if episode.TranscriptPath != "" {
					rows = append(rows, []string{"Transcript", episode.TranscriptPath})
				}
				fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows,
					[]columnAlignment{alignLeft, alignLeft}))

				if len(attempts) > 0 {
					fmt.Fprintln(out)
					heading(out, "Attempts")
					attemptRows := make([][]string, 0, len(attempts))
					for _, attempt := range attempts {
						attemptRows = append(attemptRows, []string{
							attempt.AttemptedAt.Local().Format("2006-01-02 15:04"),
							attempt.SourceID,
							string(attempt.Outcome),
							attempt.ErrorClass,
						})
					}
					fmt.Fprintln(out, renderTable([]string{"When", "Source", "Outcome", "Error"},
						attemptRows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft}))
				}
				return nil
			})
		},
	}
}

func newEpisodeReopenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <episode-id>",
		Short: "Return a permanently failed episode to the claimable pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				if err := st.ReopenEpisode(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Episode %s reopened\n", args[0])
				return nil
			})
		},
	}
}
