package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var auditLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline state counts and recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				report, err := st.StatusReport(cmd.Context())
				if err != nil {
					return err
				}
				events, err := st.ListAuditEvents(cmd.Context(), auditLimit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				heading(out, "Episodes by state")
				fmt.Fprintln(out, renderStateTable(report))
				fmt.Fprintln(out)
				heading(out, "Episodes by pathway")
				fmt.Fprintln(out, renderPathwayTable(report))

				if len(report.PerShow) > 0 {
					fmt.Fprintln(out)
					heading(out, "Per show")
					fmt.Fprintln(out, renderShowTable(report))
				}
				if len(events) > 0 {
					fmt.Fprintln(out)
					heading(out, "Recent audit events")
					fmt.Fprintln(out, renderAuditTable(events))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&auditLimit, "audit", 10, "Number of recent audit events to show")
	return cmd
}

func renderStateTable(report *store.StatusReport) string {
	rows := make([][]string, 0, len(report.PerState))
	for _, state := range store.AllStates() {
		count := report.PerState[state]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(state), strconv.Itoa(count)})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"(none)", "0"})
	}
	return renderTable([]string{"State", "Episodes"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderPathwayTable(report *store.StatusReport) string {
	rows := make([][]string, 0, len(report.PerPathway))
	for _, pathway := range store.AllPathways() {
		count := report.PerPathway[pathway]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(pathway), strconv.Itoa(count)})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{"(unassigned)", "0"})
	}
	return renderTable([]string{"Pathway", "Episodes"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderShowTable(report *store.StatusReport) string {
	rows := make([][]string, 0, len(report.PerShow))
	for _, row := range report.PerShow {
		rows = append(rows, []string{row.ShowID, string(row.State), strconv.Itoa(row.Count)})
	}
	return renderTable([]string{"Show", "State", "Episodes"},
		rows, []columnAlignment{alignLeft, alignLeft, alignRight})
}

func renderAuditTable(events []*store.AuditEvent) string {
	rows := make([][]string, 0, len(events))
	for _, event := range events {
		rows = append(rows, []string{
			event.OccurredAt.Local().Format("2006-01-02 15:04"),
			event.Kind,
			event.SubjectID,
			event.Detail,
		})
	}
	return renderTable([]string{"When", "Event", "Subject", "Detail"},
		rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft})
}
