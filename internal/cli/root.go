package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fleetcore/internal/entity"
	"fleetcore/pkg/domain"
)

// NewRootCmd creates the top-level "fleetcore" command and registers all
// subcommands against app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetcore",
		Short:         "Equipment maintenance scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(app),
		newSeedCmd(app),
		newReconcileCmd(app),
		newListCmd(app),
		newHoursCmd(app),
		newScheduleCmd(app),
		newSummaryCmd(app),
	)

	return root
}

func newSeedCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the sample fleet if it is not present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd.Context(), func(rt *Runtime) error {
				if err := rt.Service.EnsureSeed(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data present")
				return nil
			})
		},
	}
}

func newReconcileCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the equipment index from stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd.Context(), func(rt *Runtime) error {
				report, err := rt.Service.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %d dangling, adopted %d orphaned\n", len(report.Dropped), len(report.Adopted))
				return nil
			})
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	var (
		limit  int
		cursor string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List equipment one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd.Context(), func(rt *Runtime) error {
				page, err := rt.Service.List(cmd.Context(), entity.ListOptions{Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, page)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tTYPE\tHOURS\tSTATUS")
				for _, eq := range page.Items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", eq.ID, eq.Name, eq.Type, formatHours(eq.CurrentHours), eq.Status)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if page.Next != nil {
					fmt.Fprintf(out, "next cursor: %s\n", *page.Next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (defaults to the configured page limit)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor returned by the previous page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page as JSON")
	return cmd
}

func newHoursCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "hours <id> <hours>",
		Short: "Record an engine-hours reading",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return domain.Invalid("hours", "must be a number")
			}
			return app.run(cmd.Context(), func(rt *Runtime) error {
				eq, err := rt.Service.UpdateHours(cmd.Context(), args[0], hours)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s now at %s hours\n", eq.Name, formatHours(eq.CurrentHours))
				for _, task := range eq.Tasks {
					fmt.Fprintf(out, "  %-8s %s\n", task.Urgency, task.Title)
				}
				return nil
			})
		},
	}
}

func newScheduleCmd(app *App) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show maintenance tasks, most urgent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd.Context(), func(rt *Runtime) error {
				items, err := rt.Service.Schedule(cmd.Context(), query)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "URGENCY\tTASK\tMACHINE\tDUE AT\tCURRENT")
				for _, item := range items {
					due := "-"
					if item.NextDueHours != nil {
						due = formatHours(*item.NextDueHours)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", item.Urgency, item.Title, item.MachineName, due, formatHours(item.CurrentHours))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Filter by task title or machine name")
	return cmd
}

func newSummaryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show fleet status counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd.Context(), func(rt *Runtime) error {
				sum, err := rt.Service.Summary(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
