package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"harvest/internal/collection"
	"harvest/internal/collector"
)

func newCollectorsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collectors",
		Aliases: []string{"collector"},
		Short:   "Manage registered collectors",
	}
	cmd.AddCommand(newCollectorsAddSampleCommand(ctx))
	cmd.AddCommand(newCollectorsAddCorrelationCommand(ctx))
	cmd.AddCommand(newCollectorsAddActivityCommand(ctx))
	cmd.AddCommand(newCollectorsListCommand(ctx))
	cmd.AddCommand(newCollectorsRemoveCommand(ctx))
	return cmd
}

// withManager opens the store and manager for the duration of fn.
func withManager(ctx *commandContext, fn func(*collection.Manager) error) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	manager, err := ctx.openManager(store)
	if err != nil {
		return err
	}
	defer manager.Close()
	return fn(manager)
}

func newCollectorsAddSampleCommand(ctx *commandContext) *cobra.Command {
	var unit, start string
	cmd := &cobra.Command{
		Use:   "add-sample <type>",
		Short: "Register a collector for one sample type (quantity.* or category.*)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseStartDate(start)
			if err != nil {
				return err
			}
			return withManager(ctx, func(m *collection.Manager) error {
				c, err := m.AddSampleCollector(cmd.Context(), args[0], unit, startDate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered collector %s\n", c.Identifier())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&unit, "unit", "u", "count", "Unit the samples are reported in")
	cmd.Flags().StringVar(&start, "start", "", "Ignore samples before this date")
	return cmd
}

func newCollectorsAddCorrelationCommand(ctx *commandContext) *cobra.Command {
	var sampleTypes, units []string
	var start string
	cmd := &cobra.Command{
		Use:   "add-correlation <type>",
		Short: "Register a collector for a correlation type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseStartDate(start)
			if err != nil {
				return err
			}
			return withManager(ctx, func(m *collection.Manager) error {
				c, err := m.AddCorrelationCollector(cmd.Context(), args[0], sampleTypes, units, startDate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered collector %s\n", c.Identifier())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&sampleTypes, "sample-type", nil, "Component sample type (repeatable)")
	cmd.Flags().StringSliceVar(&units, "unit", nil, "Unit for the matching component sample type (repeatable)")
	cmd.Flags().StringVar(&start, "start", "", "Ignore correlations before this date")
	return cmd
}

func newCollectorsAddActivityCommand(ctx *commandContext) *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "add-activity",
		Short: "Register the motion activity collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := parseStartDate(start)
			if err != nil {
				return err
			}
			return withManager(ctx, func(m *collection.Manager) error {
				c, err := m.AddActivityCollector(cmd.Context(), startDate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered collector %s\n", c.Identifier())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Ignore activities before this date")
	return cmd
}

type collectorView struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Detail         string `json:"detail"`
	StartDate      string `json:"start_date,omitempty"`
	Anchor         string `json:"anchor,omitempty"`
	CursorTime     string `json:"cursor_time,omitempty"`
	NeverCollected bool   `json:"never_collected"`
}

func viewCollector(c *collector.Collector) collectorView {
	view := collectorView{
		ID:             c.Identifier(),
		Kind:           string(c.Kind()),
		Anchor:         c.Cursor().Anchor,
		NeverCollected: c.Cursor().IsZero(),
	}
	if start := c.StartDate(); !start.IsZero() {
		view.StartDate = start.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if ts := c.Cursor().Timestamp; !ts.IsZero() {
		view.CursorTime = ts.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	switch {
	case c.Sample() != nil:
		view.Detail = c.Sample().Type + " [" + c.Sample().Unit + "]"
	case c.Correlation() != nil:
		p := c.Correlation()
		parts := make([]string, len(p.SampleTypes))
		for i := range p.SampleTypes {
			parts[i] = p.SampleTypes[i] + " [" + p.Units[i] + "]"
		}
		view.Detail = p.Type + ": " + strings.Join(parts, ", ")
	default:
		view.Detail = "motion activity"
	}
	return view
}

func newCollectorsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List collectors in registration order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(ctx, func(m *collection.Manager) error {
				collectors := m.Collectors()
				views := make([]collectorView, 0, len(collectors))
				for _, c := range collectors {
					views = append(views, viewCollector(c))
				}
				if jsonOutput {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No collectors registered")
					return nil
				}
				fmt.Fprintln(out, collectorsTable(views))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newCollectorsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Remove collectors and forget their cursors",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(ctx, func(m *collection.Manager) error {
				for _, id := range args {
					if err := m.RemoveCollector(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed collector %s\n", id)
				}
				return nil
			})
		},
	}
}
