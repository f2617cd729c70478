package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"harvest/internal/daemonrun"
	"harvest/internal/datastore"
	"harvest/internal/faults"
	"harvest/internal/metrics"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "items",
		Aliases: []string{"item"},
		Short:   "Inspect and manage the staging store",
	}
	cmd.AddCommand(newItemsListCommand(ctx))
	cmd.AddCommand(newItemsShowCommand(ctx))
	cmd.AddCommand(newItemsAddDataCommand(ctx))
	cmd.AddCommand(newItemsAddFileCommand(ctx))
	cmd.AddCommand(newItemsRemoveCommand(ctx))
	cmd.AddCommand(newItemsMarkUploadedCommand(ctx))
	cmd.AddCommand(newItemsRetryCommand(ctx))
	cmd.AddCommand(newItemsDrainCommand(ctx))
	cmd.AddCommand(newItemsCleanupCommand(ctx))
	cmd.AddCommand(newItemsStatsCommand(ctx))
	return cmd
}

// parseMetadata turns key=value pairs into item metadata.
func parseMetadata(pairs []string) (map[string]any, error) {
	metadata := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q (use key=value)", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}

type itemView struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	CreatedAt      time.Time      `json:"created_at"`
	Uploaded       bool           `json:"uploaded"`
	RetryCount     int            `json:"retry_count"`
	LastUploadDate *time.Time     `json:"last_upload_date,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Files          []string       `json:"files,omitempty"`
	Bytes          int64          `json:"bytes"`
}

func viewItem(item *datastore.Item, withFiles bool) itemView {
	tracker := item.Tracker()
	view := itemView{
		ID:             item.Identifier(),
		Kind:           string(item.Kind()),
		CreatedAt:      item.CreatedAt(),
		Uploaded:       tracker.Uploaded(),
		RetryCount:     tracker.RetryCount(),
		LastUploadDate: tracker.LastUploadDate(),
		Metadata:       item.Metadata(),
	}
	view.Bytes, _ = item.Size()
	if withFiles {
		_ = item.WalkFiles(func(path string) bool {
			view.Files = append(view.Files, path)
			return true
		})
	}
	return view
}

func newItemsListCommand(ctx *commandContext) *cobra.Command {
	var exclude []string
	var sortBy string
	var descending, jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List staged items",
		RunE: func(cmd *cobra.Command, args []string) error {
			exclusion, err := datastore.ParseExclusion(exclude...)
			if err != nil {
				return err
			}
			key, err := datastore.ParseSortKey(sortBy)
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}

			var views []itemView
			err = store.Enumerate(cmd.Context(), datastore.EnumerateOptions{
				Exclude:   exclusion,
				SortBy:    key,
				Ascending: !descending,
			}, func(item *datastore.Item) bool {
				views = append(views, viewItem(item, false))
				return limit <= 0 || len(views) < limit
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if views == nil {
					views = []itemView{}
				}
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No items staged")
				return nil
			}
			fmt.Fprintln(out, itemsTable(views))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Skip items: uploaded, not-uploaded, retried, never-retried (repeatable)")
	cmd.Flags().StringVar(&sortBy, "sort", "created", "Sort by created, last-upload, or retries")
	cmd.Flags().BoolVar(&descending, "desc", false, "Sort in descending order")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many items")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// loadItem resolves an identifier or reports ErrNotFound.
func loadItem(cmd *cobra.Command, store *datastore.Store, id string) (*datastore.Item, error) {
	item, err := store.Item(cmd.Context(), strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, faults.NotFound("cli", "load item", id)
	}
	return item, nil
}

func newItemsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one staged item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			item, err := loadItem(cmd, store, args[0])
			if err != nil {
				return err
			}
			view := viewItem(item, true)
			if jsonOutput {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:           %s\n", view.ID)
			fmt.Fprintf(out, "Kind:         %s\n", kindLabel(view.Kind))
			fmt.Fprintf(out, "Created:      %s\n", formatTimestamp(view.CreatedAt))
			fmt.Fprintf(out, "Uploaded:     %s\n", yesNo(view.Uploaded))
			fmt.Fprintf(out, "Retries:      %d\n", view.RetryCount)
			fmt.Fprintf(out, "Last upload:  %s\n", formatOptionalTimestamp(view.LastUploadDate))
			fmt.Fprintf(out, "Size:         %s\n", formatBytes(view.Bytes))
			if path := item.FilePath(); path != "" {
				fmt.Fprintf(out, "Payload:      %s\n", path)
			}
			if len(view.Metadata) > 0 {
				fmt.Fprintln(out, "Metadata:")
				keys := make([]string, 0, len(view.Metadata))
				for key := range view.Metadata {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Fprintf(out, "  %s: %v\n", key, view.Metadata[key])
				}
			}
			if len(view.Files) > 0 {
				fmt.Fprintln(out, "Files:")
				for _, file := range view.Files {
					fmt.Fprintf(out, "  %s\n", file)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newItemsAddDataCommand(ctx *commandContext) *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "add-data [file|-]",
		Short: "Stage raw bytes read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			var data []byte
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read data: %w", err)
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			id, err := store.AddData(cmd.Context(), data, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Metadata key=value (repeatable)")
	return cmd
}

func newItemsAddFileCommand(ctx *commandContext) *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "add-file <path>",
		Short: "Move a file or directory into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			id, err := store.AddFile(cmd.Context(), args[0], metadata)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Metadata key=value (repeatable)")
	return cmd
}

func newItemsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete staged items",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := store.RemoveItem(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed item %s\n", id)
			}
			return nil
		},
	}
}

func newItemsMarkUploadedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-uploaded <id>",
		Short: "Record that an item was uploaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			item, err := loadItem(cmd, store, args[0])
			if err != nil {
				return err
			}
			if err := item.Tracker().MarkUploaded(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %s marked uploaded\n", item.Identifier())
			return nil
		},
	}
}

func newItemsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Record a failed upload attempt for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			item, err := loadItem(cmd, store, args[0])
			if err != nil {
				return err
			}
			if err := item.Tracker().IncreaseRetryCount(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %s retry count is now %d\n", item.Identifier(), item.Tracker().RetryCount())
			return nil
		},
	}
}

func newItemsDrainCommand(ctx *commandContext) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver pending items into the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			drainer, err := daemonrun.NewDrainer(cfg, store, ctx.cliLogger(), metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.TrimSpace(id) != "" {
				if err := drainer.DeliverOne(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(out, "Delivered %s to %s\n", id, cfg.Drain.OutboxDir)
				return nil
			}
			summary, err := drainer.Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Delivered %d, failed %d, exhausted %d, removed %d\n",
				summary.Delivered, summary.Failed, summary.Exhausted, summary.Removed)
			if summary.Failed > 0 {
				return errors.New("some items could not be delivered; they will be retried")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Deliver a single item regardless of its retry count")
	return cmd
}

func newItemsCleanupCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftovers of interrupted adds and removals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.StaleTempMaxAge()
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			result := store.CleanStale(cmd.Context(), maxAge)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d stale entries\n", len(result.Removed))
			for _, failure := range result.Errors {
				fmt.Fprintf(out, "  failed %s: %v\n", failure.Path, failure.Error)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d entries could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Only remove entries older than this (default from config)")
	return cmd
}

func newItemsStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the staging store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{
					"total":    stats.Total,
					"uploaded": stats.Uploaded,
					"pending":  stats.Pending,
					"retried":  stats.Retried,
					"bytes":    stats.Bytes,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), storeStatsTable(stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
