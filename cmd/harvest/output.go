package main

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"harvest/internal/datastore"
)

// writeJSON prints v as indented JSON. Metadata is user data, so HTML
// characters are left unescaped.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type tableColumn struct {
	title   string
	numeric bool
	// maxWidth wraps longer cells; zero leaves the column unbounded.
	maxWidth int
}

func newTable(columns ...tableColumn) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if col.numeric {
			configs[i].Align = text.AlignRight
			configs[i].AlignFooter = text.AlignRight
		}
		if col.maxWidth > 0 {
			configs[i].WidthMax = col.maxWidth
			configs[i].WidthMaxEnforcer = text.WrapSoft
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)
	return tw
}

// itemsTable lists staged items with a footer totalling count and size.
func itemsTable(views []itemView) string {
	tw := newTable(
		tableColumn{title: "ID"},
		tableColumn{title: "Kind"},
		tableColumn{title: "Created"},
		tableColumn{title: "Uploaded"},
		tableColumn{title: "Retries", numeric: true},
		tableColumn{title: "Size", numeric: true},
	)
	var total int64
	for _, v := range views {
		total += v.Bytes
		tw.AppendRow(table.Row{
			v.ID,
			kindLabel(v.Kind),
			formatTimestamp(v.CreatedAt),
			yesNo(v.Uploaded),
			v.RetryCount,
			formatBytes(v.Bytes),
		})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d items", len(views)), "", "", "", "", formatBytes(total)})
	return tw.Render()
}

// collectorsTable lists collectors in registration order with their cursor
// position.
func collectorsTable(views []collectorView) string {
	tw := newTable(
		tableColumn{title: "ID"},
		tableColumn{title: "Kind"},
		tableColumn{title: "Collects", maxWidth: 48},
		tableColumn{title: "Cursor"},
	)
	for _, v := range views {
		tw.AppendRow(table.Row{v.ID, kindLabel(v.Kind), v.Detail, cursorLabel(v)})
	}
	return tw.Render()
}

func cursorLabel(v collectorView) string {
	switch {
	case v.Anchor != "":
		return "line " + v.Anchor
	case v.CursorTime != "":
		return v.CursorTime
	default:
		return "not collected"
	}
}

func storeStatsTable(stats datastore.Stats) string {
	tw := newTable(tableColumn{title: "Items"}, tableColumn{title: "Count", numeric: true})
	tw.AppendRows([]table.Row{
		{"Total", stats.Total},
		{"Uploaded", stats.Uploaded},
		{"Pending", stats.Pending},
		{"Retried", stats.Retried},
	})
	tw.AppendFooter(table.Row{"Size", formatBytes(stats.Bytes)})
	return tw.Render()
}
