package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"harvest/internal/daemon"
	"harvest/internal/datastore"
)

type statusReport struct {
	DaemonRunning  bool   `json:"daemon_running"`
	LockFile       string `json:"lock_file"`
	StoreDir       string `json:"store_dir"`
	CollectionDir  string `json:"collection_dir"`
	SourceDir      string `json:"source_dir"`
	OutboxDir      string `json:"outbox_dir"`
	Collectors     int    `json:"collectors"`
	NeverCollected int    `json:"never_collected"`
	Items          int    `json:"items"`
	Pending        int    `json:"pending"`
	Uploaded       int    `json:"uploaded"`
	Retried        int    `json:"retried"`
	Bytes          int64  `json:"bytes"`
	MetricsBind    string `json:"metrics_bind,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, collector, and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := statusReport{
				LockFile:      cfg.LockPath(),
				StoreDir:      cfg.Paths.StoreDir,
				CollectionDir: cfg.Paths.CollectionDir,
				SourceDir:     cfg.Paths.SourceDir,
				OutboxDir:     cfg.Drain.OutboxDir,
			}
			if cfg.Metrics.Enabled {
				report.MetricsBind = cfg.Metrics.Bind
			}
			if report.DaemonRunning, err = daemon.IsRunning(cfg.LockPath()); err != nil {
				return err
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			applyStats(&report, stats)

			manager, err := ctx.openManager(store)
			if err != nil {
				return err
			}
			defer manager.Close()
			for _, c := range manager.Collectors() {
				report.Collectors++
				if c.Cursor().IsZero() {
					report.NeverCollected++
				}
			}

			if jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStatus(statusSections(report), shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func applyStats(report *statusReport, stats datastore.Stats) {
	report.Items = stats.Total
	report.Pending = stats.Pending
	report.Uploaded = stats.Uploaded
	report.Retried = stats.Retried
	report.Bytes = stats.Bytes
}

type statusLevel int

const (
	levelNone statusLevel = iota
	levelInfo
	levelOK
	levelWarn
)

type statusRow struct {
	label string
	value string
	level statusLevel
}

type statusSection struct {
	title string
	rows  []statusRow
}

func statusSections(r statusReport) []statusSection {
	daemonRow := statusRow{label: "Daemon", value: "not running", level: levelWarn}
	if r.DaemonRunning {
		daemonRow = statusRow{label: "Daemon", value: "running", level: levelOK}
	}
	overview := statusSection{title: "Harvest", rows: []statusRow{daemonRow}}
	if r.MetricsBind != "" {
		overview.rows = append(overview.rows, statusRow{label: "Metrics", value: "http://" + r.MetricsBind + "/metrics", level: levelInfo})
	}

	registered := statusRow{label: "Registered", value: strconv.Itoa(r.Collectors), level: levelOK}
	switch {
	case r.Collectors == 0:
		registered = statusRow{label: "Registered", value: "none (add one with `harvest collectors add-sample`)", level: levelWarn}
	case r.NeverCollected > 0:
		registered = statusRow{label: "Registered", value: fmt.Sprintf("%d (%d not collected yet)", r.Collectors, r.NeverCollected), level: levelInfo}
	}

	pending := levelOK
	if r.Pending > 0 {
		pending = levelInfo
	}
	retried := levelOK
	if r.Retried > 0 {
		retried = levelWarn
	}

	return []statusSection{
		overview,
		{title: "Collectors", rows: []statusRow{registered}},
		{title: "Store", rows: []statusRow{
			{label: "Items", value: fmt.Sprintf("%d (%s)", r.Items, formatBytes(r.Bytes)), level: levelInfo},
			{label: "Pending", value: strconv.Itoa(r.Pending), level: pending},
			{label: "Uploaded", value: strconv.Itoa(r.Uploaded), level: levelInfo},
			{label: "Retried", value: strconv.Itoa(r.Retried), level: retried},
		}},
		{title: "Paths", rows: []statusRow{
			{label: "Store", value: r.StoreDir},
			{label: "Collection", value: r.CollectionDir},
			{label: "Exports", value: r.SourceDir},
			{label: "Outbox", value: r.OutboxDir},
			{label: "Lock", value: r.LockFile},
		}},
	}
}

const statusLabelWidth = 12

// renderStatus prints each section as a bold title followed by aligned
// "label  value" rows. Rows with a level carry a colored marker.
func renderStatus(sections []statusSection, colorize bool) string {
	var b strings.Builder
	for i, section := range sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		title := section.title
		if colorize {
			title = text.Bold.Sprint(title)
		}
		b.WriteString(title + "\n")
		for _, row := range section.rows {
			fmt.Fprintf(&b, "  %s %-*s %s\n", levelMarker(row.level, colorize), statusLabelWidth, row.label, strings.TrimSpace(row.value))
		}
	}
	return b.String()
}

func levelMarker(level statusLevel, colorize bool) string {
	var (
		marker string
		color  text.Colors
	)
	switch level {
	case levelOK:
		marker, color = "ok  ", text.Colors{text.FgGreen}
	case levelWarn:
		marker, color = "warn", text.Colors{text.FgYellow}
	case levelInfo:
		marker, color = "info", text.Colors{text.FgBlue}
	default:
		return "    "
	}
	if colorize {
		return color.Sprint(marker)
	}
	return marker
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
