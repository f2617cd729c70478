package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// kindLabel renders a kind identifier ("sample", "data") for humans.
func kindLabel(kind string) string {
	if kind == "" {
		return "-"
	}
	return titleCaser.String(kind)
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTimestamp(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return formatTimestamp(*ts)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// parseStartDate accepts RFC 3339 timestamps or plain dates. An empty value
// means no lower bound.
func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q (use YYYY-MM-DD or RFC 3339)", value)
	}
	return ts, nil
}
