package datastore

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"harvest/internal/faults"
	"harvest/internal/logging"
)

// Exclusion is a set of predicates that remove items from enumeration. An item
// is skipped when it matches any predicate in the set.
type Exclusion uint8

const (
	ExcludeUploaded Exclusion = 1 << iota
	ExcludeNotUploaded
	ExcludeRetried
	ExcludeNeverRetried
)

// Has reports whether every predicate in flag is part of the set.
func (e Exclusion) Has(flag Exclusion) bool {
	return e&flag == flag
}

func (e Exclusion) excludes(state trackerState) bool {
	switch {
	case e.Has(ExcludeUploaded) && state.Uploaded:
		return true
	case e.Has(ExcludeNotUploaded) && !state.Uploaded:
		return true
	case e.Has(ExcludeRetried) && state.RetryCount > 0:
		return true
	case e.Has(ExcludeNeverRetried) && state.RetryCount == 0:
		return true
	default:
		return false
	}
}

// SortKey selects the enumeration order.
type SortKey int

const (
	SortByCreationDate SortKey = iota
	SortByLastUploadDate
	SortByRetryCount
)

// String returns the CLI name of the key.
func (k SortKey) String() string {
	switch k {
	case SortByLastUploadDate:
		return "last-upload"
	case SortByRetryCount:
		return "retries"
	default:
		return "created"
	}
}

// ParseSortKey converts a CLI name into a SortKey.
func ParseSortKey(value string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "created", "creation":
		return SortByCreationDate, nil
	case "last-upload", "uploaded":
		return SortByLastUploadDate, nil
	case "retries", "retry":
		return SortByRetryCount, nil
	default:
		return 0, faults.Validation(component, "parse sort key", "unknown sort key "+value)
	}
}

// ParseExclusion combines CLI exclusion names into one Exclusion. Empty names
// are ignored.
func ParseExclusion(names ...string) (Exclusion, error) {
	var set Exclusion
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "uploaded":
			set |= ExcludeUploaded
		case "not-uploaded", "pending":
			set |= ExcludeNotUploaded
		case "retried":
			set |= ExcludeRetried
		case "never-retried":
			set |= ExcludeNeverRetried
		default:
			return 0, faults.Validation(component, "parse exclusion",
				fmt.Sprintf("unknown exclusion %q (valid: uploaded, not-uploaded, retried, never-retried)", name))
		}
	}
	return set, nil
}

// EnumerateOptions controls filtering and ordering of Enumerate.
type EnumerateOptions struct {
	Exclude   Exclusion
	SortBy    SortKey
	Ascending bool
}

// Enumerate loads every staged item, drops excluded ones, sorts the rest, and
// passes them to fn until it returns false. Items that cannot be read are
// skipped with a warning; only an unreadable root fails the call.
func (s *Store) Enumerate(ctx context.Context, opts EnumerateOptions, fn func(*Item) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return faults.Wrap(faults.ErrIO, component, "enumerate", "read store directory", err)
	}

	items := make([]*Item, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.IsDir() || !validID(name) {
			continue
		}
		item, err := s.loadItem(name)
		if err != nil {
			logging.WarnWithContext(s.logger, "skipping unreadable item", "store_item_corrupt",
				logging.String(logging.FieldItemID, name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect or remove the item directory"),
				logging.String(logging.FieldImpact, "item is not offered for upload"),
			)
			continue
		}
		if item == nil {
			continue
		}
		if opts.Exclude.excludes(item.tracker.snapshot()) {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b *Item) int {
		order := compareItems(a, b, opts.SortBy)
		if !opts.Ascending {
			order = -order
		}
		return order
	})

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(item) {
			break
		}
	}
	return nil
}

// compareItems orders by key, then identifier.
func compareItems(a, b *Item, key SortKey) int {
	var order int
	switch key {
	case SortByLastUploadDate:
		order = compareOptionalTime(a.tracker.snapshot().LastUploadDate, b.tracker.snapshot().LastUploadDate)
	case SortByRetryCount:
		order = cmp.Compare(a.tracker.snapshot().RetryCount, b.tracker.snapshot().RetryCount)
	default:
		order = a.manifest.CreatedAt.Compare(b.manifest.CreatedAt)
	}
	if order != 0 {
		return order
	}
	return strings.Compare(a.manifest.ID, b.manifest.ID)
}

// compareOptionalTime sorts nil before any timestamp.
func compareOptionalTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}
