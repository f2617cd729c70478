package filesource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"harvest/internal/collector"
	"harvest/internal/faults"
	"harvest/internal/logging"
)

const (
	component        = "filesource"
	samplesDir       = "samples"
	correlationsDir  = "correlations"
	activityFile     = "activity.jsonl"
	exportExtension  = ".jsonl"
	defaultBatchSize = 1000
)

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the source logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBatchSize caps how many lines one anchored fetch consumes.
func WithBatchSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// Source implements collector.Source over JSON Lines exports.
type Source struct {
	dir       string
	batchSize int
	logger    *slog.Logger
}

var _ collector.Source = (*Source)(nil)

// New returns a Source reading exports under dir. The directory may not exist
// yet; fetches then return nothing.
func New(dir string, opts ...Option) *Source {
	s := &Source{
		dir:       dir,
		batchSize: defaultBatchSize,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, component)
	return s
}

// Dir returns the export directory.
func (s *Source) Dir() string { return s.dir }

// FetchSince implements collector.Source.
func (s *Source) FetchSince(ctx context.Context, query collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}
	switch {
	case query.Sample != nil:
		return s.fetchSamples(ctx, query, cursor)
	case query.Correlation != nil:
		return s.fetchCorrelations(ctx, query, cursor)
	case query.Activity != nil:
		return s.fetchActivity(ctx, query, cursor)
	default:
		return nil, cursor, faults.Validation(component, "fetch", "query has no parameters for "+query.Collector)
	}
}

func (s *Source) fetchSamples(ctx context.Context, query collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	params := query.Sample
	path, err := s.exportPath(samplesDir, params.Type)
	if err != nil {
		return nil, cursor, err
	}
	var objects []collector.Object
	next, err := s.readAnchored(ctx, path, cursor, s.batchSize, func(line []byte) (bool, error) {
		var record sampleRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return false, err
		}
		if record.Start.Before(params.Start) {
			return false, nil
		}
		objects = append(objects, record.object(params.Type))
		return true, nil
	})
	return objects, next, err
}

func (s *Source) fetchCorrelations(ctx context.Context, query collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	params := query.Correlation
	path, err := s.exportPath(correlationsDir, params.Type)
	if err != nil {
		return nil, cursor, err
	}
	var objects []collector.Object
	next, err := s.readAnchored(ctx, path, cursor, s.batchSize, func(line []byte) (bool, error) {
		var record correlationRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return false, err
		}
		if record.Start.Before(params.Start) {
			return false, nil
		}
		correlation := collector.Correlation{
			UUID:  record.UUID,
			Type:  params.Type,
			Start: record.Start,
			End:   record.End,
		}
		for _, sample := range record.Samples {
			if slices.Contains(params.SampleTypes, sample.Type) {
				correlation.Samples = append(correlation.Samples, sample.object(sample.Type))
			}
		}
		objects = append(objects, correlation)
		return true, nil
	})
	return objects, next, err
}

// fetchActivity scans the whole activity file and keeps records strictly after
// the cursor timestamp.
func (s *Source) fetchActivity(ctx context.Context, query collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	path := filepath.Join(s.dir, activityFile)
	var (
		objects []collector.Object
		latest  = cursor.Timestamp
	)
	_, err := s.readAnchored(ctx, path, collector.Cursor{}, unlimited, func(line []byte) (bool, error) {
		var record activityRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return false, err
		}
		if record.Start.Before(query.Activity.Start) || !record.Start.After(cursor.Timestamp) {
			return false, nil
		}
		objects = append(objects, collector.Activity{
			Start:      record.Start,
			Activity:   record.Activity,
			Confidence: record.Confidence,
		})
		if record.Start.After(latest) {
			latest = record.Start
		}
		return true, nil
	})
	if err != nil {
		return nil, cursor, err
	}
	slices.SortStableFunc(objects, func(a, b collector.Object) int {
		return a.StartDate().Compare(b.StartDate())
	})
	return objects, collector.Cursor{Timestamp: latest}, nil
}

func (s *Source) exportPath(subdir, objectType string) (string, error) {
	if objectType == "" || strings.ContainsAny(objectType, `/\`) || objectType == "." || objectType == ".." {
		return "", faults.Validation(component, "fetch", fmt.Sprintf("type %q cannot name an export file", objectType))
	}
	return filepath.Join(s.dir, subdir, objectType+exportExtension), nil
}

const unlimited = -1

// readAnchored feeds complete lines after the cursor's line offset to fn and
// returns the cursor positioned after the last consumed line. fn reports
// whether it kept the line; reading stops once limit lines were kept or the
// file ends, so filtered lines never use up a batch. Lines that fail to decode
// are logged and consumed. A missing file yields the cursor unchanged.
func (s *Source) readAnchored(ctx context.Context, path string, cursor collector.Cursor, limit int, fn func(line []byte) (bool, error)) (collector.Cursor, error) {
	offset := 0
	if cursor.Anchor != "" {
		parsed, err := strconv.Atoi(cursor.Anchor)
		if err != nil || parsed < 0 {
			return cursor, faults.Validation(component, "fetch", fmt.Sprintf("invalid anchor %q", cursor.Anchor))
		}
		offset = parsed
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cursor, nil
		}
		return cursor, faults.Wrap(faults.ErrIO, component, "fetch", "open export", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	line := 0
	consumed, kept := 0, 0
	for limit < 0 || kept < limit {
		if line%256 == 0 {
			if err := ctx.Err(); err != nil {
				return cursor, err
			}
		}
		raw, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return cursor, faults.Wrap(faults.ErrIO, component, "fetch", "read export", err)
		}
		line++
		if line <= offset {
			continue
		}
		consumed++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		ok, err := fn(raw)
		if ok {
			kept++
		}
		if err != nil {
			logging.WarnWithContext(s.logger, "skipping malformed export line", "export_line_invalid",
				logging.String("path", path),
				logging.Int("line", line),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the exporter; the line will not be read again"),
				logging.String(logging.FieldImpact, "record dropped"),
			)
		}
	}
	if consumed == 0 {
		return cursor, nil
	}
	return collector.Cursor{Anchor: strconv.Itoa(offset + consumed)}, nil
}
