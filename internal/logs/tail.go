package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// Last returns up to limit trailing complete lines of path and the offset just
// past them. A missing file yields no lines and offset zero.
func Last(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}

	var (
		ring   = make([]string, max(limit, 0))
		count  int
		next   int
		offset int64
	)
	err = scanLines(file, func(line []byte, end int64) {
		offset = end
		if limit <= 0 {
			return
		}
		ring[next] = string(line)
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range count {
		lines = append(lines, ring[(start+i)%max(limit, 1)])
	}
	return lines, offset, nil
}

// Follow streams complete lines appended to path after offset until ctx is
// cancelled. The file may not exist yet; it is picked up once created.
func Follow(ctx context.Context, path string, offset int64, fn func(line string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	clean := filepath.Clean(path)
	offset, err = readFrom(path, offset, fn)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != clean || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
				continue
			}
			if offset, err = readFrom(path, offset, fn); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch log file: %w", err)
		}
	}
}

// readFrom delivers complete lines after offset and returns the new offset. A
// trailing partial line is left for the next read.
func readFrom(path string, offset int64, fn func(line string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	end := offset
	err = scanLines(file, func(line []byte, consumed int64) {
		end = offset + consumed
		fn(string(line))
	})
	return end, err
}

// scanLines calls fn for each newline-terminated line with the number of bytes
// consumed through that line.
func scanLines(r io.Reader, fn func(line []byte, consumed int64)) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadSlice('\n')
		switch {
		case err == nil:
			consumed += int64(len(line))
			fn(bytes.TrimRight(line, "\r\n"), consumed)
		case errors.Is(err, bufio.ErrBufferFull):
			// Overlong line: keep reading until its newline and deliver a prefix.
			prefix := append([]byte(nil), line...)
			skipped := int64(len(line))
			for errors.Is(err, bufio.ErrBufferFull) {
				line, err = reader.ReadSlice('\n')
				skipped += int64(len(line))
				if len(prefix) < maxLineBytes {
					prefix = append(prefix, line...)
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read log file: %w", err)
			}
			consumed += skipped
			fn(bytes.TrimRight(prefix, "\r\n"), consumed)
		case errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("read log file: %w", err)
		}
	}
}
