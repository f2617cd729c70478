//go:build linux

package fileutil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// RenameNoReplace atomically renames src to dst, failing with ErrExists when
// dst is already present.
func RenameNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("rename %s: %w", dst, ErrExists)
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		// Filesystems without renameat2 support.
		return renameCheckThenMove(src, dst)
	default:
		return fmt.Errorf("rename %s: %w", dst, err)
	}
}
