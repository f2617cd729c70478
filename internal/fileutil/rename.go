package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

func renameCheckThenMove(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("rename %s: %w", dst, ErrExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}
	return nil
}
