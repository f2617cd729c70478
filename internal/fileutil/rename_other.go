//go:build !linux

package fileutil

// RenameNoReplace renames src to dst, failing with ErrExists when dst is
// already present. The existence check is not atomic on this platform.
func RenameNoReplace(src, dst string) error {
	return renameCheckThenMove(src, dst)
}
