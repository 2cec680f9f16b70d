//go:build linux

package store

import "syscall"

// diskStats reports the bytes an unprivileged writer can still use under
// path, and the filesystem size. Errors yield (0, 0).
func diskStats(path string) (avail, total uint64) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0
	}
	return st.Bavail * uint64(st.Bsize), st.Blocks * uint64(st.Bsize)
}
