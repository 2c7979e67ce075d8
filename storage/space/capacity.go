package space

import (
	"golang.org/x/sys/unix"
)

// StatfsCapacity is the default DiskCapacityFunc: the total byte size of
// the filesystem backing dir, via statfs(2). Callers remain free to
// supply their own (e.g. a fixed test budget, or a cgroup-aware probe).
func StatfsCapacity(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return uint64(st.Blocks) * uint64(st.Bsize), nil
}
