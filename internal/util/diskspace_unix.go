//go:build !windows

package util

import "syscall"

// DiskSpaceInfo describes the filesystem backing the data root, in GB.
type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

const bytesPerGB = 1 << 30

func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return DiskSpaceInfo{}, err
	}
	// Bavail counts blocks available to unprivileged users, which is what
	// the download admission check cares about.
	total := float64(fs.Blocks*uint64(fs.Bsize)) / bytesPerGB
	avail := float64(fs.Bavail*uint64(fs.Bsize)) / bytesPerGB
	return DiskSpaceInfo{
		AvailGB: avail,
		TotalGB: total,
		UsedGB:  total - avail,
	}, nil
}
