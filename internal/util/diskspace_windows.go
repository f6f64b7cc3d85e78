//go:build windows

package util

import (
	"syscall"
	"unsafe"
)

// DiskSpaceInfo describes the filesystem backing the data root, in GB.
type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

const bytesPerGB = 1 << 30

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx = kernel32.NewProc("GetDiskFreeSpaceExW")
)

func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return DiskSpaceInfo{}, err
	}

	var availBytes, totalBytes, totalFreeBytes uint64
	ret, _, callErr := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&availBytes)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFreeBytes)),
	)
	if ret == 0 {
		return DiskSpaceInfo{}, callErr
	}

	total := float64(totalBytes) / bytesPerGB
	avail := float64(availBytes) / bytesPerGB
	return DiskSpaceInfo{
		AvailGB: avail,
		TotalGB: total,
		UsedGB:  total - avail,
	}, nil
}
