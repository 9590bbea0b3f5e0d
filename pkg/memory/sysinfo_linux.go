//go:build linux

package memory

import "syscall"

// totalPhysicalMemory reads total RAM via syscall.Sysinfo, the same
// stdlib-syscall family used for the mmap path; Totalram is scaled by Unit
// to normalize to bytes across kernel versions.
func totalPhysicalMemory() int64 {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit)
}
