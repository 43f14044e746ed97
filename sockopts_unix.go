//go:build unix

package jetstream

import "syscall"

// setReuseAddr sets SO_REUSEADDR on fd, matching the source's socket setup
// for both TCP and Unix-domain listeners (spec.md §4.F / §6).
func setReuseAddr(fd uintptr) error {
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
