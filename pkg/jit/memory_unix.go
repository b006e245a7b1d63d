//go:build unix

package jit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapRegion maps size bytes of anonymous, page-aligned, read-write memory.
func mapRegion(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrMemory, size, err)
	}
	return mem, nil
}

// protectExec makes the region read-execute. Writes fault afterwards.
func protectExec(mem []byte) error {
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("%w: mprotect: %v", ErrMemory, err)
	}
	return nil
}

// unmapRegion releases a region returned by mapRegion.
func unmapRegion(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrMemory, err)
	}
	return nil
}
