// Package mapping wraps the anonymous page-mapping facility that backs
// both the deterministic arena and the narrow-address native path.
package mapping

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Span is one live anonymous mapping.
type Span struct {
	Base   uint64
	Length int
}

func mmap(origin uint64, length int, narrow bool) (uint64, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if narrow {
		flags |= narrowMapFlag
	}

	addr, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		uintptr(origin),
		uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(flags),
		^uintptr(0), // no backing file
		0,
	)
	if errno != 0 {
		return 0, errors.Wrapf(errno, "mmap of %d bytes failed", length)
	}

	return uint64(addr), nil
}

// Reserve maps length bytes of private anonymous memory, requesting
// placement at origin. The kernel treats origin as a hint, so the
// returned span's base may differ from it; callers that require the
// exact origin must check for themselves. When narrow is set the
// mapping is confined to the 32-bit-addressable range.
func Reserve(origin uint64, length int, narrow bool) (Span, error) {
	base, err := mmap(origin, length, narrow)
	if err != nil {
		return Span{}, err
	}

	return Span{Base: base, Length: length}, nil
}

// Anonymous maps length bytes of private anonymous memory wherever the
// kernel chooses. When narrow is set the mapping is confined to the
// 32-bit-addressable range.
func Anonymous(length int, narrow bool) (Span, error) {
	return Reserve(0, length, narrow)
}

// Release unmaps the provided span in one operation.
func Release(span Span) error {
	_, _, errno := unix.Syscall(
		unix.SYS_MUNMAP,
		uintptr(span.Base),
		uintptr(span.Length),
		0,
	)
	if errno != 0 {
		return errors.Wrapf(errno, "munmap of span at 0x%x failed", span.Base)
	}

	return nil
}
