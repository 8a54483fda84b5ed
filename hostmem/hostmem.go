// Package hostmem is the native delegator: it serves regions from the
// host when determinism is not required, one backing allocation per
// region. The standard path pins Go-heap blocks; the narrow path maps
// low-range pages so that addresses stay representable in a 32-bit
// modeled pointer. Release must go through whichever facility produced
// the address, which the delegator tracks internally.
package hostmem

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/symflow/memspace/internal/mapping"
	"github.com/symflow/memspace/memutils"
	"golang.org/x/exp/slog"
)

// Delegator hands out host-backed regions. It is not synchronized; the
// owning manager is its sole user.
type Delegator struct {
	logger *slog.Logger
	narrow bool

	// Live blocks by base address. A block's presence in one of these
	// tables records which facility produced it and keeps heap blocks
	// pinned until release.
	heap   map[uint64][]byte
	mapped map[uint64]mapping.Span
}

func New(logger *slog.Logger, narrow bool) *Delegator {
	return &Delegator{
		logger: logger,
		narrow: narrow,
		heap:   make(map[uint64][]byte),
		mapped: make(map[uint64]mapping.Span),
	}
}

// Allocate obtains a region of allocSize bytes from the host and
// returns its base address. Zero-size requests are served as one byte
// so the caller always receives a usable address. On the narrow path,
// alignment finer than the host's page granularity is not honored.
func (d *Delegator) Allocate(allocSize uint64, alignment uint) (uint64, error) {
	memutils.DebugCheckPow2(alignment, "alignment")

	if allocSize == 0 {
		allocSize = 1
	}
	if allocSize > math.MaxInt-uint64(alignment) {
		return 0, errors.Newf("host allocation of %d bytes is not serviceable", allocSize)
	}

	if d.narrow {
		span, err := mapping.Anonymous(int(allocSize), true)
		if err != nil {
			return 0, errors.Wrap(err, "narrow-address mapping failed")
		}

		d.mapped[span.Base] = span
		return span.Base, nil
	}

	// Over-allocating by alignment-1 and rounding the base up serves
	// the same purpose as a dedicated aligned-allocation call on the
	// host. The whole block stays pinned in the table either way.
	block := make([]byte, int(allocSize)+int(alignment)-1)
	base := uint64(uintptr(unsafe.Pointer(&block[0])))
	address := memutils.AlignUp(base, alignment)

	d.heap[address] = block
	return address, nil
}

// Release returns the region based at addr to the facility that
// produced it. Releasing an address this delegator never produced is
// outside the supported contract and reported as such.
func (d *Delegator) Release(addr uint64) error {
	if _, ok := d.heap[addr]; ok {
		delete(d.heap, addr)
		return nil
	}

	if span, ok := d.mapped[addr]; ok {
		delete(d.mapped, addr)
		return mapping.Release(span)
	}

	return errors.Wrapf(memutils.UnsupportedOperationError, "address 0x%x was not produced by this delegator", addr)
}

// LiveCount returns the number of regions currently backed by this
// delegator.
func (d *Delegator) LiveCount() int {
	return len(d.heap) + len(d.mapped)
}

// ReleaseAll returns every live region to its producing facility. Used
// at manager teardown.
func (d *Delegator) ReleaseAll() {
	for addr := range d.heap {
		delete(d.heap, addr)
	}

	for addr, span := range d.mapped {
		err := mapping.Release(span)
		if err != nil {
			d.logger.Error("failed to release narrow-address mapping", slog.Uint64("address", addr), slog.Any("error", err))
		}
		delete(d.mapped, addr)
	}
}
