// Package arena implements the deterministic allocation arena: a
// single fixed-origin span of address space reserved once and carved
// by monotonic bump allocation, with red-zone padding between
// consecutive regions. Because the origin is fixed and the cursor only
// moves forward, repeated runs of the interpreter on the same input
// observe identical addresses.
package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/symflow/memspace/internal/mapping"
	"github.com/symflow/memspace/memutils"
	"golang.org/x/exp/slog"
)

// Config describes the span to reserve.
type Config struct {
	// Size is the number of bytes to reserve.
	Size int
	// Origin is the base address the span must be placed at. Zero means
	// the host may choose any placement.
	Origin uint64
	// RedZoneSize is the number of padding bytes carved between
	// consecutive regions so that out-of-bounds accesses land outside
	// any live region.
	RedZoneSize int
	// Narrow confines the span to the 32-bit-addressable range, for
	// modeled pointer widths of 32 bits.
	Narrow bool
}

// Arena is the reserved span plus the bump cursor. It is not
// synchronized; the owning manager is its sole user.
type Arena struct {
	logger *slog.Logger

	span     mapping.Span
	cursor   uint64
	redZone  int
	released bool

	// Populated only in corruption-detecting builds; red zones carry
	// magic values that CheckCorruption re-verifies.
	redZones []mapping.Span
}

// Reserve maps the configured span and returns an arena ready to carve
// from. Reservation is all-or-nothing: if the host cannot place the
// span at a nonzero configured origin, the mapping is released again
// and an error is returned, because determinism cannot be partially
// honored.
func Reserve(logger *slog.Logger, config Config) (*Arena, error) {
	if config.Size <= 0 {
		return nil, errors.Newf("arena size must be positive, not %d", config.Size)
	}
	if config.RedZoneSize < 0 {
		return nil, errors.Newf("red zone size must not be negative, not %d", config.RedZoneSize)
	}

	span, err := mapping.Reserve(config.Origin, config.Size, config.Narrow)
	if err != nil {
		return nil, errors.Wrapf(ReserveError, "failed to map %d bytes: %v", config.Size, err)
	}

	if config.Origin != 0 && span.Base != config.Origin {
		releaseErr := mapping.Release(span)
		if releaseErr != nil {
			logger.Error("failed to release misplaced arena span", slog.Any("error", releaseErr))
		}
		return nil, errors.Wrapf(ReserveError, "could not place the span at 0x%x (host offered 0x%x)", config.Origin, span.Base)
	}

	logger.Info("deterministic arena reserved",
		slog.Uint64("base", span.Base),
		slog.Int("size", span.Length),
		slog.Int("redZone", config.RedZoneSize))

	return &Arena{
		logger:  logger,
		span:    span,
		cursor:  span.Base,
		redZone: config.RedZoneSize,
	}, nil
}

// Base returns the first address of the reserved span.
func (a *Arena) Base() uint64 { return a.span.Base }

// Size returns the number of reserved bytes.
func (a *Arena) Size() int { return a.span.Length }

// Used returns the number of bytes consumed so far, including red-zone
// and alignment padding.
func (a *Arena) Used() int { return int(a.cursor - a.span.Base) }

// Contains reports whether addr falls inside the reserved span.
func (a *Arena) Contains(addr uint64) bool {
	return addr >= a.span.Base && addr < a.span.Base+uint64(a.span.Length)
}

// Carve serves a region of allocSize bytes at the requested alignment
// and returns its base address. Zero-size requests are carved as one
// byte so that every region still sits between its own red zones. On
// exhaustion the cursor is left unchanged and ExhaustedError is
// returned.
func (a *Arena) Carve(allocSize uint64, alignment uint) (uint64, error) {
	memutils.DebugCheckPow2(alignment, "alignment")

	if a.released {
		return 0, errors.New("carve from a released arena")
	}

	address := memutils.AlignUp(a.cursor, alignment)
	if allocSize == 0 {
		allocSize = 1
	}

	end := address + allocSize
	limit := a.span.Base + uint64(a.span.Length)
	if end > limit || end < address {
		return 0, errors.Wrapf(ExhaustedError, "could not carve %d bytes, %d bytes remain", allocSize, limit-a.cursor)
	}

	// The cursor never leaves the reserved span: a red zone at the very
	// end of the arena is clipped rather than pushed past the limit.
	next := end + uint64(a.redZone)
	if next > limit {
		next = limit
	}

	if memutils.CorruptionDetection && next > end {
		zone := mapping.Span{Base: end, Length: int(next - end)}
		memutils.WriteMagicValue(unsafe.Pointer(uintptr(zone.Base)), 0, zone.Length)
		a.redZones = append(a.redZones, zone)
	}

	a.cursor = next
	return address, nil
}

// CheckCorruption re-verifies the magic values written into every red
// zone carved so far and returns an error naming the first red zone
// that has been overwritten. Magic values are only written in builds
// carrying the debug_mem_utils tag; in other builds this returns nil.
func (a *Arena) CheckCorruption() error {
	for _, zone := range a.redZones {
		if !memutils.ValidateMagicValue(unsafe.Pointer(uintptr(zone.Base)), 0, zone.Length) {
			return errors.Newf("red zone at 0x%x (%d bytes) has been overwritten", zone.Base, zone.Length)
		}
	}

	return nil
}

// Validate performs internal consistency checks on the arena.
func (a *Arena) Validate() error {
	if a.cursor < a.span.Base {
		return errors.Newf("arena cursor 0x%x sits below the span base 0x%x", a.cursor, a.span.Base)
	}

	if a.cursor > a.span.Base+uint64(a.span.Length) {
		return errors.Newf("arena cursor 0x%x has escaped the reserved span ending at 0x%x", a.cursor, a.span.Base+uint64(a.span.Length))
	}

	return nil
}

// Release unmaps the whole reserved span in one operation. Individual
// carved regions are never released independently. Release is
// idempotent.
func (a *Arena) Release() error {
	if a.released {
		return nil
	}

	err := mapping.Release(a.span)
	if err != nil {
		return errors.Wrap(err, "failed to release the deterministic arena")
	}

	a.released = true
	a.redZones = nil
	return nil
}
