package memspace

import (
	"github.com/cockroachdb/errors"
	"github.com/symflow/memspace/arena"
	"github.com/symflow/memspace/expr"
	"github.com/symflow/memspace/hostmem"
	"github.com/symflow/memspace/internal/utils"
	"github.com/symflow/memspace/memutils"
	"golang.org/x/exp/slog"
)

// Manager owns the modeled address space: the deterministic arena when
// enabled, the native delegator otherwise, and the registry of live
// regions. It is the sole mutator of both; records are handed to
// callers as shared read-mostly references whose lifecycle must be
// funneled back through Free.
type Manager struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	pointerWidth     int
	zeroSizePolicy   ZeroSizePolicy
	defaultAlignment uint

	// Exactly one of these is non-nil, selected at construction.
	arena *arena.Arena
	host  *hostmem.Delegator

	registry registry

	allocationCount int
	largeAllocSites map[AllocationSite]struct{}
	destroyed       bool
}

// Allocate obtains a new region for the provided size descriptor and
// returns its record. The returned error is a recoverable allocation
// failure (unsupported alignment, zero-size refusal, arena exhaustion,
// host failure); the interpreter is expected to surface it as an
// out-of-memory condition in the modeled program. On failure no
// partial state is left in the registry and no identity is consumed.
func (m *Manager) Allocate(size expr.Size, isLocal, isGlobal bool, site AllocationSite, alignment uint) (*MemoryObject, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil, errors.New("allocate on a destroyed manager")
	}
	if size == nil {
		return nil, errors.New("allocate with a nil size descriptor")
	}

	if alignment == 0 {
		alignment = m.defaultAlignment
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		m.logger.Warn("only power-of-two alignments are supported", slog.Uint64("alignment", uint64(alignment)))
		return nil, err
	}

	concreteSize, hasConcreteSize := size.ConcreteValue()

	if hasConcreteSize && concreteSize > largeAllocationThreshold {
		m.warnLargeAllocation(site, concreteSize)
	}

	if hasConcreteSize && concreteSize == 0 && m.zeroSizePolicy == ZeroSizeFail {
		return nil, ZeroSizeError
	}

	var address uint64
	var backing backingMode
	if m.arena != nil {
		// Symbolic sizes carve one byte, just enough to pin an address
		// between red zones until the size is solved.
		address, err = m.arena.Carve(concreteSize, alignment)
		backing = backingArena
	} else {
		backingSize := uint64(1)
		if hasConcreteSize {
			backingSize = concreteSize
		}
		address, err = m.host.Allocate(backingSize, alignment)
		backing = backingHost
	}
	if err != nil {
		m.logger.Warn("backing allocation failed", slog.String("size", size.String()), slog.Any("error", err))
		return nil, err
	}

	mo := &MemoryObject{
		segment:       m.registry.nextSegment(),
		address:       address,
		size:          size,
		isLocal:       isLocal,
		isGlobal:      isGlobal,
		allocSite:     site,
		backing:       backing,
		parentManager: m,
	}
	m.registry.Insert(mo)
	m.allocationCount++
	memutils.DebugValidate(&m.registry)

	m.logger.Debug("Manager::Allocate",
		slog.Uint64("segment", uint64(mo.segment)),
		slog.Uint64("address", address),
		slog.String("size", size.String()),
		slog.String("backing", backing.String()))

	return mo, nil
}

// AllocateConcrete is Allocate for sizes that are already solved.
func (m *Manager) AllocateConcrete(size uint64, isLocal, isGlobal bool, site AllocationSite, alignment uint) (*MemoryObject, error) {
	return m.Allocate(expr.Constant(size), isLocal, isGlobal, site, alignment)
}

// AllocateFixed registers externally placed storage, such as a modeled
// global living at its link-time address, rather than requesting new
// storage. The region is global and fixed; the caller owns the backing
// memory and the manager will never release it.
//
// A fixed region that overlaps any live concrete-size region is a
// modeling defect, not a runtime condition: two independent modeled
// objects would alias and corrupt the model's soundness, so the
// overlap panics. Regions with still-symbolic sizes are skipped in the
// check because overlap with them cannot be decided yet.
func (m *Manager) AllocateFixed(address, size uint64, site AllocationSite) *MemoryObject {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		panic(errors.New("allocateFixed on a destroyed manager"))
	}

	if collision := m.registry.findConcreteOverlap(address, size); collision != nil {
		collisionSize, _ := collision.size.ConcreteValue()
		panic(errors.Newf("fixed allocation [0x%x, 0x%x) overlaps live segment %d at [0x%x, 0x%x)",
			address, address+size, collision.segment, collision.address, collision.address+collisionSize))
	}

	mo := &MemoryObject{
		segment:       m.registry.nextSegment(),
		address:       address,
		size:          expr.Constant(size),
		isGlobal:      true,
		isFixed:       true,
		allocSite:     site,
		backing:       backingFixed,
		parentManager: m,
	}
	m.registry.Insert(mo)
	m.allocationCount++
	memutils.DebugValidate(&m.registry)

	m.logger.Debug("Manager::AllocateFixed",
		slog.Uint64("segment", uint64(mo.segment)),
		slog.Uint64("address", address),
		slog.Uint64("size", size))

	return mo
}

// Free releases mo's backing storage through whichever path produced
// it and removes the record from the registry. Freeing a record that
// is not currently tracked, including one already freed, is a silent
// no-op. Arena-backed regions release nothing here: the deterministic
// arena never reclaims individual slots, only the whole span at
// manager teardown. Fixed regions release nothing because the caller
// owns that memory.
func (m *Manager) Free(mo *MemoryObject) {
	if mo == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.registry.Contains(mo) {
		return
	}

	if !mo.isFixed && mo.backing == backingHost {
		err := m.host.Release(mo.address)
		if err != nil {
			m.logger.Error("failed to release host-backed region",
				slog.Uint64("segment", uint64(mo.segment)),
				slog.Uint64("address", mo.address),
				slog.Any("error", err))
		}
	}

	m.registry.Remove(mo)
	memutils.DebugValidate(&m.registry)
}

// Lookup returns the record currently tracked under the provided
// identity. Holders that outlive a region, such as diagnostics in
// forked execution states, should keep the SegmentID and look the
// record up rather than retaining the pointer.
func (m *Manager) Lookup(id SegmentID) (*MemoryObject, bool) {
	return m.registry.Lookup(id)
}

// LiveRegionCount returns the number of regions currently tracked.
func (m *Manager) LiveRegionCount() int {
	return m.registry.Count()
}

// UsedDeterministicSpace returns the number of bytes consumed so far
// in the deterministic arena, or 0 when deterministic mode is
// disabled.
func (m *Manager) UsedDeterministicSpace() int {
	if m.arena == nil {
		return 0
	}

	return m.arena.Used()
}

// Statistics returns the manager's basic accounting row, including the
// cumulative allocation counter consumed by external statistics
// collectors.
func (m *Manager) Statistics() memutils.Statistics {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stats := memutils.Statistics{AllocationCount: m.allocationCount}
	m.registry.AddStatistics(&stats)
	return stats
}

// AddDetailedStatistics sums this manager's region statistics into the
// statistics currently present in the provided object.
func (m *Manager) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.registry.AddDetailedStatistics(stats)
	stats.AllocationCount += m.allocationCount
}

// CheckCorruption re-verifies the red-zone markers in the
// deterministic arena. It returns nil when deterministic mode is
// disabled or when the build does not carry the debug_mem_utils tag.
func (m *Manager) CheckCorruption() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.arena == nil {
		return nil
	}

	return m.arena.CheckCorruption()
}

func (m *Manager) warnLargeAllocation(site AllocationSite, size uint64) {
	if _, seen := m.largeAllocSites[site]; seen {
		return
	}
	m.largeAllocSites[site] = struct{}{}

	m.logger.Warn("large allocation: the interpreter may run out of memory",
		slog.Uint64("size", size),
		slog.Any("site", site))
}

// Destroy forcibly frees every still-live record, then releases the
// deterministic arena span if one was reserved. Destroy is idempotent;
// no operation other than another Destroy may be called afterwards.
func (m *Manager) Destroy() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil
	}

	leaked := m.registry.Count()
	if leaked > 0 {
		m.logger.Warn("destroying manager with live regions", slog.Int("count", leaked))
		m.registry.forEach(func(mo *MemoryObject) bool {
			m.logger.Debug("unfreed region",
				slog.Uint64("segment", uint64(mo.segment)),
				slog.Uint64("address", mo.address),
				slog.String("size", mo.size.String()))
			return false
		})
	}

	m.registry.Clear()
	if m.host != nil {
		m.host.ReleaseAll()
	}

	if m.arena != nil {
		err := m.arena.Release()
		if err != nil {
			return err
		}
	}

	m.destroyed = true
	return nil
}
