// Package memspace is the address-space allocator for a symbolic
// virtual machine. It hands out memory regions that model the stack,
// heap, and globals of the interpreted program, tracks which regions
// are live, and serves them either from a deterministic fixed-origin
// arena or by delegating to the host.
package memspace

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/symflow/memspace/expr"
)

// SegmentID is the unique, monotonically assigned number identifying a
// region for its entire tracked lifetime. Identities are never reused,
// even after the region is freed, so a stale handle can never alias a
// newer region.
type SegmentID uint64

// AllocationSite identifies the program location that requested an
// allocation. The manager does not interpret it; it is carried for
// diagnostics and used as the key for once-per-site advisories, so
// values must be comparable.
type AllocationSite any

type backingMode byte

const (
	backingNone backingMode = iota
	backingArena
	backingHost
	backingFixed
)

var backingModeMapping = make(map[backingMode]string)

func (m backingMode) String() string {
	return backingModeMapping[m]
}

func init() {
	backingModeMapping[backingNone] = "backingNone"
	backingModeMapping[backingArena] = "backingArena"
	backingModeMapping[backingHost] = "backingHost"
	backingModeMapping[backingFixed] = "backingFixed"
}

// MemoryObject is one tracked region of the modeled address space. It
// records where the region lives and how it was produced; the bytes
// written into the region belong to per-state object stores, not to
// this module. Records are created only by the Manager's allocate
// operations and destroyed only by Free.
type MemoryObject struct {
	segment SegmentID
	address uint64
	size    expr.Size

	isLocal  bool
	isGlobal bool
	isFixed  bool

	allocSite AllocationSite
	backing   backingMode

	// Diagnostics back-reference only. The registry owns the record.
	parentManager *Manager
}

// Segment returns the region's identity.
func (mo *MemoryObject) Segment() SegmentID { return mo.segment }

// Address returns the base address of the region in the modeled
// address space.
func (mo *MemoryObject) Address() uint64 { return mo.address }

// Size returns the region's size descriptor, which may still be
// symbolic.
func (mo *MemoryObject) Size() expr.Size { return mo.size }

// ConcreteSize returns the region's byte count and true when its size
// descriptor has been solved, or 0 and false otherwise.
func (mo *MemoryObject) ConcreteSize() (uint64, bool) {
	return mo.size.ConcreteValue()
}

// IsLocal reports whether the region models stack-local storage.
func (mo *MemoryObject) IsLocal() bool { return mo.isLocal }

// IsGlobal reports whether the region models global storage.
func (mo *MemoryObject) IsGlobal() bool { return mo.isGlobal }

// IsFixed reports whether the region was registered at a
// caller-supplied address. Fixed regions are never released by the
// manager's own backing-store logic.
func (mo *MemoryObject) IsFixed() bool { return mo.isFixed }

// AllocationSite returns the opaque reference to the program location
// that requested this region.
func (mo *MemoryObject) AllocationSite() AllocationSite { return mo.allocSite }

func (mo *MemoryObject) printParameters(json *jwriter.ObjectState) {
	json.Name("Segment").Int(int(mo.segment))
	json.Name("Address").String(fmt.Sprintf("0x%x", mo.address))

	size, hasConcreteSize := mo.size.ConcreteValue()
	if hasConcreteSize {
		json.Name("Size").Int(int(size))
	} else {
		json.Name("Size").String(mo.size.String())
	}

	json.Name("Local").Bool(mo.isLocal)
	json.Name("Global").Bool(mo.isGlobal)
	json.Name("Fixed").Bool(mo.isFixed)
	json.Name("Backing").String(mo.backing.String())

	if site, ok := mo.allocSite.(fmt.Stringer); ok {
		json.Name("AllocSite").String(site.String())
	}
}
