package memspace

import (
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/symflow/memspace/internal/utils"
	"github.com/symflow/memspace/memutils"
	"golang.org/x/exp/slices"
)

// registry is the manager's live set of memory regions, keyed by
// segment identity. External holders keep the copyable SegmentID and
// look records up rather than owning references, so freeing a record
// elsewhere can never dangle.
type registry struct {
	mutex utils.OptionalRWMutex

	objects     *swiss.Map[SegmentID, *MemoryObject]
	lastSegment SegmentID
}

func (r *registry) Init(useMutex bool) {
	r.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
	r.objects = swiss.NewMap[SegmentID, *MemoryObject](64)
}

// nextSegment issues the next identity. Identities are strictly
// increasing across the manager's lifetime and never reused.
func (r *registry) nextSegment() SegmentID {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.lastSegment++
	return r.lastSegment
}

func (r *registry) Insert(mo *MemoryObject) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.objects.Put(mo.segment, mo)
}

// Contains reports whether mo is the record currently tracked under its
// segment identity.
func (r *registry) Contains(mo *MemoryObject) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tracked, ok := r.objects.Get(mo.segment)
	return ok && tracked == mo
}

// Remove untracks mo and reports whether it was tracked.
func (r *registry) Remove(mo *MemoryObject) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tracked, ok := r.objects.Get(mo.segment)
	if !ok || tracked != mo {
		return false
	}

	r.objects.Delete(mo.segment)
	return true
}

func (r *registry) Lookup(id SegmentID) (*MemoryObject, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.objects.Get(id)
}

func (r *registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.objects.Count()
}

func (r *registry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.objects = swiss.NewMap[SegmentID, *MemoryObject](64)
}

// forEach visits every live record. The callback returns true to stop.
func (r *registry) forEach(visit func(mo *MemoryObject) bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	r.objects.Iter(func(id SegmentID, mo *MemoryObject) bool {
		return visit(mo)
	})
}

// findConcreteOverlap scans the live set for a record whose concrete
// size range intersects [address, address+size). Records whose size is
// still symbolic are skipped because their footprint cannot be decided
// yet; so are empty ranges on either side.
func (r *registry) findConcreteOverlap(address, size uint64) *MemoryObject {
	if size == 0 {
		return nil
	}

	var collision *MemoryObject
	r.forEach(func(mo *MemoryObject) bool {
		moSize, hasConcreteSize := mo.size.ConcreteValue()
		if !hasConcreteSize || moSize == 0 {
			return false
		}

		if address < mo.address+moSize && mo.address < address+size {
			collision = mo
			return true
		}

		return false
	})

	return collision
}

// Validate performs internal consistency checks on the registry. These
// are expensive and meant for debug validation call sites.
func (r *registry) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var regions []*MemoryObject
	var failure error
	r.objects.Iter(func(id SegmentID, mo *MemoryObject) bool {
		if mo == nil {
			failure = errors.Errorf("segment %d is tracked with a nil record", id)
			return true
		}

		if mo.segment != id {
			failure = errors.Errorf("record with segment %d is tracked under identity %d", mo.segment, id)
			return true
		}

		if mo.segment > r.lastSegment {
			failure = errors.Errorf("segment %d is tracked but exceeds the last issued identity %d", mo.segment, r.lastSegment)
			return true
		}

		if mo.address == 0 {
			failure = errors.Errorf("segment %d is tracked with no backing address", mo.segment)
			return true
		}

		size, hasConcreteSize := mo.size.ConcreteValue()
		if hasConcreteSize && size > 0 {
			regions = append(regions, mo)
		}

		return false
	})
	if failure != nil {
		return failure
	}

	slices.SortFunc(regions, func(a, b *MemoryObject) bool {
		return a.address < b.address
	})

	for i := 1; i < len(regions); i++ {
		prev, cur := regions[i-1], regions[i]
		prevSize, _ := prev.size.ConcreteValue()
		if cur.address < prev.address+prevSize {
			return errors.Errorf("live segments %d and %d overlap: [0x%x, 0x%x) and [0x%x, ...)",
				prev.segment, cur.segment, prev.address, prev.address+prevSize, cur.address)
		}
	}

	return nil
}

func (r *registry) AddStatistics(stats *memutils.Statistics) {
	r.forEach(func(mo *MemoryObject) bool {
		stats.RegionCount++

		size, hasConcreteSize := mo.size.ConcreteValue()
		if hasConcreteSize {
			stats.RegionBytes += int(size)
		}

		return false
	})
}

func (r *registry) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	r.forEach(func(mo *MemoryObject) bool {
		size, hasConcreteSize := mo.size.ConcreteValue()
		if hasConcreteSize {
			stats.AddRegion(int(size))
		} else {
			stats.AddSymbolicRegion()
		}

		if mo.isFixed {
			stats.FixedRegionCount++
		}

		return false
	})
}

// BuildStatsJson writes the live region table, ordered by identity,
// into the provided json object.
func (r *registry) BuildStatsJson(json *jwriter.ObjectState) {
	var regions []*MemoryObject
	r.forEach(func(mo *MemoryObject) bool {
		regions = append(regions, mo)
		return false
	})

	slices.SortFunc(regions, func(a, b *MemoryObject) bool {
		return a.segment < b.segment
	})

	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	for _, mo := range regions {
		obj := arrayState.Object()
		mo.printParameters(&obj)
		obj.End()
	}
}
