package memutils

import "math"

// Statistics is the basic accounting row for a memory manager: the
// number of live regions, the live bytes held by concrete-size
// regions, and the cumulative count of successful allocations across
// the manager's lifetime.
type Statistics struct {
	RegionCount     int
	RegionBytes     int
	AllocationCount int
}

func (s *Statistics) Clear() {
	s.RegionCount = 0
	s.RegionBytes = 0
	s.AllocationCount = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.RegionCount += other.RegionCount
	s.RegionBytes += other.RegionBytes
	s.AllocationCount += other.AllocationCount
}

type DetailedStatistics struct {
	Statistics
	SymbolicRegionCount int
	FixedRegionCount    int
	RegionSizeMin       int
	RegionSizeMax       int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.SymbolicRegionCount = 0
	s.FixedRegionCount = 0
	s.RegionSizeMin = math.MaxInt
	s.RegionSizeMax = 0
}

// AddRegion counts a live concrete-size region of the provided size.
func (s *DetailedStatistics) AddRegion(size int) {
	s.RegionCount++
	s.RegionBytes += size

	if size < s.RegionSizeMin {
		s.RegionSizeMin = size
	}

	if size > s.RegionSizeMax {
		s.RegionSizeMax = size
	}
}

// AddSymbolicRegion counts a live region whose size has not been solved
// yet. Symbolic regions contribute no bytes because their footprint is
// unknown.
func (s *DetailedStatistics) AddSymbolicRegion() {
	s.RegionCount++
	s.SymbolicRegionCount++
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.SymbolicRegionCount += other.SymbolicRegionCount
	s.FixedRegionCount += other.FixedRegionCount

	if other.RegionSizeMin < s.RegionSizeMin {
		s.RegionSizeMin = other.RegionSizeMin
	}

	if other.RegionSizeMax > s.RegionSizeMax {
		s.RegionSizeMax = other.RegionSizeMax
	}
}
