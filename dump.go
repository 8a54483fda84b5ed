package memspace

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/symflow/memspace/memutils"
)

// BuildStatsJson writes the manager's configuration, totals, and live
// region table into the provided writer. The output is ordered by
// segment identity so dumps from deterministic runs diff cleanly.
func (m *Manager) BuildStatsJson(writer *jwriter.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("Deterministic").Bool(m.arena != nil)
	obj.Name("PointerWidth").Int(m.pointerWidth)
	obj.Name("ZeroSizePolicy").String(m.zeroSizePolicy.String())

	var stats memutils.DetailedStatistics
	stats.Clear()
	m.registry.AddDetailedStatistics(&stats)
	stats.AllocationCount = m.allocationCount

	statsObj := obj.Name("Total").Object()
	statsObj.Name("RegionCount").Int(stats.RegionCount)
	statsObj.Name("RegionBytes").Int(stats.RegionBytes)
	statsObj.Name("AllocationCount").Int(stats.AllocationCount)
	statsObj.Name("SymbolicRegionCount").Int(stats.SymbolicRegionCount)
	statsObj.Name("FixedRegionCount").Int(stats.FixedRegionCount)
	if stats.RegionCount > stats.SymbolicRegionCount {
		statsObj.Name("RegionSizeMin").Int(stats.RegionSizeMin)
		statsObj.Name("RegionSizeMax").Int(stats.RegionSizeMax)
	}
	statsObj.End()

	if m.arena != nil {
		arenaObj := obj.Name("Arena").Object()
		arenaObj.Name("Base").String(fmt.Sprintf("0x%x", m.arena.Base()))
		arenaObj.Name("Reserved").Int(m.arena.Size())
		arenaObj.Name("Used").Int(m.arena.Used())
		arenaObj.End()
	}

	m.registry.BuildStatsJson(&obj)
}

// DumpJson returns BuildStatsJson output as a byte slice.
func (m *Manager) DumpJson() ([]byte, error) {
	writer := jwriter.NewWriter()
	m.BuildStatsJson(&writer)

	if err := writer.Error(); err != nil {
		return nil, err
	}

	return writer.Bytes(), nil
}
