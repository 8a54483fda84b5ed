package memspace_test

import (
	"bytes"
	"encoding/json"
	"io"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/symflow/memspace"
	"github.com/symflow/memspace/arena"
	"github.com/symflow/memspace/expr"
	"github.com/symflow/memspace/memutils"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard))
}

func readyManager(t *testing.T, options memspace.CreateOptions) *memspace.Manager {
	m, err := memspace.New(testLogger(), options)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Destroy())
	})
	return m
}

func TestIdentitiesStrictlyIncrease(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	var last memspace.SegmentID
	for i := 0; i < 32; i++ {
		mo, err := m.AllocateConcrete(16, true, false, nil, 0)
		require.NoError(t, err)
		require.Greater(t, mo.Segment(), last)
		last = mo.Segment()

		// Freeing never returns an identity to the pool.
		if i%3 == 0 {
			m.Free(mo)
		}
	}
}

func TestDeterministicRedZoneSeparation(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{
		Deterministic: true,
		ArenaSize:     1024 * 1024,
		RedZoneSize:   16,
		Flags:         memspace.ManagerCreateArenaOriginAny,
	})

	first, err := m.AllocateConcrete(100, true, false, nil, 0)
	require.NoError(t, err)

	second, err := m.AllocateConcrete(50, true, false, nil, 0)
	require.NoError(t, err)

	require.GreaterOrEqual(t, second.Address(), first.Address()+100+16)
	require.GreaterOrEqual(t, m.UsedDeterministicSpace(), 100+16+50)
	require.LessOrEqual(t, m.UsedDeterministicSpace(), 1024*1024)
}

func TestDeterministicAddressesReproducible(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("fixed arena origin assumes an x86-64 address-space layout")
	}

	addresses := func() []uint64 {
		m, err := memspace.New(testLogger(), memspace.CreateOptions{
			Deterministic: true,
			ArenaSize:     1024 * 1024,
		})
		require.NoError(t, err)
		defer func() {
			require.NoError(t, m.Destroy())
		}()

		var out []uint64
		for _, size := range []uint64{100, 50, 1, 4096} {
			mo, allocErr := m.AllocateConcrete(size, true, false, nil, 0)
			require.NoError(t, allocErr)
			out = append(out, mo.Address())
		}
		return out
	}

	require.Equal(t, addresses(), addresses())
}

func TestDeterministicExhaustionIsRecoverable(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{
		Deterministic: true,
		ArenaSize:     8 * 1024,
		Flags:         memspace.ManagerCreateArenaOriginAny,
	})

	_, err := m.AllocateConcrete(64*1024, false, false, nil, 0)
	require.Error(t, err)
	require.Zero(t, m.LiveRegionCount())

	// The arena survives the failed request.
	mo, err := m.AllocateConcrete(128, false, false, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, mo)
}

func TestZeroSizeFailPolicy(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{
		ZeroSizePolicy: memspace.ZeroSizeFail,
	})

	_, err := m.Allocate(expr.Constant(0), false, false, nil, 0)
	require.ErrorIs(t, err, memspace.ZeroSizeError)
	require.Zero(t, m.LiveRegionCount())

	// The failed request consumed no identity.
	mo, err := m.AllocateConcrete(8, false, false, nil, 0)
	require.NoError(t, err)
	require.Equal(t, memspace.SegmentID(1), mo.Segment())
}

func TestZeroSizeServedAsOneByte(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	mo, err := m.Allocate(expr.Constant(0), false, false, nil, 0)
	require.NoError(t, err)
	require.NotZero(t, mo.Address())
}

func TestAlignmentMustBePowerOfTwo(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	_, err := m.AllocateConcrete(100, false, false, nil, 3)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.Zero(t, m.LiveRegionCount())

	mo, err := m.AllocateConcrete(100, false, false, nil, 64)
	require.NoError(t, err)
	require.Zero(t, mo.Address()%64)
}

func TestFixedOverlapIsFatal(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	mo := m.AllocateFixed(1000, 100, nil)
	require.True(t, mo.IsFixed())
	require.True(t, mo.IsGlobal())
	require.Equal(t, uint64(1000), mo.Address())

	require.Panics(t, func() {
		m.AllocateFixed(1050, 100, nil)
	})

	// Adjacent ranges do not alias.
	require.NotPanics(t, func() {
		m.AllocateFixed(1100, 100, nil)
	})
}

func TestFixedOverlapSkipsSymbolicRegions(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	symbolic, err := m.Allocate(expr.Symbolic{Label: "n"}, false, false, nil, 0)
	require.NoError(t, err)

	// Overlap with a symbolic-size region cannot be decided, so the
	// fixed registration is allowed even on top of its address.
	require.NotPanics(t, func() {
		m.AllocateFixed(symbolic.Address(), 16, nil)
	})
}

func TestLargeAllocationAdvisoryOncePerSite(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf))

	m, err := memspace.New(logger, memspace.CreateOptions{})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, m.Destroy())
	}()

	site := "callsite-1"
	for i := 0; i < 3; i++ {
		mo, allocErr := m.AllocateConcrete(10*1024*1024+1, false, false, site, 0)
		require.NoError(t, allocErr)
		m.Free(mo)
	}
	require.Equal(t, 1, strings.Count(buf.String(), "large allocation"))

	mo, err := m.AllocateConcrete(10*1024*1024+1, false, false, "callsite-2", 0)
	require.NoError(t, err)
	m.Free(mo)
	require.Equal(t, 2, strings.Count(buf.String(), "large allocation"))
}

func TestFreeIsIdempotent(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	mo, err := m.AllocateConcrete(32, false, false, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 1, m.LiveRegionCount())

	m.Free(mo)
	require.Zero(t, m.LiveRegionCount())

	require.NotPanics(t, func() {
		m.Free(mo)
		m.Free(nil)
	})
	require.Zero(t, m.LiveRegionCount())
}

func TestFreeIgnoresForeignRecords(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})
	other := readyManager(t, memspace.CreateOptions{})

	mo, err := other.AllocateConcrete(32, false, false, nil, 0)
	require.NoError(t, err)

	m.Free(mo)
	require.Equal(t, 1, other.LiveRegionCount())
}

func TestLookupBySegment(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	mo, err := m.AllocateConcrete(32, true, false, nil, 0)
	require.NoError(t, err)

	found, ok := m.Lookup(mo.Segment())
	require.True(t, ok)
	require.Same(t, mo, found)

	m.Free(mo)
	_, ok = m.Lookup(mo.Segment())
	require.False(t, ok)
}

func TestStatistics(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	first, err := m.AllocateConcrete(100, false, false, nil, 0)
	require.NoError(t, err)
	_, err = m.AllocateConcrete(50, false, false, nil, 0)
	require.NoError(t, err)
	_, err = m.Allocate(expr.Symbolic{Label: "n"}, false, false, nil, 0)
	require.NoError(t, err)
	m.AllocateFixed(0x1000, 16, nil)

	stats := m.Statistics()
	require.Equal(t, 4, stats.AllocationCount)
	require.Equal(t, 4, stats.RegionCount)
	require.Equal(t, 166, stats.RegionBytes)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	m.AddDetailedStatistics(&detailed)
	require.Equal(t, 1, detailed.SymbolicRegionCount)
	require.Equal(t, 1, detailed.FixedRegionCount)
	require.Equal(t, 16, detailed.RegionSizeMin)
	require.Equal(t, 100, detailed.RegionSizeMax)

	// The allocation counter is cumulative; freeing only shrinks the
	// live set.
	m.Free(first)
	stats = m.Statistics()
	require.Equal(t, 4, stats.AllocationCount)
	require.Equal(t, 3, stats.RegionCount)
}

func TestNarrowPointerWidth(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("narrow mappings are only confined on x86-64")
	}

	m := readyManager(t, memspace.CreateOptions{PointerWidth: 32})

	mo, err := m.AllocateConcrete(4096, false, false, nil, 0)
	require.NoError(t, err)
	require.Less(t, mo.Address(), uint64(1)<<32)
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "0", memspace.CreateFlags(0).String())
	require.Equal(t, "ManagerCreateSynchronized", memspace.ManagerCreateSynchronized.String())

	// Combined flags render lowest bit first, independent of how the
	// name table is stored.
	combined := memspace.ManagerCreateSynchronized | memspace.ManagerCreateArenaOriginAny
	require.Equal(t, "ManagerCreateSynchronized|ManagerCreateArenaOriginAny", combined.String())
}

func TestRejectsBadPointerWidth(t *testing.T) {
	_, err := memspace.New(testLogger(), memspace.CreateOptions{PointerWidth: 16})
	require.Error(t, err)
	require.NotErrorIs(t, err, arena.ReserveError)
}

func TestNewFailsWhenArenaOriginUnavailable(t *testing.T) {
	blocker, err := arena.Reserve(testLogger(), arena.Config{
		Size:        4096,
		RedZoneSize: 10,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, blocker.Release())
	}()

	_, err = memspace.New(testLogger(), memspace.CreateOptions{
		Deterministic: true,
		ArenaSize:     4096,
		ArenaOrigin:   blocker.Base(),
	})
	require.ErrorIs(t, err, arena.ReserveError)
}

func TestDumpJson(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})

	_, err := m.AllocateConcrete(100, true, false, nil, 0)
	require.NoError(t, err)
	_, err = m.Allocate(expr.Symbolic{Label: "len"}, false, true, nil, 0)
	require.NoError(t, err)

	data, err := m.DumpJson()
	require.NoError(t, err)

	var dump struct {
		Deterministic bool
		PointerWidth  int
		Total         struct {
			RegionCount     int
			AllocationCount int
		}
		Regions []map[string]any
	}
	require.NoError(t, json.Unmarshal(data, &dump))

	require.False(t, dump.Deterministic)
	require.Equal(t, 64, dump.PointerWidth)
	require.Equal(t, 2, dump.Total.RegionCount)
	require.Equal(t, 2, dump.Total.AllocationCount)
	require.Len(t, dump.Regions, 2)
	require.Equal(t, float64(1), dump.Regions[0]["Segment"])
	require.Equal(t, "len", dump.Regions[1]["Size"])
}

func TestDestroyForceFreesLiveRegions(t *testing.T) {
	m, err := memspace.New(testLogger(), memspace.CreateOptions{})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, allocErr := m.AllocateConcrete(64, false, false, nil, 0)
		require.NoError(t, allocErr)
	}
	require.Equal(t, 8, m.LiveRegionCount())

	require.NoError(t, m.Destroy())
	require.Zero(t, m.LiveRegionCount())

	// Destroy is idempotent; a destroyed manager refuses new work.
	require.NoError(t, m.Destroy())
	_, err = m.AllocateConcrete(64, false, false, nil, 0)
	require.Error(t, err)
}

func TestUsedDeterministicSpaceDisabled(t *testing.T) {
	m := readyManager(t, memspace.CreateOptions{})
	require.Zero(t, m.UsedDeterministicSpace())
}
