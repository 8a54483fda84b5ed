//go:build debug_mem_utils

package arena_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/symflow/memspace/arena"
)

func TestCheckCorruptionDetectsOverwrite(t *testing.T) {
	a := reserveArena(t, arena.Config{
		Size:        4096,
		RedZoneSize: 16,
	})

	first, err := a.Carve(100, 1)
	require.NoError(t, err)
	_, err = a.Carve(50, 1)
	require.NoError(t, err)

	require.NoError(t, a.CheckCorruption())

	// A one-past-the-end write lands in the red zone behind the first
	// region.
	*(*byte)(unsafe.Pointer(uintptr(first + 100))) ^= 0xff
	require.Error(t, a.CheckCorruption())
}

func TestCheckCorruptionSurvivesInBandWrites(t *testing.T) {
	a := reserveArena(t, arena.Config{
		Size:        4096,
		RedZoneSize: 16,
	})

	address, err := a.Carve(100, 1)
	require.NoError(t, err)

	for offset := uint64(0); offset < 100; offset++ {
		*(*byte)(unsafe.Pointer(uintptr(address + offset))) = 0xaa
	}

	require.NoError(t, a.CheckCorruption())
}
