//go:build linux && !amd64

package mapping

// MAP_32BIT is an x86-64-only flag; on other architectures narrow
// requests degrade to ordinary mappings.
const narrowMapFlag = 0

// NarrowSupported reports whether narrow mappings are actually confined
// to the 32-bit range on this platform.
const NarrowSupported = false
