package mapping

import "golang.org/x/sys/unix"

// MAP_32BIT keeps the mapping below the 4GiB boundary, which matches
// the addressable range of a 32-bit modeled pointer width.
const narrowMapFlag = unix.MAP_32BIT

// NarrowSupported reports whether narrow mappings are actually confined
// to the 32-bit range on this platform.
const NarrowSupported = true
