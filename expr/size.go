// Package expr carries the size descriptors consumed by the memspace
// manager. A region's size is either a solved constant or a symbolic
// expression whose value has not been constrained yet; the manager
// never solves expressions itself, it only needs to know whether a
// concrete byte count is available.
package expr

import "strconv"

// Size describes the size of a modeled memory region.
type Size interface {
	// ConcreteValue returns the byte count and true when the size is a
	// solved constant, or 0 and false when the size is still symbolic.
	ConcreteValue() (uint64, bool)
	String() string
}

// Constant is a size that has been solved to a concrete byte count.
type Constant uint64

func (c Constant) ConcreteValue() (uint64, bool) {
	return uint64(c), true
}

func (c Constant) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Symbolic is a size that depends on unconstrained symbolic state. The
// label is an opaque name carried for diagnostics; the expression
// itself lives in the solver layer.
type Symbolic struct {
	Label string
}

func (s Symbolic) ConcreteValue() (uint64, bool) {
	return 0, false
}

func (s Symbolic) String() string {
	if s.Label == "" {
		return "(symbolic)"
	}
	return s.Label
}
