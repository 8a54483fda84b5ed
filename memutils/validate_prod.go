//go:build !debug_mem_utils

package memutils

import "unsafe"

// CorruptionDetection indicates whether magic values are being written
// between allocations in this build. It is true only when the
// debug_mem_utils build tag is present.
const CorruptionDetection = false

// WriteMagicValue writes an easy-to-identify marker across size bytes at the
// provided pointer and offset. This method no-ops unless the debug_mem_utils
// build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int, size int) {
}

// ValidateMagicValue verifies that the easy-to-identify marker written by
// WriteMagicValue is still present across size bytes. It returns true if the
// value is still present and false otherwise. This method no-ops unless the
// debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int, size int) bool {
	return true
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_mem_utils build
// tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of
// two, and panics if it is not. This method no-ops unless the debug_mem_utils
// build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
