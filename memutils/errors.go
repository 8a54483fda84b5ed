package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// UnsupportedOperationError is the error returned when a caller reaches an entry point that is deliberately
// outside the supported contract, such as releasing backing memory that was not produced by this module
var UnsupportedOperationError error = errors.New("unsupported operation")
