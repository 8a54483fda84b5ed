package arena

import "github.com/pkg/errors"

// ExhaustedError is the error returned from Carve when the requested
// region does not fit in the remaining reserved span. It is a
// recoverable allocation failure: the arena is left unchanged.
var ExhaustedError error = errors.New("not enough deterministic space left")

// ReserveError is the error returned from Reserve when the span cannot
// be mapped, or cannot be mapped at a required nonzero origin. It is a
// fatal configuration failure: no arena exists afterwards.
var ReserveError error = errors.New("could not reserve the deterministic arena")
