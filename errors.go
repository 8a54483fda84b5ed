package memspace

import "github.com/pkg/errors"

// ZeroSizeError is the error returned from Allocate when the requested
// size is concretely zero and the manager was configured with
// ZeroSizeFail. It models a host allocator that signals inability to
// serve empty requests.
var ZeroSizeError error = errors.New("zero-size allocation refused")
