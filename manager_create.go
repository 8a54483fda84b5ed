package memspace

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/symflow/memspace/arena"
	"github.com/symflow/memspace/hostmem"
	"github.com/symflow/memspace/internal/utils"
	"github.com/symflow/memspace/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific manager behaviors to activate or
// deactivate
type CreateFlags int32

const (
	// ManagerCreateSynchronized makes the manager safe to call from
	// multiple goroutines by engaging internal mutexes. The manager is
	// externally synchronized by default, since it is designed for use
	// by a single interpreter instance.
	ManagerCreateSynchronized CreateFlags = 1 << iota
	// ManagerCreateArenaOriginAny lets the host place the deterministic
	// arena wherever it likes instead of demanding the configured
	// origin. Addresses remain stable for the lifetime of the manager
	// but are no longer reproducible across runs.
	ManagerCreateArenaOriginAny
)

var createFlagsMapping = map[CreateFlags]string{
	ManagerCreateSynchronized:   "ManagerCreateSynchronized",
	ManagerCreateArenaOriginAny: "ManagerCreateArenaOriginAny",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "0"
	}

	var sb strings.Builder
	for flag := CreateFlags(1); flag != 0 && flag <= f; flag <<= 1 {
		name, ok := createFlagsMapping[flag]
		if f&flag == 0 || !ok {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("|")
		}
		sb.WriteString(name)
	}

	return sb.String()
}

// ZeroSizePolicy selects how Allocate treats a request whose size is
// concretely zero.
type ZeroSizePolicy byte

const (
	// ZeroSizeAsOneByte serves zero-size requests as one-byte regions,
	// so every allocation still occupies guarded space.
	ZeroSizeAsOneByte ZeroSizePolicy = iota
	// ZeroSizeFail refuses zero-size requests with ZeroSizeError.
	ZeroSizeFail
)

var zeroSizePolicyMapping = make(map[ZeroSizePolicy]string)

func (p ZeroSizePolicy) String() string {
	return zeroSizePolicyMapping[p]
}

func init() {
	zeroSizePolicyMapping[ZeroSizeAsOneByte] = "ZeroSizeAsOneByte"
	zeroSizePolicyMapping[ZeroSizeFail] = "ZeroSizeFail"
}

const (
	// DefaultArenaSize is the reservation used when CreateOptions does
	// not provide one. It is equal to 100MiB.
	DefaultArenaSize int = 100 * 1024 * 1024
	// DefaultArenaOrigin is the page-aligned base address requested for
	// the deterministic arena when CreateOptions does not provide one.
	DefaultArenaOrigin uint64 = 0x7ff30000000
	// DefaultRedZoneSize is the number of padding bytes placed between
	// consecutive deterministic allocations when CreateOptions does not
	// provide one.
	DefaultRedZoneSize int = 10

	defaultPointerWidth int  = 64
	defaultAlignment    uint = 8

	// largeAllocationThreshold is the concrete size above which an
	// advisory is logged once per allocation site. It is equal to
	// 10MiB.
	largeAllocationThreshold uint64 = 10 * 1024 * 1024
)

// CreateOptions contains the manager's configuration. It is fixed at
// construction; there is no process-wide mutable state.
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or
	// deactivate
	Flags CreateFlags

	// Deterministic enables the fixed-origin arena so that repeated
	// runs on the same input observe identical addresses. When false,
	// allocations delegate to the host instead.
	Deterministic bool
	// ArenaSize is the number of bytes reserved for the deterministic
	// arena. Zero means DefaultArenaSize.
	ArenaSize int
	// ArenaOrigin is the base address the deterministic arena must be
	// placed at. Zero means DefaultArenaOrigin unless
	// ManagerCreateArenaOriginAny is set.
	ArenaOrigin uint64
	// RedZoneSize is the number of padding bytes carved between
	// consecutive deterministic allocations. Zero means
	// DefaultRedZoneSize.
	RedZoneSize int

	// PointerWidth is the modeled pointer width in bits, 32 or 64.
	// Zero means 64. A width of 32 confines all issued addresses to the
	// 32-bit-addressable range.
	PointerWidth int
	// ZeroSizePolicy selects how concretely-zero-size requests are
	// treated. The default is ZeroSizeAsOneByte.
	ZeroSizePolicy ZeroSizePolicy
	// DefaultAlignment is applied when Allocate is called with
	// alignment 0. Zero means 8. Must be a power of two.
	DefaultAlignment uint
}

// New creates a Manager from the provided options. In deterministic
// mode the arena span is reserved here, once; a reservation that cannot
// be honored at the required origin is returned as an error, because
// determinism guarantees cannot be partially honored.
func New(logger *slog.Logger, options CreateOptions) (*Manager, error) {
	if options.ArenaSize == 0 {
		options.ArenaSize = DefaultArenaSize
	}
	if options.RedZoneSize == 0 {
		options.RedZoneSize = DefaultRedZoneSize
	}
	if options.PointerWidth == 0 {
		options.PointerWidth = defaultPointerWidth
	}
	if options.DefaultAlignment == 0 {
		options.DefaultAlignment = defaultAlignment
	}

	if options.PointerWidth != 32 && options.PointerWidth != 64 {
		return nil, errors.Newf("modeled pointer width must be 32 or 64, not %d", options.PointerWidth)
	}

	err := memutils.CheckPow2(options.DefaultAlignment, "options.DefaultAlignment")
	if err != nil {
		return nil, err
	}

	useMutex := options.Flags&ManagerCreateSynchronized != 0
	narrow := options.PointerWidth == 32

	m := &Manager{
		logger:           logger,
		mutex:            utils.OptionalMutex{UseMutex: useMutex},
		pointerWidth:     options.PointerWidth,
		zeroSizePolicy:   options.ZeroSizePolicy,
		defaultAlignment: options.DefaultAlignment,
		largeAllocSites:  make(map[AllocationSite]struct{}),
	}
	m.registry.Init(useMutex)

	if options.Deterministic {
		origin := options.ArenaOrigin
		if options.Flags&ManagerCreateArenaOriginAny != 0 {
			origin = 0
		} else if origin == 0 {
			origin = DefaultArenaOrigin
		}

		m.arena, err = arena.Reserve(logger, arena.Config{
			Size:        options.ArenaSize,
			Origin:      origin,
			RedZoneSize: options.RedZoneSize,
			Narrow:      narrow,
		})
		if err != nil {
			return nil, err
		}
	} else {
		m.host = hostmem.New(logger, narrow)
	}

	return m, nil
}
