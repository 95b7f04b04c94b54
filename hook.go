package hotpatch

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"github.com/puzpuzpuz/xsync/v4"
)

// Target describes a hook: the code at Address is redirected to Replacement.
type Target struct {
	// Name is only used for logging.
	Name string

	// Address is the first byte to overwrite.
	Address uintptr

	// Length is the number of bytes moved into the trampoline. It must cover
	// whole instructions and be at least DetourSize(Convention).
	Length int

	// Replacement is the entry point execution is redirected to.
	Replacement uintptr

	Convention Convention

	// Prepare, if set, receives the trampoline address before the detour is
	// written, so the replacement can't run before it knows the original.
	Prepare func(original uintptr)
}

// Hook is an installed Target.
type Hook struct {
	Target

	original   []byte
	detour     []byte
	trampoline []byte

	live atomic.Bool
}

// maxInstructionLen is the longest x86 instruction. Verification reads this
// far past a hook so it can tell whether the last instruction ends in it.
const maxInstructionLen = 15

// Original returns the entry point of the trampoline. Calling it runs the
// original code at Target.Address as it was before the hook.
func (h *Hook) Original() uintptr {
	return sliceAddr(h.trampoline)
}

// Disassemble renders the replaced bytes, the detour written over them and
// the trampoline.
func (h *Hook) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "original:\n%s", disassemble(h.original, h.Address, ptrSize))
	fmt.Fprintf(&b, "detour:\n%s", disassemble(h.detour, h.Address, ptrSize))
	fmt.Fprintf(&b, "trampoline:\n%s", disassemble(h.trampoline, h.Original(), ptrSize))
	return b.String()
}

// Installer installs hooks and remembers them so a target can't be hooked
// twice.
type Installer struct {
	// Verify decodes the bytes a hook relocates and refuses to install when
	// they can't run from the trampoline.
	Verify bool

	Logger *log.Logger

	arena *arena
	hooks *xsync.Map[uintptr, *Hook]

	// mu serializes installs so the overlap check and the registration are
	// atomic. Lookups don't take it.
	mu sync.Mutex
}

// NewInstaller returns an Installer with verification enabled.
func NewInstaller() *Installer {
	return &Installer{
		Verify: true,
		Logger: &log.DefaultLogger,
		arena:  &arena{},
		hooks:  xsync.NewMap[uintptr, *Hook](),
	}
}

// DefaultInstaller is used by Install.
var DefaultInstaller = NewInstaller()

// Install redirects length bytes at target to replacement and returns the
// address of a trampoline that runs the original code. The target is assumed
// to use the native C calling convention.
func Install(target, replacement uintptr, length int) (uintptr, error) {
	h, err := DefaultInstaller.Install(Target{
		Address:     target,
		Length:      length,
		Replacement: replacement,
		Convention:  ConventionC,
	})
	if err != nil {
		return 0, err
	}
	return h.Original(), nil
}

// Install hooks t. The bytes at t.Address are copied into a trampoline, then
// overwritten with a jump to t.Replacement padded with NOPs to t.Length.
//
// Each address can only be hooked once per process. Installing over an
// existing hook would capture the first detour instead of the original code,
// so it fails with ErrDoubleHook.
func (in *Installer) Install(t Target) (*Hook, error) {
	s, err := in.Stage(t)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(); err != nil {
		s.Discard()
		return nil, fmt.Errorf("unable to write detour at %#x: %w", t.Address, err)
	}
	s.Log()
	return s.Hook(), nil
}

// Staged is a hook with its trampoline built and its detour encoded, waiting
// to be written. The address is reserved: staging an overlapping Target fails
// with ErrDoubleHook until Discard.
type Staged struct {
	in    *Installer
	hook  *Hook
	write *Write
}

// Stage does everything Install does short of writing the detour. All of the
// allocation happens here, so Commit can run with every other thread
// suspended.
func (in *Installer) Stage(t Target) (*Staged, error) {
	if !archSupported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, runtime.GOARCH)
	}
	if t.Address == 0 || t.Replacement == 0 {
		return nil, errors.New("target and replacement addresses are required")
	}
	if size := DetourSize(t.Convention); t.Length < size {
		return nil, fmt.Errorf("%w: %d < %d", ErrPatchTooShort, t.Length, size)
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if other, ok := in.overlapping(t); ok {
		return nil, fmt.Errorf("%w: %#x+%d overlaps %q at %#x+%d", ErrDoubleHook, t.Address, t.Length, other.Name, other.Address, other.Length)
	}

	original := Read(t.Address, t.Length)

	if in.Verify {
		window := Read(t.Address, t.Length+maxInstructionLen)
		if err := verifyRelocatable(window, t.Length, ptrSize, t.Convention); err != nil {
			return nil, err
		}
	}

	trampoline, err := in.arena.buildTrampoline(original, t.Address, t.Convention)
	if err != nil {
		return nil, err
	}

	detour, err := encodeDetour(t.Length, ptrSize, t.Convention, t.Replacement)
	if err != nil {
		return nil, err
	}

	w, err := PrepareWrite(t.Address, detour)
	if err != nil {
		return nil, err
	}

	if t.Prepare != nil {
		t.Prepare(sliceAddr(trampoline))
	}

	h := &Hook{
		Target:     t,
		original:   original,
		detour:     detour,
		trampoline: trampoline,
	}
	in.hooks.Store(t.Address, h)

	return &Staged{in: in, hook: h, write: w}, nil
}

// Hook returns the staged hook. It isn't returned by Lookup or Hooks until
// Commit succeeds.
func (s *Staged) Hook() *Hook {
	return s.hook
}

// Commit writes the detour. It doesn't allocate.
func (s *Staged) Commit() error {
	if s.hook.live.Load() {
		return nil
	}
	if err := s.write.Apply(); err != nil {
		return err
	}
	s.hook.live.Store(true)
	return nil
}

// Discard releases the address of a hook that was never committed. The
// trampoline stays allocated.
func (s *Staged) Discard() {
	if s.hook.live.Load() {
		return
	}
	s.in.mu.Lock()
	defer s.in.mu.Unlock()
	s.in.hooks.Compute(s.hook.Address, func(h *Hook, loaded bool) (*Hook, xsync.ComputeOp) {
		if loaded && h == s.hook {
			return nil, xsync.DeleteOp
		}
		return h, xsync.CancelOp
	})
}

// Log reports the committed hook on the installer's logger.
func (s *Staged) Log() {
	h := s.hook
	s.in.Logger.Info().
		Str("name", h.Name).
		Str("address", fmt.Sprintf("%#x", h.Address)).
		Int("length", h.Length).
		Str("replacement", fmt.Sprintf("%#x", h.Replacement)).
		Str("trampoline", fmt.Sprintf("%#x", h.Original())).
		Stringer("convention", h.Convention).
		Msg("hook installed")
}

func (in *Installer) overlapping(t Target) (*Hook, bool) {
	var found *Hook
	in.hooks.Range(func(addr uintptr, h *Hook) bool {
		if t.Address < addr+uintptr(h.Length) && addr < t.Address+uintptr(t.Length) {
			found = h
			return false
		}
		return true
	})
	return found, found != nil
}

// Lookup returns the hook installed at addr.
func (in *Installer) Lookup(addr uintptr) (*Hook, bool) {
	h, ok := in.hooks.Load(addr)
	if !ok || !h.live.Load() {
		return nil, false
	}
	return h, true
}

// Hooks returns every installed hook ordered by address.
func (in *Installer) Hooks() []*Hook {
	var hooks []*Hook
	in.hooks.Range(func(_ uintptr, h *Hook) bool {
		if h.live.Load() {
			hooks = append(hooks, h)
		}
		return true
	})
	sort.Slice(hooks, func(i, j int) bool {
		return hooks[i].Address < hooks[j].Address
	})
	return hooks
}

// Place copies code into the executable memory used for trampolines and
// returns its address. The memory is never freed.
func (in *Installer) Place(code []byte) (uintptr, error) {
	buf, err := in.arena.place(code)
	if err != nil {
		return 0, err
	}
	return sliceAddr(buf), nil
}
