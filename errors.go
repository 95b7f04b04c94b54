package hotpatch

import "errors"

var (
	// ErrDoubleHook means the target, or part of it, is already hooked.
	ErrDoubleHook = errors.New("double hook")
	// ErrPatchTooShort means the relocated length can't hold the detour.
	ErrPatchTooShort = errors.New("patch length shorter than detour")
	// ErrUnsupportedArch means the detour can't be encoded for GOARCH.
	ErrUnsupportedArch = errors.New("unsupported architecture")
	// ErrRelativeInstruction means the relocated bytes contain a relative
	// branch or a RIP-relative operand that would break once moved.
	ErrRelativeInstruction = errors.New("relative address in instruction")
	// ErrSplitInstruction means the relocated length ends inside an instruction.
	ErrSplitInstruction = errors.New("patch length splits an instruction")
	// ErrDecode means the relocated bytes could not be decoded.
	ErrDecode = errors.New("decode error")
	// ErrTrampolineAlloc means executable memory for a trampoline could not be
	// allocated.
	ErrTrampolineAlloc = errors.New("trampoline allocation failed")
	// ErrSuspendUnsupported means the platform can't suspend a single thread
	// of the current process.
	ErrSuspendUnsupported = errors.New("thread suspension not supported")
)

// ErrScratchRegister means a relocated instruction writes the register the
// trampoline uses to jump back.
var ErrScratchRegister = errors.New("relocated instruction writes scratch register")
