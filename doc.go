// Patch machine code in a running process
//
// Package hotpatch installs inline hooks at arbitrary executable addresses in
// the current process. A hook overwrites the first bytes of the target with an
// absolute jump to replacement code and keeps the overwritten bytes in a
// trampoline, so the replacement can still run the original routine.
//
// The caller decides how many bytes to relocate. The package decodes them only
// to refuse lengths that would split an instruction or move position-dependent
// code; it never picks a boundary by itself.
//
// Limitations:
//   - Only amd64 and 386
//   - Hooks are permanent. Trampolines are never freed.
//   - Installing while other threads run through the target is unsafe. Use
//     Quiescer to bracket a batch of installs.
package hotpatch
