//go:build windows && (386 || amd64)

package agent

import (
	"sync/atomic"
	"unsafe"
)

func init() {
	RegisterBinding("tick", newTickBinding)
	RegisterBinding("fov", newFOVBinding)
}

// tickBinding replaces the host's per-frame function, taking only the object
// pointer, and paces it.
type tickBinding struct {
	agent    *Agent
	site     Site
	entry    uintptr
	original atomic.Uintptr
}

func newTickBinding(a *Agent, site Site) (Binding, error) {
	b := &tickBinding{agent: a, site: site}
	entry, err := a.native.export(b.call, 0)
	if err != nil {
		return nil, err
	}
	b.entry = entry
	return b, nil
}

func (b *tickBinding) Replacement() uintptr {
	return b.entry
}

func (b *tickBinding) Bind(original uintptr) {
	b.original.Store(original)
}

func (b *tickBinding) call(this uintptr) uintptr {
	var toggle *byte
	if b.site.FieldOffset != 0 {
		base := this
		if b.site.Context != 0 {
			base = b.agent.native.cdecl(b.site.Context)
		}
		if base != 0 {
			toggle = (*byte)(unsafe.Pointer(base + b.site.FieldOffset))
		}
	}

	b.agent.pacedTick(toggle, func() {
		b.agent.native.thiscall(b.original.Load(), this)
	})
	return 0
}

// fovBinding replaces a method taking one argument that reads the field of
// view from its object at FieldOffset.
type fovBinding struct {
	agent    *Agent
	site     Site
	entry    uintptr
	original atomic.Uintptr
}

func newFOVBinding(a *Agent, site Site) (Binding, error) {
	b := &fovBinding{agent: a, site: site}
	entry, err := a.native.export(b.call, 1)
	if err != nil {
		return nil, err
	}
	b.entry = entry
	return b, nil
}

func (b *fovBinding) Replacement() uintptr {
	return b.entry
}

func (b *fovBinding) Bind(original uintptr) {
	b.original.Store(original)
}

func (b *fovBinding) call(this, arg uintptr) uintptr {
	fov := (*float32)(unsafe.Pointer(this + b.site.FieldOffset))
	b.agent.withFieldOfView(fov, func() {
		b.agent.native.thiscall(b.original.Load(), this, arg)
	})
	return 0
}
