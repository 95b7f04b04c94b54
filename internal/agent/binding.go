package agent

import (
	"fmt"
	"sync"

	"github.com/pboyd/hotpatch"
	"github.com/pboyd/hotpatch/internal/config"
)

// Site is a hook target with its addresses rebased into the running process.
type Site struct {
	Name       string
	Address    uintptr
	Convention hotpatch.Convention

	// FieldOffset locates a field the binding touches, relative to the first
	// argument or to the structure Context returns.
	FieldOffset uintptr

	// Context is a native function returning the structure holding the
	// field, or 0.
	Context uintptr
}

// Binding is the replacement logic of a hook.
type Binding interface {
	// Replacement is the entry point the hook jumps to.
	Replacement() uintptr

	// Bind receives the trampoline that runs the original code. It is called
	// before the hook is live.
	Bind(original uintptr)
}

// Factory builds a Binding for a site. It runs before any thread is
// suspended.
type Factory func(a *Agent, site Site) (Binding, error)

var (
	bindingsMu sync.RWMutex
	bindings   = map[string]Factory{}
)

// RegisterBinding makes a binding available to every agent by name. It panics
// if the name is taken.
func RegisterBinding(name string, f Factory) {
	bindingsMu.Lock()
	defer bindingsMu.Unlock()

	if _, dup := bindings[name]; dup {
		panic(fmt.Sprintf("agent: binding %q registered twice", name))
	}
	bindings[name] = f
}

func (a *Agent) binding(name string) (Factory, bool) {
	if f, ok := a.bindings[name]; ok {
		return f, true
	}

	bindingsMu.RLock()
	defer bindingsMu.RUnlock()
	f, ok := bindings[name]
	return f, ok
}

// OverrideFOV maps the host's stock field of view values to the configured
// ones. Other values are returned as is.
func OverrideFOV(current float32, v config.Values) float32 {
	switch current {
	case 60:
		return float32(v.FieldOfView)
	case 66:
		return float32(v.CenterFieldOfView)
	case 80:
		return float32(v.SprintFieldOfView)
	default:
		return current
	}
}

// withFieldOfView overrides *fov while call runs.
func (a *Agent) withFieldOfView(fov *float32, call func()) {
	saved := *fov
	*fov = OverrideFOV(saved, a.shared.Snapshot())
	call()
	*fov = saved
}

// pacedTick paces the frame unless the host's own limiter switch is off, then
// runs call with the switch off so the host doesn't limit a second time. A nil
// toggle means there is no switch.
func (a *Agent) pacedTick(toggle *byte, call func()) {
	if toggle == nil {
		a.Tick()
		call()
		return
	}

	saved := *toggle
	if saved != 0 {
		a.Tick()
	}
	*toggle = 0
	call()
	*toggle = saved
}
