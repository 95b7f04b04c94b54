package agent

import (
	"errors"
	"fmt"

	"github.com/pboyd/hotpatch"
	"github.com/pboyd/hotpatch/internal/module"
)

// step is one change to the host's code, prepared and waiting to be written.
type step struct {
	name string
	kind string

	// commit writes the change. It runs with every other thread suspended
	// and must not allocate.
	commit func() error
	// finish runs once threads are resumed, with the result of commit.
	finish func(err error)
}

// plan resolves every hook and patch of the configuration to an absolute
// address, prepares its replacement and stages it. Nothing is written yet.
// Hooks and patches that fail to stage are logged and skipped, except when
// executable memory ran out.
func (a *Agent) plan(mod module.Module, reference uintptr) ([]step, error) {
	var steps []step

	skip := func(kind, name string, err error) error {
		a.metrics.Install(kind, err)
		if errors.Is(err, hotpatch.ErrTrampolineAlloc) {
			return fmt.Errorf("%s %s: %w", kind, name, err)
		}
		a.logger.Error().Err(err).Str("kind", kind).Str("name", name).Msg("install failed, skipping")
		return nil
	}

	for _, hc := range a.cfg.Hooks {
		conv, err := hotpatch.ParseConvention(hc.Convention)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", hc.Name, err)
		}

		site := Site{
			Name:        hc.Name,
			Address:     hc.Address.Rebase(reference, mod.Base),
			Convention:  conv,
			FieldOffset: uintptr(hc.FieldOffset),
		}
		if hc.Context != 0 {
			site.Context = hc.Context.Rebase(reference, mod.Base)
		}
		if !mod.Contains(site.Address) {
			return nil, fmt.Errorf("hook %s: address %#x is outside %s", hc.Name, site.Address, mod)
		}

		factory, ok := a.binding(hc.Binding)
		if !ok {
			return nil, fmt.Errorf("hook %s: unknown binding %q", hc.Name, hc.Binding)
		}
		b, err := factory(a, site)
		if err != nil {
			return nil, fmt.Errorf("hook %s: binding %s: %w", hc.Name, hc.Binding, err)
		}

		target := hotpatch.Target{
			Name:        hc.Name,
			Address:     site.Address,
			Length:      hc.Length,
			Replacement: b.Replacement(),
			Convention:  conv,
			Prepare:     b.Bind,
		}
		staged, err := a.installer.Stage(target)
		if err != nil {
			if err := skip("hook", hc.Name, err); err != nil {
				return nil, err
			}
			continue
		}
		steps = append(steps, step{
			name:   hc.Name,
			kind:   "hook",
			commit: staged.Commit,
			finish: func(err error) {
				if err != nil {
					staged.Discard()
					return
				}
				staged.Log()
			},
		})
	}

	for _, pc := range a.cfg.Patches {
		buf, err := pc.Decode()
		if err != nil {
			return nil, fmt.Errorf("patch %s: %w", pc.Name, err)
		}
		addr := pc.Address.Rebase(reference, mod.Base)
		if !mod.Contains(addr) || !mod.Contains(addr+uintptr(len(buf))-1) {
			return nil, fmt.Errorf("patch %s: address %#x+%d is outside %s", pc.Name, addr, len(buf), mod)
		}

		w, err := hotpatch.PrepareWrite(addr, buf)
		if err != nil {
			if err := skip("patch", pc.Name, err); err != nil {
				return nil, err
			}
			continue
		}
		steps = append(steps, step{
			name:   pc.Name,
			kind:   "patch",
			commit: w.Apply,
			finish: func(err error) {
				if err == nil {
					a.logger.Info().Str("name", pc.Name).Str("address", fmt.Sprintf("%#x", addr)).Int("length", len(buf)).Msg("patch applied")
				}
			},
		})
	}

	return steps, nil
}

// apply commits steps, with every other thread suspended when configured
// to. A step that fails to commit is logged and skipped once threads are
// resumed.
func (a *Agent) apply(steps []step) error {
	errs := make([]error, len(steps))
	batch := func() error {
		for i := range steps {
			errs[i] = steps[i].commit()
		}
		return nil
	}

	var err error
	if !a.cfg.Agent.Suspend {
		err = batch()
	} else {
		err = a.quiescer().Do(batch)
	}

	for i, s := range steps {
		a.metrics.Install(s.kind, errs[i])
		if errs[i] != nil {
			a.logger.Error().Err(errs[i]).Str("kind", s.kind).Str("name", s.name).Msg("install failed, skipping")
		}
		s.finish(errs[i])
	}
	return err
}

func (a *Agent) quiescer() *hotpatch.Quiescer {
	return &hotpatch.Quiescer{
		Threads: a.threads,
		Logger:  a.logger,
		Exit:    a.exit,
		Suspended: func(n int) {
			if a.metrics != nil {
				a.metrics.ThreadsSuspended.Set(float64(n))
			}
		},
	}
}
