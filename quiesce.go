package hotpatch

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/phuslu/log"
)

// ThreadSource enumerates, suspends and resumes the threads of the current
// process.
type ThreadSource interface {
	// Threads returns the ID of every thread in the process.
	Threads() ([]uint32, error)
	// Current returns the ID of the calling thread.
	Current() uint32
	Suspend(id uint32) error
	Resume(id uint32) error
}

// Quiescer runs a batch of patches while every other thread of the process is
// suspended, so no thread can execute a half-written instruction.
type Quiescer struct {
	Threads ThreadSource
	Logger  *log.Logger

	// Exit terminates the process. It is called when a suspended thread
	// can't be resumed, since the process can't recover from that.
	Exit func(code int)

	// Suspended, if set, is called with the number of suspended threads
	// before the batch runs.
	Suspended func(n int)
}

// NewQuiescer returns a Quiescer for the threads of the current process.
func NewQuiescer() *Quiescer {
	return &Quiescer{
		Threads: SystemThreads(),
		Logger:  &log.DefaultLogger,
		Exit:    os.Exit,
	}
}

// Do suspends every thread but the caller, runs batch and resumes every thread
// it suspended. Threads are resumed even if batch panics.
//
// Failing to list threads is not fatal: batch runs with the other threads
// still running and a warning is logged.
//
// batch must not block on other goroutines. The garbage collector is disabled
// while it runs because a stop-the-world would wait on suspended threads.
func (q *Quiescer) Do(batch func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer debug.SetGCPercent(debug.SetGCPercent(-1))

	ids, err := q.Threads.Threads()
	if err != nil {
		q.Logger.Warn().Err(err).Msg("cannot list threads, patching without suspending")
		if q.Suspended != nil {
			q.Suspended(0)
		}
		return batch()
	}

	// Nothing below may log or allocate until the threads are resumed.
	r := q.suspendAll(ids)
	defer q.report(len(ids), r)
	defer q.resumeAll(r.suspended)

	if q.Suspended != nil {
		q.Suspended(len(r.suspended))
	}

	return batch()
}

type suspension struct {
	suspended []uint32
	failed    int
	firstErr  error
	firstID   uint32
}

func (q *Quiescer) suspendAll(ids []uint32) *suspension {
	self := q.Threads.Current()
	r := &suspension{suspended: make([]uint32, 0, len(ids))}
	for _, id := range ids {
		if id == self {
			continue
		}
		if err := q.Threads.Suspend(id); err != nil {
			if r.failed == 0 {
				r.firstErr, r.firstID = err, id
			}
			r.failed++
			continue
		}
		r.suspended = append(r.suspended, id)
	}
	return r
}

func (q *Quiescer) resumeAll(ids []uint32) {
	for _, id := range ids {
		if err := q.Threads.Resume(id); err != nil {
			q.Logger.Error().Err(err).Uint32("thread_id", id).Msg("failed resuming thread, terminating")
			q.Exit(1)
		}
	}
}

func (q *Quiescer) report(threads int, r *suspension) {
	if r.failed > 0 {
		q.Logger.Warn().
			Err(r.firstErr).
			Uint32("thread_id", r.firstID).
			Int("failed", r.failed).
			Msg("failed suspending threads")
	}
	q.Logger.Info().
		Int("threads", threads).
		Int("suspended", len(r.suspended)).
		Msg("patched with threads suspended")
}
