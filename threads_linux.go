//go:build linux

package hotpatch

import (
	"os"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// linuxThreads lists tasks from /proc. Linux gives a process no way to stop a
// single one of its own threads, so Suspend always fails and Quiescer.Do runs
// the batch with the threads still running.
type linuxThreads struct{}

// SystemThreads returns a ThreadSource for the current process.
func SystemThreads() ThreadSource {
	return linuxThreads{}
}

func (linuxThreads) Threads() ([]uint32, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllThreads(os.Getpid())
	if err != nil {
		return nil, err
	}

	ids := make([]uint32, 0, len(procs))
	for _, p := range procs {
		ids = append(ids, uint32(p.PID))
	}
	return ids, nil
}

func (linuxThreads) Current() uint32 {
	return uint32(unix.Gettid())
}

func (linuxThreads) Suspend(uint32) error {
	return ErrSuspendUnsupported
}

func (linuxThreads) Resume(uint32) error {
	return ErrSuspendUnsupported
}
