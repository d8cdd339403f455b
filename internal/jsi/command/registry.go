package command

import (
	"sync"

	"golang.org/x/sys/unix"
)

// NewRegistry creates a Registry instance.
func NewRegistry() *Registry {
	return &Registry{
		mutex: new(sync.Mutex),
		pgids: make(map[int]struct{}),
	}
}

// Registry tracks the process groups of live children so the supervisor can
// escalate termination without waiting on cooperative cancellation.
type Registry struct {
	mutex *sync.Mutex
	pgids map[int]struct{}
}

func (r *Registry) add(pgid int) {
	r.mutex.Lock()
	r.pgids[pgid] = struct{}{}
	r.mutex.Unlock()
}

func (r *Registry) remove(pgid int) {
	r.mutex.Lock()
	delete(r.pgids, pgid)
	r.mutex.Unlock()
}

// KillAll sends SIGKILL to every live process group. Used as the last-resort
// sweep when graceful termination has been exhausted.
func (r *Registry) KillAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for pgid := range r.pgids {
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
			logger.Debugf("kill sweep; pgid: %d, error: %s", pgid, err)
		}
	}
}
