package scheduler

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kubev2v/task-engine/pkg/synchronizer"
)

// Registry holds the state shared by every executor of an engine: run-once
// keys, tasks currently executing and the creator to children index used by
// cascading kills. One Registry is created by the composition root and handed
// to each executor and group.
type Registry struct {
	sync *synchronizer.Synchronizer

	runOnce  sync.Map // string -> *Task
	inFlight sync.Map // uuid.UUID -> *Task
	running  sync.Map // goroutine id -> *Task

	mu       sync.Mutex
	children map[uuid.UUID]map[uuid.UUID]*Task
}

func NewRegistry(s *synchronizer.Synchronizer) *Registry {
	if s == nil {
		s = synchronizer.New()
	}
	return &Registry{
		sync:     s,
		children: make(map[uuid.UUID]map[uuid.UUID]*Task),
	}
}

// Synchronizer returns the mutex registry shared with the executors.
func (r *Registry) Synchronizer() *synchronizer.Synchronizer {
	return r.sync
}

// InFlight returns the tasks currently executing, oldest first.
func (r *Registry) InFlight() []*Task {
	var tasks []*Task
	r.inFlight.Range(func(_, v any) bool {
		tasks = append(tasks, v.(*Task))
		return true
	})
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StartedAt().Before(tasks[j].StartedAt())
	})
	return tasks
}

// RunOnce returns the task registered under key, if any.
func (r *Registry) RunOnce(key string) (*Task, bool) {
	v, ok := r.runOnce.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Task), true
}

// claim registers t under its run-once key. It returns the task callers must
// be redirected to when another one already owns the key, and skip when the
// already-done predicate says there is nothing to do.
func (r *Registry) claim(t *Task) (existing *Task, skip bool) {
	unlock := r.sync.Lock("run-once/" + t.runOnceKey)
	defer unlock()

	if v, ok := r.runOnce.Load(t.runOnceKey); ok {
		other := v.(*Task)
		if !other.Status().Finished() || !other.hasReturned() {
			return other, false
		}
	}
	if t.alreadyDone != nil && t.alreadyDone() {
		return nil, true
	}
	r.runOnce.Store(t.runOnceKey, t)
	return nil, false
}

func (r *Registry) unclaim(t *Task) {
	if t.runOnceKey == "" {
		return
	}
	r.runOnce.CompareAndDelete(t.runOnceKey, t)
}

func (r *Registry) started(t *Task, gid int64) {
	r.inFlight.Store(t.id, t)
	r.running.Store(gid, t)
}

func (r *Registry) stopped(t *Task, gid int64) {
	r.inFlight.Delete(t.id)
	r.running.CompareAndDelete(gid, t)
}

// runningOn returns the task executing on goroutine gid.
func (r *Registry) runningOn(gid int64) *Task {
	v, ok := r.running.Load(gid)
	if !ok {
		return nil
	}
	return v.(*Task)
}

func (r *Registry) addChild(creator, child *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.children[creator.id]
	if !ok {
		set = make(map[uuid.UUID]*Task)
		r.children[creator.id] = set
	}
	set[child.id] = child
}

func (r *Registry) removeChild(child *Task) {
	if child.creator == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.children[child.creator.id]
	if !ok {
		return
	}
	delete(set, child.id)
	if len(set) == 0 {
		delete(r.children, child.creator.id)
	}
}

// Children returns the unfinished tasks submitted from inside creator.
func (r *Registry) Children(creator *Task) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.children[creator.id]
	tasks := make([]*Task, 0, len(set))
	for _, t := range set {
		tasks = append(tasks, t)
	}
	return tasks
}
