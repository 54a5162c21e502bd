package task

import (
	"sort"
	"sync"
)

// Registry maps camera IDs to their task. Every access holds one mutex for
// the duration of the map operation only; callbacks passed to Apply run under
// it and must not block.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]CameraTask
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]CameraTask)}
}

// Get returns a copy of the task for id.
func (r *Registry) Get(id string) (CameraTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Apply runs fn on the current entry (exists reports whether there is one)
// and stores the returned task when write is true. It returns the entry as it
// stands after the call.
func (r *Registry) Apply(id string, fn func(cur CameraTask, exists bool) (next CameraTask, write bool)) (CameraTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	next, write := fn(cur, ok)
	if !write {
		return cur, ok
	}
	next.CameraID = id
	r.tasks[id] = next
	return next, true
}

// DeleteIf removes the entry for id when fn approves it.
func (r *Registry) DeleteIf(id string, fn func(cur CameraTask) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tasks[id]
	if !ok || !fn(cur) {
		return false
	}
	delete(r.tasks, id)
	return true
}

// Snapshot returns copies of every entry ordered by camera ID.
func (r *Registry) Snapshot() []CameraTask {
	r.mu.Lock()
	out := make([]CameraTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
