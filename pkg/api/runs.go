package api

import (
	"sync"

	"github.com/google/uuid"

	"astar_router/pkg/routing"
)

// runRegistry tracks the controls of streamed runs by id.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*routing.Control
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*routing.Control)}
}

func (r *runRegistry) add(ctrl *routing.Control) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.runs[id] = ctrl
	r.mu.Unlock()
	return id
}

func (r *runRegistry) get(id string) (*routing.Control, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.runs[id]
	return ctrl, ok
}

func (r *runRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

func (r *runRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
