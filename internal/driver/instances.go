package driver

import (
	"fmt"
	"sync"
)

// Instance is one process instance started by a run.
//
// Handlers registered on an instance take precedence over the run's shared
// registry, so two instances of the same definition can answer the same
// activity differently.
type Instance struct {
	ID            string
	DefinitionKey string

	handlers *Registry
	ended    bool
}

// Handlers returns the instance-scoped registry.
func (i *Instance) Handlers() *Registry { return i.handlers }

// Ended reports whether the Runner has observed the instance in a terminal
// state.
func (i *Instance) Ended() bool { return i.ended }

// instanceSet tracks the instances of one run in start order.
type instanceSet struct {
	mu    sync.Mutex
	order []*Instance
	byID  map[string]*Instance
}

func newInstanceSet() *instanceSet {
	return &instanceSet{byID: make(map[string]*Instance)}
}

func (s *instanceSet) Add(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[inst.ID]; dup {
		return fmt.Errorf("instance %s already registered in this run", inst.ID)
	}
	s.order = append(s.order, inst)
	s.byID[inst.ID] = inst
	return nil
}

func (s *instanceSet) Get(id string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byID[id]
	return inst, ok
}

// All returns a snapshot in start order. Instances started while the caller
// iterates are not included.
func (s *instanceSet) All() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Instance, len(s.order))
	copy(out, s.order)
	return out
}

func (s *instanceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
