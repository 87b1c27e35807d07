package patient

import "sync"

// Observer receives a record each time its classification completes.
type Observer func(PatientRecord)

// observerRegistry is the set of subscribed observers. Notification works on
// a snapshot so observers may unsubscribe themselves while being called.
type observerRegistry struct {
	mu        sync.RWMutex
	next      uint64
	observers map[uint64]Observer
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{observers: make(map[uint64]Observer)}
}

// register adds fn and returns an idempotent unregister func.
func (r *observerRegistry) register(fn Observer) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	r.observers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

func (r *observerRegistry) snapshot() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Observer, 0, len(r.observers))
	for _, fn := range r.observers {
		out = append(out, fn)
	}
	return out
}

func (r *observerRegistry) notify(rec PatientRecord) {
	for _, fn := range r.snapshot() {
		fn(rec)
	}
}

func (r *observerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}
