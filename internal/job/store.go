package job

import (
	"sync"
	"time"
)

// Store is the job table: a concurrency-safe map from job key to job record
// that enforces at most one active (pending or running) job per key. It is
// the only state shared between workflow goroutines and request handlers;
// every access goes through its mutex.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // creation order of the currently-held jobs
}

// NewStore creates an empty job table.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
	}
}

// TryCreate registers the job in pending state. It fails without mutation
// when an active job already holds the key; a terminal job under the same key
// is replaced, which is how re-submission after completion or failure works.
func (s *Store) TryCreate(j *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[j.Key]; ok {
		if !existing.Status.Terminal() {
			return false
		}
		s.dropFromOrder(j.Key)
	}

	j.Status = StatusPending
	j.CreatedAt = time.Now()
	s.jobs[j.Key] = j
	s.order = append(s.order, j.Key)
	return true
}

// Transition moves the job to a new state, stamps the matching timestamp and
// applies the optional mutate func under the table lock so payload writes are
// never visible half-done. Returns false for an unknown key.
func (s *Store) Transition(key string, status Status, message string, mutate func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key]
	if !ok {
		return false
	}

	j.Status = status
	j.Message = message
	now := time.Now()
	switch {
	case status == StatusRunning && j.StartedAt == nil:
		j.StartedAt = &now
	case status.Terminal() && j.CompletedAt == nil:
		j.CompletedAt = &now
	}
	if mutate != nil {
		mutate(j)
	}
	return true
}

// Get returns a snapshot of the job, or false when the key is unknown.
func (s *Store) Get(key string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[key]
	if !ok {
		return nil, false
	}
	return j.snapshot(), true
}

// List returns snapshots of all jobs in creation order.
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.order))
	for _, key := range s.order {
		if j, ok := s.jobs[key]; ok {
			out = append(out, j.snapshot())
		}
	}
	return out
}

// ActiveCount returns the number of pending or running jobs.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			n++
		}
	}
	return n
}

func (s *Store) dropFromOrder(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// snapshot copies the record so readers never alias live workflow state.
// Result payloads are written once at a terminal transition and not mutated
// afterwards, so sharing them is safe.
func (j *Job) snapshot() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
