package auth

import "sync"

// Snapshot is a point-in-time view of the session state.
type Snapshot struct {
	User    *User
	Loading bool
}

// Authenticated reports whether a user is signed in.
func (s Snapshot) Authenticated() bool { return s.User != nil }

// State is the process-wide session cell. It starts loading with no user;
// Loading turns false once, after the first session resolution, and never
// turns back. Only the Gateway writes it.
type State struct {
	mu       sync.RWMutex
	user     *User
	loading  bool
	watchers map[int]func(Snapshot)
	nextID   int
}

// NewState returns a cell in the loading state.
func NewState() *State {
	return &State{loading: true, watchers: make(map[int]func(Snapshot))}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{User: s.user, Loading: s.loading}
}

// Watch calls fn after every change until cancel is called. fn runs on the
// writer's goroutine.
func (s *State) Watch(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *State) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
	s.notify()
}

// resolve records the outcome of the first session resolution.
func (s *State) resolve(u *User) {
	s.mu.Lock()
	s.user = u
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

func (s *State) notify() {
	s.mu.RLock()
	snap := Snapshot{User: s.user, Loading: s.loading}
	fns := make([]func(Snapshot), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}
