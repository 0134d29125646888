package session

import "sync"

// Session holds the identity of the signed-in user of this device.
type Session struct {
	mu       sync.RWMutex
	userID   string
	watchers []chan struct{}
}

func New() *Session {
	return &Session{}
}

// Start signs userID in. Watchers are notified if the user changed.
func (s *Session) Start(userID string) {
	s.set(userID)
}

// End signs the current user out.
func (s *Session) End() {
	s.set("")
}

func (s *Session) set(userID string) {
	s.mu.Lock()
	changed := s.userID != userID
	s.userID = userID
	watchers := s.watchers
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// UserID returns the signed-in user, if any.
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// Active reports whether a user is signed in.
func (s *Session) Active() bool {
	_, ok := s.UserID()
	return ok
}

// Watch returns a channel that receives a signal whenever the user changes.
// Signals are coalesced; a slow reader sees at least one pending signal.
func (s *Session) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}
