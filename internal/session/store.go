package session

import (
	"log/slog"
	"time"

	"tally/internal/cache"
)

// Store indexes live sessions by token. Idle sessions expire after ttl and
// the least recently used one is dropped when max is exceeded; either way
// the evicted state is reset.
type Store struct {
	sessions *cache.LRUCache[*State]
}

func NewStore(max int, ttl time.Duration) *Store {
	return &Store{
		sessions: cache.NewLRUCache[*State](max, ttl,
			cache.WithSlidingExpiry[*State](),
			cache.WithEvictCallback(func(token string, st *State) {
				slog.Debug("Session evicted", "component", "session", "user_id", st.UserID)
				st.Reset()
			}),
		),
	}
}

// Start opens a new session for userID.
func (s *Store) Start(userID string) *State {
	st := New(userID)
	s.sessions.Set(st.Token, st)
	slog.Info("Session started", "component", "session", "user_id", userID)
	return st
}

func (s *Store) Get(token string) (*State, bool) {
	if token == "" {
		return nil, false
	}
	return s.sessions.Get(token)
}

// End resets and removes the session. Returns false for unknown tokens.
func (s *Store) End(token string) bool {
	if _, ok := s.sessions.Get(token); !ok {
		return false
	}
	s.sessions.Delete(token)
	return true
}

func (s *Store) Len() int {
	return s.sessions.Size()
}

// Cleaner exposes the backing cache to a cache.Manager sweep.
func (s *Store) Cleaner() cache.Cleaner {
	return s.sessions
}
