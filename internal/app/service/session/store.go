package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/clipmeter/pkg/config"
	"github.com/fatflowers/clipmeter/pkg/types"
)

// State is process-local UI state for one client session. It is never shared
// between sessions and is lost on restart.
type State struct {
	UserID          string
	BannerDismissed bool
	// Snapshot and Plan are display caches; entitlement decisions always reload.
	Snapshot *types.SubscriptionSnapshot
	Plan     *types.Plan
	CachedAt time.Time
	// LastUsage is the authoritative usage count read with Snapshot.
	LastUsage int64
	// OptimisticUsage counts quota commits made in this session since the
	// last authoritative usage read.
	OptimisticUsage int64
	touched         time.Time
}

type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]*State
	log    *zap.SugaredLogger
}

func NewStore(cfg *config.Config, log *zap.SugaredLogger) *Store {
	ttl := cfg.Session.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{ttl: ttl, now: time.Now, states: map[string]*State{}, log: log}
}

func key(sessionID, userID string) string {
	return userID + "/" + sessionID
}

// Get returns a copy of the session state. Unknown or expired sessions yield
// a zero state for userID.
func (s *Store) Get(sessionID, userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lookup(sessionID, userID); st != nil {
		return *st
	}
	return State{UserID: userID}
}

func (s *Store) update(sessionID, userID string, fn func(*State)) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.lookup(sessionID, userID)
	if st == nil {
		st = &State{UserID: userID}
		s.states[key(sessionID, userID)] = st
	}
	fn(st)
	st.touched = s.now()
}

func (s *Store) lookup(sessionID, userID string) *State {
	st, ok := s.states[key(sessionID, userID)]
	if !ok {
		return nil
	}
	if s.now().Sub(st.touched) > s.ttl {
		delete(s.states, key(sessionID, userID))
		return nil
	}
	return st
}

func (s *Store) DismissBanner(sessionID, userID string) {
	s.update(sessionID, userID, func(st *State) { st.BannerDismissed = true })
}

// CacheSubscription stores a fresh snapshot together with the authoritative
// usage count read alongside it and resets optimistic usage.
func (s *Store) CacheSubscription(sessionID, userID string, snap *types.SubscriptionSnapshot, plan *types.Plan, usage int64) {
	s.update(sessionID, userID, func(st *State) {
		st.Snapshot = snap
		st.Plan = plan
		st.LastUsage = usage
		st.CachedAt = s.now()
		st.OptimisticUsage = 0
	})
}

func (s *Store) IncrementUsage(sessionID, userID string) {
	s.update(sessionID, userID, func(st *State) { st.OptimisticUsage++ })
}

// CachedUsage is the usage to show without a fresh read: the last
// authoritative count plus quota commits made in this session since.
func (st State) CachedUsage() int64 {
	return st.LastUsage + st.OptimisticUsage
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, st := range s.states {
		if s.now().Sub(st.touched) > s.ttl {
			delete(s.states, k)
			n++
		}
	}
	return n
}

func registerSweeper(lc fx.Lifecycle, s *Store) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(s.ttl / 2)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := s.Sweep(); n > 0 {
							s.log.Debugw("expired sessions swept", "count", n)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewStore),
	fx.Invoke(registerSweeper),
)
