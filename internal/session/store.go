package session

import (
	"sync"
	"time"
)

// DefaultMaxLifetime 是会话在内存中的最长闲置时间。
const DefaultMaxLifetime = 3 * 24 * time.Hour

// Store 以内存保存会话数据，按 ID 索引。
type Store struct {
	mu          sync.Mutex
	sessions    map[string]storedSession
	maxLifetime time.Duration
	now         func() time.Time
}

type storedSession struct {
	values   map[string]any
	lastSeen time.Time
}

// NewStore 创建内存会话存储，maxLifetime<=0 时使用 DefaultMaxLifetime。
func NewStore(maxLifetime time.Duration) *Store {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	return &Store{
		sessions:    make(map[string]storedSession),
		maxLifetime: maxLifetime,
		now:         time.Now,
	}
}

// load 根据 cookie 中的 ID 还原会话；未知或过期的 ID 得到未启动的会话。
func (s *Store) load(id string) *State {
	state := newState()
	if id == "" {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return state
	}
	if s.now().Sub(stored.lastSeen) > s.maxLifetime {
		delete(s.sessions, id)
		return state
	}
	state.id = id
	state.active = true
	for k, v := range stored.values {
		state.values[k] = v
	}
	return state
}

func (s *Store) save(state *State) {
	id := state.ID()
	if id == "" {
		return
	}
	values := state.snapshot()

	s.mu.Lock()
	s.sessions[id] = storedSession{values: values, lastSeen: s.now()}
	s.mu.Unlock()
}

// Len 返回当前保存的会话数量。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
