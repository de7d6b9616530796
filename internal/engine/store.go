// Package engine 实现对话同步引擎：持有会话、对话列表、当前对话和消息记录，
// 在请求后端之前先乐观更新本地状态，之后再确认或回滚。
package engine

import (
	"sync"

	"agri-assist-go/internal/model"
)

// State 是引擎对外暴露的完整状态。
type State struct {
	User                *model.User
	Conversations       []model.Conversation
	CurrentConversation model.ID // 空字符串表示没有选中的对话
	Messages            []model.Message
	ConversationLoading bool
	Loading             bool
	Language            string
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Conversations = append([]model.Conversation(nil), s.Conversations...)
	out.Messages = cloneMessages(s.Messages)
	return out
}

func cloneMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		m.Images = append([]string(nil), m.Images...)
		out[i] = m
	}
	return out
}

// Email 返回当前会话的邮箱，未登录时为空。
func (s State) Email() string {
	if s.User == nil {
		return ""
	}
	return s.User.Email
}

// slot 标识一块可能被并发操作竞争写入的状态。
type slot int

const (
	slotTranscript slot = iota
	slotConversations
	slotSession  // 登录、登出时递增
	slotExchange // 每次成功提交的发送递增
	slotCount
)

// Store 是线程安全的状态容器。所有写入都是整值替换。
type Store struct {
	mu        sync.Mutex
	state     State
	tokens    [slotCount]uint64
	listeners map[int]func(State)
	nextID    int
}

// NewStore 创建一个状态容器。
func NewStore(initial State) *Store {
	return &Store{
		state:     initial.clone(),
		listeners: make(map[int]func(State)),
	}
}

// Snapshot 返回当前状态的深拷贝。
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe 注册一个状态变更监听器，返回取消函数。
// 监听器在锁外被调用，收到的是状态快照。
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Update 应用一个状态转换并通知监听器。
func (s *Store) Update(fn func(State) State) {
	s.apply(func(st State, _ *[slotCount]uint64) (State, bool) {
		return fn(st), true
	})
}

// issue 为 slot 颁发一个新的令牌，之前颁发的令牌随之失效。
func (s *Store) issue(sl slot) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[sl]++
	return s.tokens[sl]
}

// token 返回 slot 当前的令牌，不会使旧令牌失效。
func (s *Store) token(sl slot) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[sl]
}

// updateIf 仅当 token 仍是 slot 的最新令牌时应用转换，返回是否应用。
func (s *Store) updateIf(sl slot, token uint64, fn func(State) State) bool {
	return s.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
		if tokens[sl] != token {
			return st, false
		}
		return fn(st), true
	})
}

func (s *Store) apply(fn func(State, *[slotCount]uint64) (State, bool)) bool {
	s.mu.Lock()
	next, ok := fn(s.state, &s.tokens)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.state = next
	snapshot := next.clone()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}
