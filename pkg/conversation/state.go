// Package conversation keeps per-provider chat history.
//
// Each backend provider owns one history entry. Providers with a
// stateless generate protocol keep an opaque server-issued continuation
// token instead of replaying full history. State is persisted through
// the statestore so a restarted process resumes the conversation.
package conversation

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"

	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/core/message"
	"github.com/easyops/aicontext-go/pkg/otel"
	"github.com/easyops/aicontext-go/pkg/statestore"
)

// stateKeyPrefix 状态存储键前缀
const stateKeyPrefix = "conversation/"

// providerState 一个提供商的可持久化状态
type providerState struct {
	Messages []message.Message `json:"messages"`
	// Token 生成式协议的不透明续接令牌，按原样保存与回放
	Token json.RawMessage `json:"token,omitempty"`
}

// State 会话状态
//
// 并发安全。仅保存用户的原始输入与助手的最终回复，
// 组装后的提示词不进入历史。
type State struct {
	mu        sync.Mutex
	providers map[string]*providerState
	store     statestore.Store
	logger    otel.Logger
}

// Option 会话状态配置选项
type Option func(*State)

// WithStateStore 设置持久化存储
func WithStateStore(store statestore.Store) Option {
	return func(s *State) {
		s.store = store
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

// New 创建会话状态
func New(opts ...Option) *State {
	s := &State{
		providers: make(map[string]*providerState),
		logger:    otel.GetLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load 从持久化存储恢复全部提供商的会话
//
// 载入时剔除缺少角色或内容的消息。无历史状态不视为错误。
func (s *State) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	keys, err := s.store.Keys(ctx, stateKeyPrefix)
	if err != nil {
		return errors.WrapError(err, "failed to list conversation state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, statestore.ErrNotFound) {
				continue
			}
			return errors.WrapError(err, "failed to load conversation state")
		}

		var ps providerState
		if err := json.Unmarshal(data, &ps); err != nil {
			s.logger.Warn("discarding corrupt conversation state", "key", key, "error", err)
			continue
		}
		ps.Messages = message.Prune(ps.Messages)

		provider := key[len(stateKeyPrefix):]
		s.providers[provider] = &ps
	}

	return nil
}

// state 获取或创建提供商状态，须持锁调用
func (s *State) state(provider string) *providerState {
	ps, ok := s.providers[provider]
	if !ok {
		ps = &providerState{}
		s.providers[provider] = ps
	}
	return ps
}

// persist 持久化一个提供商的状态，须持锁调用
//
// 持久化失败只记录日志，内存内状态仍然生效。
func (s *State) persist(provider string) {
	if s.store == nil {
		return
	}

	ps := s.providers[provider]
	data, err := json.Marshal(ps)
	if err != nil {
		s.logger.Warn("failed to encode conversation state", "provider", provider, "error", err)
		return
	}
	if err := s.store.Put(context.Background(), stateKeyPrefix+provider, data); err != nil {
		s.logger.Warn("failed to persist conversation state", "provider", provider, "error", err)
	}
}

// History 返回提供商的会话历史副本
//
// 缺少角色或内容的消息已被剔除。
func (s *State) History(provider string) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.providers[provider]
	if !ok {
		return nil
	}

	history := make([]message.Message, len(ps.Messages))
	copy(history, ps.Messages)
	return message.Prune(history)
}

// Append 追加消息到提供商历史
//
// 无效消息（空角色或空内容）被丢弃而不是报错。
func (s *State) Append(provider string, msgs ...message.Message) {
	valid := message.Prune(msgs)
	if len(valid) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.state(provider)
	ps.Messages = append(ps.Messages, valid...)
	s.persist(provider)
}

// Clear 清空提供商的历史与续接令牌
func (s *State) Clear(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.providers, provider)
	if s.store != nil {
		if err := s.store.Delete(context.Background(), stateKeyPrefix+provider); err != nil &&
			!stderrors.Is(err, statestore.ErrNotFound) {
			s.logger.Warn("failed to delete conversation state", "provider", provider, "error", err)
		}
	}
}

// ClearAll 清空全部提供商的会话状态
func (s *State) ClearAll() {
	s.mu.Lock()
	providers := make([]string, 0, len(s.providers))
	for provider := range s.providers {
		providers = append(providers, provider)
	}
	s.mu.Unlock()

	for _, provider := range providers {
		s.Clear(provider)
	}
}

// Token 返回提供商的续接令牌
func (s *State) Token(provider string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.providers[provider]
	if !ok || len(ps.Token) == 0 {
		return nil, false
	}
	return ps.Token, true
}

// SetToken 保存提供商的续接令牌
//
// 令牌按原样保存，内容对本包不透明。
func (s *State) SetToken(provider string, token json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.state(provider)
	ps.Token = token
	s.persist(provider)
}

// ClearToken 清除提供商的续接令牌，保留历史
func (s *State) ClearToken(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.providers[provider]
	if !ok {
		return
	}
	ps.Token = nil
	s.persist(provider)
}
