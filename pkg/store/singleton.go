package store

import (
	"context"
	"sync"

	"github.com/easyops/aicontext-go/pkg/core/errors"
)

// 进程级单例
//
// 首批并发调用共享同一次初始化尝试。初始化失败时所有等待者
// 收到同一个错误，且失败不会污染后续重试。
var (
	singletonMu sync.Mutex
	singleton   *ContextStore
	pending     *initAttempt
)

// initAttempt 一次进行中的初始化尝试
type initAttempt struct {
	done  chan struct{}
	store *ContextStore
	err   error
}

// Instance 获取进程级单例
//
// 首次调用触发惰性初始化，包括从状态存储恢复上一次的树
// （如通过 WithStateStore 配置）。并发的首批调用共享同一次
// 尝试；ctx 取消只影响当前等待者，不中断初始化本身。
func Instance(ctx context.Context, opts ...Option) (*ContextStore, error) {
	singletonMu.Lock()
	if singleton != nil {
		s := singleton
		singletonMu.Unlock()
		return s, nil
	}

	if pending == nil {
		attempt := &initAttempt{done: make(chan struct{})}
		pending = attempt
		go attempt.run(opts)
	}
	attempt := pending
	singletonMu.Unlock()

	select {
	case <-ctx.Done():
		return nil, errors.WrapError(errors.ErrContextCanceled, "waiting for store init")
	case <-attempt.done:
	}

	if attempt.err != nil {
		return nil, attempt.err
	}
	return attempt.store, nil
}

// run 执行初始化尝试
func (a *initAttempt) run(opts []Option) {
	s := New(opts...)
	err := s.LoadState(context.Background())

	singletonMu.Lock()
	if err != nil {
		a.err = errors.WrapError(err, "store initialization failed")
		// 清除挂起的尝试，之后的调用可以重试
		pending = nil
	} else {
		a.store = s
		singleton = s
		pending = nil
	}
	singletonMu.Unlock()

	close(a.done)
}

// Reset 丢弃单例（测试与收尾用）
//
// 下一次 Instance 调用将重新初始化。
func Reset() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = nil
	pending = nil
}
