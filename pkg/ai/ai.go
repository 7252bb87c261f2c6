// Package ai orchestrates streaming requests against chat backends.
//
// Two wire protocols are supported: an OpenAI-compatible delta stream
// and an Ollama-style NDJSON generate stream. Both accumulate partial
// output and emit the whole buffer on every chunk, so a sink always
// receives monotonically growing prefixes of the final answer.
package ai

import (
	"context"

	"github.com/easyops/aicontext-go/pkg/conversation"
	"github.com/easyops/aicontext-go/pkg/core/config"
	"github.com/easyops/aicontext-go/pkg/core/errors"
)

// Turn 一个待发送的用户回合
type Turn struct {
	// UserText 用户输入的原始文本，进入会话历史
	UserText string
	// Prompt 组装后的完整提示词，发送给模型但不进入历史
	Prompt string
	// MessageID 调用方分配的消息标识，随每次输出事件回传
	MessageID string
}

// EmitFunc 流式输出回调
//
// 每个数据块到达后以累积后的完整缓冲调用一次。
type EmitFunc func(accumulated string)

// Streamer 流式后端接口
type Streamer interface {
	// Name 返回提供商名称
	Name() string

	// Send 发送一个回合并流式接收回复
	//
	// 返回最终的完整回复文本。成功完成后实现负责把用户原始
	// 输入与助手回复写入会话状态。
	Send(ctx context.Context, turn Turn, emit EmitFunc) (string, error)
}

// Sink 输出接收端
//
// OutputText 收到单调增长的累积文本；Done 每个请求恰好调用
// 一次，err 非空表示请求失败。
type Sink interface {
	OutputText(text, messageID string)
	Done(messageID string, err error)
}

// NewStreamer 按配置创建启用的流式后端
//
// 没有启用任何提供商时返回 (nil, nil)，调用方应降级为
// 固定提示而不是发起网络请求。
func NewStreamer(cfg *config.Config, conv *conversation.State) (Streamer, error) {
	provider, err := cfg.EnabledProvider()
	if err != nil {
		return nil, errors.WrapError(errors.ErrConfiguration, err.Error())
	}

	switch provider {
	case config.ProviderOpenAI:
		return NewDeltaStreamer(cfg.OpenAI, conv)
	case config.ProviderOllama:
		return NewGenerateStreamer(cfg.Ollama, conv)
	default:
		return nil, nil
	}
}
