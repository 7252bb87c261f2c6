package ai

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/easyops/aicontext-go/pkg/conversation"
	"github.com/easyops/aicontext-go/pkg/core/config"
	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/core/message"
	"github.com/easyops/aicontext-go/pkg/otel"
)

// DeltaStreamer OpenAI 兼容的增量流后端
//
// 发送完整历史加上组装后的提示词作为最后一个用户回合。
// 历史只追加用户的原始输入与助手的最终回复。
type DeltaStreamer struct {
	client      *openai.Client
	model       string
	temperature float64
	conv        *conversation.State
	logger      otel.Logger
	metrics     otel.Metrics
}

// DeltaOption 增量流后端配置选项
type DeltaOption func(*DeltaStreamer)

// WithDeltaLogger 设置日志器
func WithDeltaLogger(logger otel.Logger) DeltaOption {
	return func(s *DeltaStreamer) {
		s.logger = logger
	}
}

// NewDeltaStreamer 创建增量流后端
func NewDeltaStreamer(cfg config.BackendConfig, conv *conversation.State, opts ...DeltaOption) (*DeltaStreamer, error) {
	if cfg.APIKey == "" {
		return nil, errors.ErrInvalidAPIKey
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	s := &DeltaStreamer{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		conv:        conv,
		logger:      otel.GetLogger(),
		metrics:     otel.GetMetrics(),
	}
	if s.model == "" {
		s.model = "gpt-4o"
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Name 返回提供商名称
func (s *DeltaStreamer) Name() string {
	return string(config.ProviderOpenAI)
}

// Send 发送一个回合并流式接收回复
func (s *DeltaStreamer) Send(ctx context.Context, turn Turn, emit EmitFunc) (string, error) {
	ctx, span := otel.GetTracer().Start(ctx, "ai.DeltaStreamer.Send")
	defer span.End()
	span.SetAttributes(otel.LLMModel(s.model), otel.MessageID(turn.MessageID))

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    s.buildMessages(turn.Prompt),
		Temperature: float32(s.temperature),
		Stream:      true,
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		mapped := mapOpenAIError(err)
		span.RecordError(mapped)
		return "", mapped
	}
	defer stream.Close()

	var buffer strings.Builder
	for {
		response, err := stream.Recv()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			mapped := mapOpenAIError(err)
			span.RecordError(mapped)
			return "", mapped
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		buffer.WriteString(delta)
		s.metrics.Counter(otel.MetricStreamChunks).Add(ctx, 1,
			otel.NewAttr(otel.AttrLLMProvider, s.Name()))
		emit(buffer.String())
	}

	final := buffer.String()

	// 历史只保留用户原文与最终回复，组装后的提示词不落历史
	s.conv.Append(s.Name(),
		message.NewUserMessage(turn.UserText),
		message.NewAssistantMessage(final),
	)

	return final, nil
}

// buildMessages 构建请求消息序列
//
// 既有历史在前，组装后的提示词作为最后一个用户回合。
func (s *DeltaStreamer) buildMessages(prompt string) []openai.ChatCompletionMessage {
	history := s.conv.History(s.Name())

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	return msgs
}

// mapOpenAIError 映射 API 错误到框架错误
func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.WrapError(errors.ErrInvalidAPIKey, apiErr.Message)
		case http.StatusTooManyRequests:
			return errors.WrapError(errors.ErrRateLimited, apiErr.Message)
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return errors.WrapError(errors.ErrProviderUnavailable, apiErr.Message)
		}
	}

	return errors.WrapError(errors.ErrTransport, err.Error())
}

// Compile-time interface check
var _ Streamer = (*DeltaStreamer)(nil)
