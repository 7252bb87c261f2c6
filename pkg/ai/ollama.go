package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/easyops/aicontext-go/pkg/conversation"
	"github.com/easyops/aicontext-go/pkg/core/config"
	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/core/message"
	"github.com/easyops/aicontext-go/pkg/otel"
)

// GenerateStreamer Ollama 风格的生成流后端
//
// 协议无状态：不回放历史消息，而是把服务端上一回合返回的
// 不透明 context 令牌原样带回。令牌内容对本包不可见。
type GenerateStreamer struct {
	endpoint    string
	model       string
	temperature float64
	client      *http.Client
	conv        *conversation.State
	logger      otel.Logger
	metrics     otel.Metrics
}

// GenerateOption 生成流后端配置选项
type GenerateOption func(*GenerateStreamer)

// WithGenerateHTTPClient 设置 HTTP 客户端
func WithGenerateHTTPClient(client *http.Client) GenerateOption {
	return func(s *GenerateStreamer) {
		s.client = client
	}
}

// WithGenerateLogger 设置日志器
func WithGenerateLogger(logger otel.Logger) GenerateOption {
	return func(s *GenerateStreamer) {
		s.logger = logger
	}
}

// NewGenerateStreamer 创建生成流后端
func NewGenerateStreamer(cfg config.BackendConfig, conv *conversation.State, opts ...GenerateOption) (*GenerateStreamer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapError(errors.ErrConfiguration, "ollama base url is required")
	}

	s := &GenerateStreamer{
		endpoint:    cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: 5 * time.Minute},
		conv:        conv,
		logger:      otel.GetLogger(),
		metrics:     otel.GetMetrics(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Name 返回提供商名称
func (s *GenerateStreamer) Name() string {
	return string(config.ProviderOllama)
}

// generateRequest 生成接口请求体
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Context json.RawMessage `json:"context,omitempty"`
	Options map[string]any  `json:"options,omitempty"`
}

// generateChunk 生成接口的一行 NDJSON 响应
type generateChunk struct {
	Response string          `json:"response"`
	Done     bool            `json:"done"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// Send 发送一个回合并流式接收回复
//
// 响应为逐行 NDJSON。无法解析的行记录日志后跳过，不中断流。
func (s *GenerateStreamer) Send(ctx context.Context, turn Turn, emit EmitFunc) (string, error) {
	ctx, span := otel.GetTracer().Start(ctx, "ai.GenerateStreamer.Send")
	defer span.End()
	span.SetAttributes(otel.LLMModel(s.model), otel.MessageID(turn.MessageID))

	reqBody := generateRequest{
		Model:  s.model,
		Prompt: turn.Prompt,
		Stream: true,
	}
	if s.temperature > 0 {
		reqBody.Options = map[string]any{"temperature": s.temperature}
	}
	// 回放上一回合的续接令牌
	if token, ok := s.conv.Token(s.Name()); ok {
		reqBody.Context = token
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.WrapError(err, "failed to encode generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errors.WrapError(err, "failed to build generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		mapped := errors.WrapError(errors.ErrTransport, err.Error())
		span.RecordError(mapped)
		return "", mapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		mapped := errors.WrapError(errors.ErrProviderUnavailable,
			fmt.Sprintf("generate endpoint returned status %d", resp.StatusCode))
		span.RecordError(mapped)
		return "", mapped
	}

	var buffer strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", errors.WrapError(errors.ErrContextCanceled, "generate stream interrupted")
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}

		if chunk.Response != "" {
			buffer.WriteString(chunk.Response)
			s.metrics.Counter(otel.MetricStreamChunks).Add(ctx, 1,
				otel.NewAttr(otel.AttrLLMProvider, s.Name()))
			emit(buffer.String())
		}

		if chunk.Done {
			if len(chunk.Context) > 0 {
				s.conv.SetToken(s.Name(), chunk.Context)
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		mapped := errors.WrapError(errors.ErrTransport, err.Error())
		span.RecordError(mapped)
		return "", mapped
	}

	final := buffer.String()

	s.conv.Append(s.Name(),
		message.NewUserMessage(turn.UserText),
		message.NewAssistantMessage(final),
	)

	return final, nil
}

// Compile-time interface check
var _ Streamer = (*GenerateStreamer)(nil)
