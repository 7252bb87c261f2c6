package ai

import (
	"context"
	"sync"
	"time"

	"github.com/easyops/aicontext-go/pkg/otel"
)

// Status 请求状态机
type Status string

const (
	// StatusIdle 空闲
	StatusIdle Status = "idle"
	// StatusSending 请求已发出，尚未收到数据
	StatusSending Status = "sending"
	// StatusStreaming 正在接收流式数据
	StatusStreaming Status = "streaming"
	// StatusCompleted 上一个请求成功完成
	StatusCompleted Status = "completed"
	// StatusFailed 上一个请求失败
	StatusFailed Status = "failed"
)

// NoBackendNotice 未启用后端时返回给用户的固定提示
const NoBackendNotice = "No AI backend is enabled. Enable the OpenAI or Ollama provider in your settings to start chatting."

// Orchestrator 请求编排器
//
// 串行处理请求，维护 Idle/Sending/Streaming/Completed/Failed
// 状态机。失败不自动重试，也不会写坏会话状态或上下文树。
type Orchestrator struct {
	mu       sync.Mutex
	status   Status
	streamer Streamer
	sink     Sink
	logger   otel.Logger
	metrics  otel.Metrics
}

// OrchestratorOption 编排器配置选项
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger 设置日志器
func WithOrchestratorLogger(logger otel.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator 创建请求编排器
//
// streamer 为 nil 表示未启用任何后端，此时 Send 直接输出
// 固定提示，不发起网络请求。
func NewOrchestrator(streamer Streamer, sink Sink, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		status:   StatusIdle,
		streamer: streamer,
		sink:     sink,
		logger:   otel.GetLogger(),
		metrics:  otel.GetMetrics(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Status 返回当前状态
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// setStatus 更新状态
func (o *Orchestrator) setStatus(status Status) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
}

// Send 处理一个用户回合
//
// 输出端收到单调增长的累积文本，每个请求恰好一个终止事件。
// 失败时输出端收到错误终止事件，诊断细节进日志。
func (o *Orchestrator) Send(ctx context.Context, turn Turn) error {
	provider := "none"
	if o.streamer != nil {
		provider = o.streamer.Name()
	}

	ctx, span := otel.GetTracer().Start(ctx, "ai.Orchestrator.Send")
	defer span.End()
	span.SetAttributes(otel.LLMProvider(provider), otel.MessageID(turn.MessageID))

	o.setStatus(StatusSending)

	if o.streamer == nil {
		o.sink.OutputText(NoBackendNotice, turn.MessageID)
		o.sink.Done(turn.MessageID, nil)
		o.setStatus(StatusCompleted)
		return nil
	}

	start := time.Now()
	emit := func(accumulated string) {
		o.setStatus(StatusStreaming)
		o.sink.OutputText(accumulated, turn.MessageID)
	}

	_, err := o.streamer.Send(ctx, turn, emit)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		o.logger.Error("request failed",
			"provider", provider,
			"message_id", turn.MessageID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(otel.StatusError, err.Error())
		o.setStatus(StatusFailed)
	} else {
		o.setStatus(StatusCompleted)
	}

	o.metrics.Counter(otel.MetricRequests).Add(ctx, 1,
		otel.NewAttr(otel.AttrLLMProvider, provider),
		otel.NewAttr("outcome", outcome))
	o.metrics.Histogram(otel.MetricRequestDuration).Record(ctx,
		time.Since(start).Seconds(),
		otel.NewAttr(otel.AttrLLMProvider, provider))

	o.sink.Done(turn.MessageID, err)
	return err
}
