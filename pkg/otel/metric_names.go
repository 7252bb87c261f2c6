package otel

// 指标名称
//
// 覆盖上下文树、提示词装配与后端流式请求三类核心路径。
const (
	// MetricContextMutations 上下文树成功变更次数
	MetricContextMutations = "aicontext.store.mutations"
	// MetricContextItems 当前条目总数
	MetricContextItems = "aicontext.store.items"
	// MetricContextTokens 启用条目的 token 总数
	MetricContextTokens = "aicontext.store.tokens"

	// MetricPromptAssemblies 提示词装配次数
	MetricPromptAssemblies = "aicontext.prompt.assemblies"
	// MetricPromptBytes 装配产出的提示词字节数
	MetricPromptBytes = "aicontext.prompt.bytes"
	// MetricWebReferences 解析的网页引用数量
	MetricWebReferences = "aicontext.prompt.web_references"

	// MetricRequests 后端请求次数（按提供商与结果区分）
	MetricRequests = "aicontext.ai.requests"
	// MetricStreamChunks 收到的流式响应块数量
	MetricStreamChunks = "aicontext.ai.stream_chunks"
	// MetricRequestDuration 请求耗时（秒）
	MetricRequestDuration = "aicontext.ai.request_duration"
)
