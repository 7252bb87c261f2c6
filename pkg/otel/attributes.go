package otel

import "go.opentelemetry.io/otel/attribute"

// 预定义的语义属性键
// 遵循 OpenTelemetry 语义约定
const (
	// 上下文树相关属性
	AttrCategory  = "context.category"
	AttrItem      = "context.item"
	AttrOperation = "context.operation"

	// LLM 相关属性
	AttrLLMProvider  = "llm.provider"
	AttrLLMModel     = "llm.model"
	AttrLLMMessageID = "llm.message_id"

	// 提示词相关属性
	AttrPromptBytes = "prompt.bytes"
	AttrPromptURLs  = "prompt.url_count"
	AttrPromptFiles = "prompt.file_count"
)

// Category 创建分类属性
func Category(name string) attribute.KeyValue {
	return attribute.String(AttrCategory, name)
}

// Item 创建条目属性
func Item(key string) attribute.KeyValue {
	return attribute.String(AttrItem, key)
}

// LLMProvider 创建提供商属性
func LLMProvider(provider string) attribute.KeyValue {
	return attribute.String(AttrLLMProvider, provider)
}

// LLMModel 创建模型属性
func LLMModel(model string) attribute.KeyValue {
	return attribute.String(AttrLLMModel, model)
}

// MessageID 创建消息标识属性
func MessageID(id string) attribute.KeyValue {
	return attribute.String(AttrLLMMessageID, id)
}
