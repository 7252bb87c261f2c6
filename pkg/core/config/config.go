// Package config 提供配置加载和管理功能
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/easyops/aicontext-go/pkg/otel"
)

// Config 全局配置结构
type Config struct {
	// OpenAI OpenAI 兼容后端配置
	OpenAI BackendConfig `koanf:"openai"`
	// Ollama Ollama 后端配置
	Ollama BackendConfig `koanf:"ollama"`
	// WebScrapeClient 网页抓取客户端选择
	WebScrapeClient WebScrapeClient `koanf:"web_scrape_client"`
	// Index 符号索引轮询配置
	Index IndexConfig `koanf:"index"`
	// StatePath 状态数据库路径（空则仅内存）
	StatePath string `koanf:"state_path"`
	// Observability 可观测性配置
	Observability ObservabilityConfig `koanf:"observability"`
}

// IndexConfig 符号索引轮询配置
//
// 语言服务尚未就绪时按固定间隔有限次重试。
type IndexConfig struct {
	// MaxAttempts 最大轮询次数
	MaxAttempts int `koanf:"max_attempts"`
	// Interval 轮询间隔
	Interval time.Duration `koanf:"interval"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	// Enabled 是否启用
	Enabled bool `koanf:"enabled"`
	// ServiceName 服务名称
	ServiceName string `koanf:"service_name"`
	// TracerEndpoint 追踪端点
	TracerEndpoint string `koanf:"tracer_endpoint"`
	// MetricsEndpoint 指标端点
	MetricsEndpoint string `koanf:"metrics_endpoint"`
	// SampleRate 采样率 [0, 1]
	SampleRate float64 `koanf:"sample_rate"`
}

// OTelConfig 转换为可观测性提供者配置
//
// 端点为空时沿用提供者的默认导出器配置。
func (o ObservabilityConfig) OTelConfig() otel.Config {
	cfg := otel.Config{
		Enabled:     o.Enabled,
		ServiceName: o.ServiceName,
	}
	cfg.Tracing.Enabled = o.Enabled
	cfg.Tracing.SampleRate = o.SampleRate
	if o.TracerEndpoint != "" {
		cfg.Tracing.Exporter = otel.ExporterConfig{
			Type:     otel.ExporterOTLPGRPC,
			Endpoint: o.TracerEndpoint,
			Insecure: true,
		}
	}
	cfg.Metrics.Enabled = o.Enabled
	if o.MetricsEndpoint != "" {
		cfg.Metrics.Exporter = otel.ExporterConfig{
			Type:     otel.ExporterOTLPGRPC,
			Endpoint: o.MetricsEndpoint,
			Insecure: true,
		}
	}
	return cfg
}

// Loader 配置加载器
type Loader struct {
	k *koanf.Koanf
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New("."),
	}
}

// envSections 嵌套配置节的名称
//
// 只有节名后的第一个下划线是层级分隔符，其余下划线属于键名本身，
// 例如 AICONTEXT_OPENAI_API_KEY 对应 openai.api_key。
var envSections = []string{"openai", "ollama", "index", "observability"}

// LoadEnv 从环境变量加载配置
func (l *Loader) LoadEnv(prefix string) error {
	return l.k.Load(env.Provider(prefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		for _, section := range envSections {
			if rest, ok := strings.CutPrefix(s, section+"_"); ok {
				return section + "." + rest
			}
		}
		// 顶层键保持下划线形式，如 web_scrape_client、state_path
		return s
	}), nil)
}

// Unmarshal 解析配置到结构体
func (l *Loader) Unmarshal(cfg *Config) error {
	return l.k.Unmarshal("", cfg)
}

// Get 获取配置值
func (l *Loader) Get(key string) interface{} {
	return l.k.Get(key)
}

// GetString 获取字符串配置值
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetBool 获取布尔配置值
func (l *Loader) GetBool(key string) bool {
	return l.k.Bool(key)
}

// GetDuration 获取时间间隔配置值
func (l *Loader) GetDuration(key string) time.Duration {
	return l.k.Duration(key)
}

// Load 加载完整配置（环境变量 + 默认值）
func Load() (*Config, error) {
	loader := NewLoader()

	if err := loader.LoadEnv("AICONTEXT_"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 应用默认配置值
func applyDefaults(cfg *Config) {
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.2
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://localhost:11434/api/generate"
	}
	if cfg.Ollama.Temperature == 0 {
		cfg.Ollama.Temperature = 0.2
	}
	if cfg.WebScrapeClient == "" {
		cfg.WebScrapeClient = ScrapeInternal
	}
	if cfg.Index.MaxAttempts == 0 {
		cfg.Index.MaxAttempts = 5
	}
	if cfg.Index.Interval == 0 {
		cfg.Index.Interval = time.Second
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}
