package config

// Provider 后端提供商类型
type Provider string

const (
	// ProviderOpenAI OpenAI 兼容提供商
	ProviderOpenAI Provider = "openai"
	// ProviderOllama Ollama 提供商
	ProviderOllama Provider = "ollama"
	// ProviderNone 未启用任何提供商
	ProviderNone Provider = "none"
)

// IsValid 检查提供商是否有效
func (p Provider) IsValid() bool {
	switch p {
	case ProviderOpenAI, ProviderOllama, ProviderNone:
		return true
	default:
		return false
	}
}

// WebScrapeClient 网页抓取客户端类型
type WebScrapeClient string

const (
	// ScrapeInternal 内置抓取（直接下载并提取正文）
	ScrapeInternal WebScrapeClient = "internal"
	// ScrapeExternal 外部阅读器服务抓取
	ScrapeExternal WebScrapeClient = "external"
)

// IsValid 检查抓取客户端是否有效
func (c WebScrapeClient) IsValid() bool {
	switch c {
	case ScrapeInternal, ScrapeExternal:
		return true
	default:
		return false
	}
}

// BackendConfig 单个后端提供商配置
type BackendConfig struct {
	// Enabled 是否启用该后端
	Enabled bool `koanf:"enabled"`
	// BaseURL API 端点
	BaseURL string `koanf:"base_url"`
	// APIKey API 密钥（Ollama 不需要）
	APIKey string `koanf:"api_key"`
	// Model 模型名称
	Model string `koanf:"model"`
	// Temperature 温度参数
	Temperature float64 `koanf:"temperature"`
}

// EnabledProvider 返回当前启用的提供商。
//
// 最多允许同时启用一个；两个都启用视为配置错误。
func (c *Config) EnabledProvider() (Provider, error) {
	if c.OpenAI.Enabled && c.Ollama.Enabled {
		return ProviderNone, ErrMultipleBackends
	}
	if c.OpenAI.Enabled {
		return ProviderOpenAI, nil
	}
	if c.Ollama.Enabled {
		return ProviderOllama, nil
	}
	return ProviderNone, nil
}

// Backend 返回指定提供商的后端配置
func (c *Config) Backend(p Provider) BackendConfig {
	switch p {
	case ProviderOpenAI:
		return c.OpenAI
	case ProviderOllama:
		return c.Ollama
	default:
		return BackendConfig{}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := c.EnabledProvider(); err != nil {
		return err
	}
	if !c.WebScrapeClient.IsValid() {
		return ErrUnknownScrapeClient
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return ErrInvalidTemperature
	}
	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 2 {
		return ErrInvalidTemperature
	}
	if c.Index.MaxAttempts < 0 {
		return ErrInvalidIndexPolicy
	}
	return nil
}
