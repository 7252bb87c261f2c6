package config

import "errors"

// 配置验证相关错误
var (
	// ErrMultipleBackends 同时启用了多个后端
	ErrMultipleBackends = errors.New("at most one backend provider may be enabled")
	// ErrUnknownScrapeClient 未知的网页抓取客户端
	ErrUnknownScrapeClient = errors.New("unknown web scraping client")
	// ErrInvalidTemperature 温度值无效
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")
	// ErrInvalidIndexPolicy 索引轮询配置无效
	ErrInvalidIndexPolicy = errors.New("index retry policy is invalid")
)
