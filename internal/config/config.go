// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 默认值、加载、校验、示例配置生成
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	Connect  string `yaml:"connect"`
	Mode     string `yaml:"mode"` // udp, websocket
	LogLevel string `yaml:"log_level"`

	Transport TransportConfig `yaml:"transport"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// MTU 单数据报预算，校验范围 576~1500；
	// 传输层不读取该值，数据报上限固定为 MaxDatagramSize (1500)
	MTU int `yaml:"mtu"`

	// ReceivePollMs 上层取包轮询间隔 (毫秒)
	ReceivePollMs int `yaml:"receive_poll_ms"`
}

// KeepaliveConfig 保活配置
type KeepaliveConfig struct {
	Enabled        bool `yaml:"enabled"`
	PingIntervalMs int  `yaml:"ping_interval_ms"`
	IdleTimeoutMs  int  `yaml:"idle_timeout_ms"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// WebSocketConfig WebSocket 底座配置
type WebSocketConfig struct {
	Listen   string `yaml:"listen"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"` // 客户端拨号地址
	TLS      bool   `yaml:"tls"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":15080",
		Mode:     "udp",
		LogLevel: "info",
		Transport: TransportConfig{
			MTU:           1500,
			ReceivePollMs: 10,
		},
		Keepalive: KeepaliveConfig{
			Enabled:        true,
			PingIntervalMs: 2000,
			IdleTimeoutMs:  30000,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9090",
			Path:       "/metrics",
			HealthPath: "/healthz",
		},
		WebSocket: WebSocketConfig{
			Listen: ":15081",
			Path:   "/halley",
		},
	}
}

// Load 从文件加载配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Mode {
	case "udp", "websocket":
	default:
		return fmt.Errorf("无效模式: %s (可选 udp/websocket)", c.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		return fmt.Errorf("无效日志级别: %s (可选 debug/info/error)", c.LogLevel)
	}

	if c.Transport.MTU < 576 || c.Transport.MTU > 1500 {
		return fmt.Errorf("无效 MTU: %d (范围 576~1500)", c.Transport.MTU)
	}

	if c.Transport.ReceivePollMs <= 0 {
		return fmt.Errorf("无效轮询间隔: %d", c.Transport.ReceivePollMs)
	}

	if c.Keepalive.Enabled {
		if c.Keepalive.PingIntervalMs <= 0 {
			return fmt.Errorf("无效保活间隔: %d", c.Keepalive.PingIntervalMs)
		}
		if c.Keepalive.IdleTimeoutMs <= c.Keepalive.PingIntervalMs {
			return fmt.Errorf("空闲上限 (%d) 必须大于保活间隔 (%d)",
				c.Keepalive.IdleTimeoutMs, c.Keepalive.PingIntervalMs)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("启用监控时必须配置监听地址")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("无效监控路径: %s", c.Metrics.Path)
		}
		if !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("无效健康检查路径: %s", c.Metrics.HealthPath)
		}
	}

	if c.Mode == "websocket" {
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("无效 WebSocket 路径: %s", c.WebSocket.Path)
		}
		if c.WebSocket.TLS && (c.WebSocket.CertFile == "" || c.WebSocket.KeyFile == "") {
			return fmt.Errorf("启用 TLS 时必须配置证书和私钥")
		}
	}

	return nil
}

// WriteExampleConfig 生成示例配置文件
func WriteExampleConfig(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("序列化示例配置失败: %w", err)
	}

	header := []byte("# halley 传输层示例配置\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
