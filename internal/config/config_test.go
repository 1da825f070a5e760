// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.Listen != ":15080" {
			t.Errorf("Listen 默认值错误: got %s, want :15080", cfg.Listen)
		}
		if cfg.Mode != "udp" {
			t.Errorf("Mode 默认值错误: got %s, want udp", cfg.Mode)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
	})

	t.Run("传输配置默认值", func(t *testing.T) {
		if cfg.Transport.MTU != 1500 {
			t.Errorf("Transport.MTU 默认值错误: got %d, want 1500", cfg.Transport.MTU)
		}
		if cfg.Transport.ReceivePollMs != 10 {
			t.Errorf("Transport.ReceivePollMs 默认值错误: got %d, want 10", cfg.Transport.ReceivePollMs)
		}
	})

	t.Run("保活配置默认值", func(t *testing.T) {
		if !cfg.Keepalive.Enabled {
			t.Error("Keepalive.Enabled 默认应为 true")
		}
		if cfg.Keepalive.PingIntervalMs != 2000 {
			t.Errorf("Keepalive.PingIntervalMs 默认值错误: got %d, want 2000", cfg.Keepalive.PingIntervalMs)
		}
		if cfg.Keepalive.IdleTimeoutMs != 30000 {
			t.Errorf("Keepalive.IdleTimeoutMs 默认值错误: got %d, want 30000", cfg.Keepalive.IdleTimeoutMs)
		}
	})

	t.Run("默认配置应通过校验", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置校验失败: %v", err)
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		keyword string
	}{
		{"无效模式", func(c *Config) { c.Mode = "tcp" }, "无效模式"},
		{"无效日志级别", func(c *Config) { c.LogLevel = "trace" }, "无效日志级别"},
		{"MTU 过小", func(c *Config) { c.Transport.MTU = 100 }, "无效 MTU"},
		{"MTU 过大", func(c *Config) { c.Transport.MTU = 9000 }, "无效 MTU"},
		{"轮询间隔非正", func(c *Config) { c.Transport.ReceivePollMs = 0 }, "无效轮询间隔"},
		{"保活间隔非正", func(c *Config) { c.Keepalive.PingIntervalMs = 0 }, "无效保活间隔"},
		{"空闲上限过小", func(c *Config) { c.Keepalive.IdleTimeoutMs = 1000 }, "空闲上限"},
		{"监控缺监听地址", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }, "监听地址"},
		{"监控路径无斜杠", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "无效监控路径"},
		{"WS 路径无斜杠", func(c *Config) { c.Mode = "websocket"; c.WebSocket.Path = "halley" }, "无效 WebSocket 路径"},
		{"WS TLS 缺证书", func(c *Config) { c.Mode = "websocket"; c.WebSocket.TLS = true }, "证书"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("错误配置应被拦截")
			}
			if !strings.Contains(err.Error(), tc.keyword) {
				t.Errorf("错误信息不包含关键字 %q: %v", tc.keyword, err)
			}
		})
	}
}

// =============================================================================
// 加载测试
// =============================================================================

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("文件不存在时应返回默认配置: %v", err)
	}
	if cfg.Listen != ":15080" {
		t.Errorf("默认 Listen 不正确: got %s", cfg.Listen)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen: ":25080"
mode: websocket
log_level: debug
transport:
  mtu: 1400
  receive_poll_ms: 5
websocket:
  listen: ":25081"
  path: /tunnel
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Listen != ":25080" {
		t.Errorf("Listen 覆盖失败: got %s, want :25080", cfg.Listen)
	}
	if cfg.Mode != "websocket" {
		t.Errorf("Mode 覆盖失败: got %s, want websocket", cfg.Mode)
	}
	if cfg.Transport.MTU != 1400 {
		t.Errorf("MTU 覆盖失败: got %d, want 1400", cfg.Transport.MTU)
	}
	if cfg.WebSocket.Path != "/tunnel" {
		t.Errorf("WebSocket.Path 覆盖失败: got %s, want /tunnel", cfg.WebSocket.Path)
	}
	// 未覆盖的字段保持默认
	if cfg.Keepalive.PingIntervalMs != 2000 {
		t.Errorf("未覆盖字段不应变化: got %d, want 2000", cfg.Keepalive.PingIntervalMs)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")

	t.Run("非法 YAML", func(t *testing.T) {
		os.WriteFile(path, []byte("listen: [unclosed"), 0644)
		if _, err := Load(path); err == nil {
			t.Error("非法 YAML 应报错")
		}
	})

	t.Run("非法取值", func(t *testing.T) {
		os.WriteFile(path, []byte("mode: carrier-pigeon"), 0644)
		if _, err := Load(path); err == nil {
			t.Error("非法模式应被校验拦截")
		}
	})
}

func TestWriteExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")

	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("生成示例配置失败: %v", err)
	}

	// 生成的示例应能被重新加载
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置应能重新加载: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("示例配置应通过校验: %v", err)
	}
}
