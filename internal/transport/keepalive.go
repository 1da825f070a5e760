// =============================================================================
// 文件: internal/transport/keepalive.go
// 描述: 保活监视器 - 核心协议不做超时，由外部组件按收发时间驱动
// =============================================================================
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/mrcgq/311/internal/packet"
)

// 保活默认参数
const (
	DefaultPingInterval = 2 * time.Second
	DefaultIdleTimeout  = 30 * time.Second
)

// KeepaliveMonitor 保活监视器
// 周期检查可靠连接的收发间隔: 发送侧静默超过 ping 间隔就发一个空子包
// (仅携带序列号与确认位图)，接收侧静默超过空闲上限就关闭连接
type KeepaliveMonitor struct {
	conn *ReliableConnection

	pingInterval time.Duration
	idleTimeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewKeepaliveMonitor 创建保活监视器
// pingInterval/idleTimeout 非正时使用默认值
func NewKeepaliveMonitor(conn *ReliableConnection, pingInterval, idleTimeout time.Duration) *KeepaliveMonitor {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &KeepaliveMonitor{
		conn:         conn,
		pingInterval: pingInterval,
		idleTimeout:  idleTimeout,
	}
}

// Start 启动监视循环
func (m *KeepaliveMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop 停止监视循环
func (m *KeepaliveMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// loop 监视循环
func (m *KeepaliveMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.pingInterval
	if m.idleTimeout < interval {
		interval = m.idleTimeout
	}
	interval /= 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check 单次检查
func (m *KeepaliveMonitor) check() {
	status := m.conn.Status()
	if status != StatusOpen && status != StatusConnecting {
		return
	}

	if m.conn.TimeSinceLastReceive() > m.idleTimeout {
		m.conn.Close()
		return
	}

	if m.conn.TimeSinceLastSend() > m.pingInterval {
		// 空子包: 不携带负载，只为对端送去最新的确认位图
		m.conn.Send(packet.NewOutbound(nil))
	}
}
