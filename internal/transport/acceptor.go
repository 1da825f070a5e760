// =============================================================================
// 文件: internal/transport/acceptor.go
// 描述: 连接分发器 - 按连接标识 + 端点路由入站数据报，服务端分配连接标识
// =============================================================================
package transport

import (
	"net"
	"sync"

	"github.com/mrcgq/311/internal/metrics"
)

// AcceptHandler 新连接事件接口
// 服务端接受一个远端的首个数据报并完成握手后回调
type AcceptHandler interface {
	OnAccept(conn *UDPConnection)
}

// Acceptor 连接分发器
// 入站数据报先剥离 1 字节连接标识，再按 MatchesEndpoint 找到归属连接；
// 服务端模式下未知端点会创建新连接并立即应答握手
type Acceptor struct {
	sock Socket

	conns  []*UDPConnection
	nextID int16

	// acceptNew 为 true 时对未知端点执行服务端握手
	acceptNew bool
	handler   AcceptHandler

	mt   *metrics.HalleyMetrics
	logf func(format string, args ...interface{})

	mu sync.Mutex
}

// NewAcceptor 创建服务端分发器，未知端点会被接受为新连接
func NewAcceptor(sock Socket, handler AcceptHandler) *Acceptor {
	return &Acceptor{
		sock:      sock,
		acceptNew: true,
		handler:   handler,
		nextID:    1,
	}
}

// NewDispatcher 创建客户端分发器，只路由到已注册连接
func NewDispatcher(sock Socket) *Acceptor {
	return &Acceptor{
		sock: sock,
	}
}

// SetMetrics 挂接指标收集 (可选)
func (a *Acceptor) SetMetrics(mt *metrics.HalleyMetrics) {
	a.mt = mt
}

// SetLogger 设置调试日志输出 (可选)
func (a *Acceptor) SetLogger(logf func(format string, args ...interface{})) {
	a.logf = logf
}

// AddConnection 注册一个已有连接 (客户端主动拨号时使用)
func (a *Acceptor) AddConnection(conn *UDPConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns = append(a.conns, conn)
}

// HandleDatagram 处理一个入站数据报
// 超过数据报上限属于底座读取层的契约违规，记录错误并丢弃整个数据报
func (a *Acceptor) HandleDatagram(data []byte, from net.Addr) {
	if len(data) > MaxDatagramSize {
		if a.logf != nil {
			a.logf("入站数据报超限: %d 字节, 来源 %s", len(data), from)
		}
		if a.mt != nil {
			a.mt.ProtocolErrors.WithLabelValues("oversize_datagram").Inc()
		}
		return
	}
	if len(data) < ConnIDHeaderSize {
		return
	}

	id := int16(int8(data[0]))
	payload := data[ConnIDHeaderSize:]

	conn := a.findConnection(id, from)
	if conn == nil {
		if !a.acceptNew {
			return
		}
		conn = a.acceptConnection(from)
		if conn == nil {
			return
		}
	}

	if a.mt != nil {
		a.mt.PacketsTotal.WithLabelValues("in").Inc()
		a.mt.BytesTotal.WithLabelValues("in").Add(float64(len(data)))
	}

	if err := conn.OnReceive(payload); err != nil {
		if a.logf != nil {
			a.logf("连接 %d 处理数据报失败: %v", conn.ConnID(), err)
		}
		if a.mt != nil {
			a.mt.ProtocolErrors.WithLabelValues("receive").Inc()
		}
	}
}

// findConnection 查找归属连接
func (a *Acceptor) findConnection(id int16, from net.Addr) *UDPConnection {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, conn := range a.conns {
		if conn.MatchesEndpoint(id, from) {
			return conn
		}
	}
	return nil
}

// acceptConnection 服务端接受未知端点
// 创建连接、分配标识并发送握手接受记录
func (a *Acceptor) acceptConnection(from net.Addr) *UDPConnection {
	a.mu.Lock()
	conn := NewUDPConnection(a.sock, from)
	conn.SetLogger(a.logf)
	id := a.nextID
	a.nextID++
	if a.nextID < 0 {
		a.nextID = 1
	}
	a.conns = append(a.conns, conn)
	a.mu.Unlock()

	conn.Open(id)

	if a.logf != nil {
		a.logf("接受新连接: id=%d remote=%s", id, from)
	}
	if a.mt != nil {
		a.mt.HandshakesTotal.WithLabelValues("accepted").Inc()
		a.mt.ActiveConnections.Inc()
		a.mt.ConnectionsTotal.WithLabelValues("accepted").Inc()
	}

	if a.handler != nil {
		a.handler.OnAccept(conn)
	}

	return conn
}

// PurgeClosed 移除已终止的连接，返回移除数量
func (a *Acceptor) PurgeClosed() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.conns[:0]
	removed := 0
	for _, conn := range a.conns {
		if conn.Status() == StatusClosed {
			removed++
			if a.mt != nil {
				a.mt.ActiveConnections.Dec()
			}
			continue
		}
		kept = append(kept, conn)
	}
	a.conns = kept
	return removed
}

// CloseAll 关闭所有连接
func (a *Acceptor) CloseAll() {
	a.mu.Lock()
	conns := make([]*UDPConnection, len(a.conns))
	copy(conns, a.conns)
	a.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// ConnectionCount 当前连接数
func (a *Acceptor) ConnectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}
