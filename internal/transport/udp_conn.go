// =============================================================================
// 文件: internal/transport/udp_conn.go
// 描述: 不可靠连接 - 握手状态机 + 连接标识帧 + 底座发送串行化
// =============================================================================
package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/mrcgq/311/internal/packet"
)

// 握手常量
const (
	// handshakeMagicSize 握手魔数字节数 ("halley_accp" + 终止符)
	handshakeMagicSize = 12

	// HandshakeAcceptSize 握手接受记录总大小
	// 12 字节魔数 + 2 字节连接标识 (小端 int16) + 2 字节保留 (未来的会话密钥协商)
	HandshakeAcceptSize = 16
)

// handshakeMagic 握手接受记录魔数，逐字节比较
var handshakeMagic = [handshakeMagicSize]byte{'h', 'a', 'l', 'l', 'e', 'y', '_', 'a', 'c', 'c', 'p', 0}

// encodeHandshakeAccept 编码握手接受记录
func encodeHandshakeAccept(id int16) []byte {
	buf := make([]byte, HandshakeAcceptSize)
	copy(buf, handshakeMagic[:])
	binary.LittleEndian.PutUint16(buf[handshakeMagicSize:], uint16(id))
	return buf
}

// decodeHandshakeAccept 校验并解码握手接受记录
// 长度或魔数不符时返回 false (静默忽略，对端会重试)
func decodeHandshakeAccept(data []byte) (int16, bool) {
	if len(data) != HandshakeAcceptSize {
		return 0, false
	}
	for i := 0; i < handshakeMagicSize; i++ {
		if data[i] != handshakeMagic[i] {
			return 0, false
		}
	}
	return int16(binary.LittleEndian.Uint16(data[handshakeMagicSize:])), true
}

// UDPConnection 不可靠连接
// 维护单个远端的握手状态机，出站包前置 1 字节连接标识，
// 底座发送通过 pendingSend 队列串行化，同一时刻最多一个在途发送
type UDPConnection struct {
	sock   Socket
	remote net.Addr

	status ConnStatus
	connID int16

	pendingSend    []*packet.Outbound
	pendingReceive []*packet.Inbound

	// 底座发送原语的复用缓冲区
	sendScratch [MaxDatagramSize]byte

	lastErr string

	logf func(format string, args ...interface{})

	mu sync.Mutex
}

// NewUDPConnection 创建不可靠连接，初始状态 CONNECTING，连接标识未分配
func NewUDPConnection(sock Socket, remote net.Addr) *UDPConnection {
	return &UDPConnection{
		sock:   sock,
		remote: remote,
		status: StatusConnecting,
		connID: UnassignedConnID,
	}
}

// SetLogger 设置调试日志输出 (可选)
func (c *UDPConnection) SetLogger(logf func(format string, args ...interface{})) {
	c.logf = logf
}

// Status 获取连接状态
func (c *UDPConnection) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConnID 获取连接标识，未分配时为 -1
func (c *UDPConnection) ConnID() int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// RemoteAddr 获取远端地址
func (c *UDPConnection) RemoteAddr() net.Addr {
	return c.remote
}

// Error 获取最后一次错误描述
func (c *UDPConnection) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send 发送数据包
// 仅在 OPEN 或 CONNECTING 状态下发送，其余状态静默丢弃；
// 前置 1 字节连接标识后入队，队列为空时立即发起底座发送
func (c *UDPConnection) Send(p *packet.Outbound) {
	c.mu.Lock()

	if c.status != StatusOpen && c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}

	p.AddHeader([]byte{byte(int8(c.connID))})

	needsSend := len(c.pendingSend) == 0
	c.pendingSend = append(c.pendingSend, p)
	c.mu.Unlock()

	if needsSend {
		c.sendNext()
	}
}

// sendNext 发起队首包的底座发送
// 队首元素在完成回调里才出队: 队列非空即表示有发送在途，
// 新的 Send 只入队不再触发第二条发送链，复用缓冲区不会被并发覆盖。
// 发起底座调用时不持锁，completion 同步回调也不会死锁
func (c *UDPConnection) sendNext() {
	c.mu.Lock()
	for {
		if len(c.pendingSend) == 0 {
			c.mu.Unlock()
			return
		}

		p := c.pendingSend[0]

		n, err := p.CopyTo(c.sendScratch[:])
		if err != nil {
			// 超出数据报预算，丢弃该包并尝试下一个
			c.pendingSend = c.pendingSend[1:]
			c.setErrorLocked(fmt.Sprintf("出站包超过数据报预算: %v", err))
			continue
		}

		data := c.sendScratch[:n]
		c.mu.Unlock()
		c.sock.AsyncSendTo(data, c.remote, c.onSendComplete)
		return
	}
}

// onSendComplete 底座发送完成回调
// 出队已发送的包；发送出错时关闭连接，否则继续发送队列中的下一个包
func (c *UDPConnection) onSendComplete(err error) {
	c.mu.Lock()

	if len(c.pendingSend) > 0 {
		c.pendingSend = c.pendingSend[1:]
	}

	if err != nil {
		if c.logf != nil {
			c.logf("底座发送失败: %v", err)
		}
		c.setErrorLocked(err.Error())
		c.closeLocked()
		c.mu.Unlock()
		return
	}

	more := len(c.pendingSend) > 0
	c.mu.Unlock()

	if more {
		c.sendNext()
	}
}

// Receive 取出一个待处理的入站包
func (c *UDPConnection) Receive() (*packet.Inbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingReceive) == 0 {
		return nil, false
	}
	p := c.pendingReceive[0]
	c.pendingReceive = c.pendingReceive[1:]
	return p, true
}

// MatchesEndpoint 判断入站数据报是否应路由到本连接
// 端点一致且 (标识未知或与本连接标识相同) 时匹配
func (c *UDPConnection) MatchesEndpoint(id int16, remote net.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (id == UnassignedConnID || id == c.connID) && sameEndpoint(c.remote, remote)
}

// OnReceive 处理一个已剥离连接标识头的入站数据报
// CONNECTING: 仅识别握手接受记录，其余数据报静默忽略
// OPEN:       入队等待上层取出
// 超过数据报上限属于分发器的契约违规，返回错误
func (c *UDPConnection) OnReceive(data []byte) error {
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: %d", ErrDatagramTooLarge, len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case StatusConnecting:
		if id, ok := decodeHandshakeAccept(data); ok {
			c.openLocked(id)
		}
	case StatusOpen:
		c.pendingReceive = append(c.pendingReceive, packet.NewInbound(data))
	}

	return nil
}

// Open 服务端接受握手
// CONNECTING 状态下合成握手接受记录发给对端，并以指定标识进入 OPEN
func (c *UDPConnection) Open(id int16) {
	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// 接受记录经过常规发送路径，同样带连接标识头 (此刻仍为 -1)
	c.Send(packet.NewOutbound(encodeHandshakeAccept(id)))

	c.mu.Lock()
	c.openLocked(id)
	c.mu.Unlock()
}

// openLocked 进入 OPEN 状态并固定连接标识 (调用方需持锁)
func (c *UDPConnection) openLocked(id int16) {
	if c.logf != nil {
		c.logf("连接建立: id=%d remote=%s", id, c.remote)
	}
	c.connID = id
	c.status = StatusOpen
}

// Close 关闭连接 (幂等)，进入 CLOSING
func (c *UDPConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *UDPConnection) closeLocked() {
	if c.status == StatusOpen {
		// TODO: 发送连接关闭通知报文
	}
	c.status = StatusClosing
}

// Terminate 终止连接，进入终态 CLOSED
func (c *UDPConnection) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusClosed
}

func (c *UDPConnection) setErrorLocked(msg string) {
	c.lastErr = msg
}

// GetStats 获取连接统计
func (c *UDPConnection) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"status":          c.status.String(),
		"conn_id":         c.connID,
		"remote":          c.remote.String(),
		"pending_send":    len(c.pendingSend),
		"pending_receive": len(c.pendingReceive),
		"last_error":      c.lastErr,
	}
}
