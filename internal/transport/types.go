// =============================================================================
// 文件: internal/transport/types.go
// 描述: 传输层统一类型定义 - 连接状态、底座接口、连接接口
// =============================================================================
package transport

import (
	"fmt"
	"net"

	"github.com/mrcgq/311/internal/packet"
)

// 传输层常量
const (
	// MaxDatagramSize 单个数据报最大字节数
	MaxDatagramSize = 1500

	// ConnIDHeaderSize 不可靠层连接标识头大小
	ConnIDHeaderSize = 1

	// UnassignedConnID 未分配连接标识
	UnassignedConnID = int16(-1)
)

// 错误定义
var (
	ErrDatagramTooLarge = fmt.Errorf("数据报超过 %d 字节上限", MaxDatagramSize)
	ErrInvalidTag       = fmt.Errorf("标签必须为非负数")
	ErrSubPacketHeader  = fmt.Errorf("子包头缺失")
	ErrSubPacketSize    = fmt.Errorf("子包长度异常")
)

// ConnStatus 连接状态
type ConnStatus uint8

const (
	StatusConnecting ConnStatus = iota
	StatusOpen
	StatusClosing
	StatusClosed
)

func (s ConnStatus) String() string {
	names := []string{"CONNECTING", "OPEN", "CLOSING", "CLOSED"}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// Connection 连接统一接口
// UDPConnection 和 ReliableConnection 均实现该接口，可靠层通过它包装下层连接
type Connection interface {
	// Status 获取连接状态
	Status() ConnStatus

	// Send 发送数据包 (状态不可发送时静默丢弃)
	Send(p *packet.Outbound)

	// Receive 取出一个待处理的入站包，没有时返回 false
	Receive() (*packet.Inbound, bool)

	// Close 关闭连接 (幂等)
	Close()
}

// Socket 数据报底座
// 核心只依赖 "向某端点异步发送一段字节" 这一原语，UDP 和 WebSocket 底座均实现它
type Socket interface {
	// AsyncSendTo 异步发送数据报，完成后回调 completion
	// data 在 completion 被调用前必须保持有效
	AsyncSendTo(data []byte, remote net.Addr, completion func(error))

	// Close 关闭底座
	Close() error
}

// DatagramHandler 入站数据报处理接口
// 底座的读取循环把每个数据报连同来源地址交给它 (通常是 Acceptor)
type DatagramHandler interface {
	HandleDatagram(data []byte, from net.Addr)
}

// DatagramHandlerFunc 函数形式的 DatagramHandler 适配器
type DatagramHandlerFunc func(data []byte, from net.Addr)

func (f DatagramHandlerFunc) HandleDatagram(data []byte, from net.Addr) {
	f(data, from)
}

// sameEndpoint 端点等价判断
// net.Addr 不可直接比较，按网络类型和字符串形式比较
func sameEndpoint(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
