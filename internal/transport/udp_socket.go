// =============================================================================
// 文件: internal/transport/udp_socket.go
// 描述: UDP 数据报底座 - 异步发送原语 + 读取循环
// =============================================================================
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

// UDPSocket UDP 底座
// 发送在独立协程完成并回调 completion；读取循环把每个数据报交给 DatagramHandler
type UDPSocket struct {
	conn *net.UDPConn

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewUDPSocket 创建 UDP 底座
func NewUDPSocket(conn *net.UDPConn) *UDPSocket {
	return &UDPSocket{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// ListenUDP 监听本地地址并创建底座
func ListenUDP(listen string) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewUDPSocket(conn), nil
}

// LocalAddr 获取本地地址
func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// AsyncSendTo 异步发送数据报
// data 在底座内部先行拷贝，调用方返回后即可复用缓冲区
func (s *UDPSocket) AsyncSendTo(data []byte, remote net.Addr, completion func(error)) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.closed:
			completion(errors.New("底座已关闭"))
			return
		default:
		}

		_, err := s.conn.WriteTo(buf, remote)
		completion(err)
	}()
}

// Serve 运行读取循环，把入站数据报交给 handler
// ctx 取消或底座关闭后返回
func (s *UDPSocket) Serve(ctx context.Context, handler DatagramHandler) error {
	buf := make([]byte, 65535)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		handler.HandleDatagram(data, from)
	}
}

// Close 关闭底座
func (s *UDPSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
