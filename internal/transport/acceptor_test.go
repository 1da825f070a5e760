// =============================================================================
// 文件: internal/transport/acceptor_test.go
// 描述: 连接分发器测试 - 路由、服务端接受、回收
// =============================================================================
package transport

import (
	"testing"
)

type mockAcceptHandler struct {
	accepted []*UDPConnection
}

func (h *mockAcceptHandler) OnAccept(conn *UDPConnection) {
	h.accepted = append(h.accepted, conn)
}

// frame 构造带连接标识头的线上数据报
func frame(id int8, payload []byte) []byte {
	return append([]byte{byte(id)}, payload...)
}

func TestAcceptorAcceptsUnknownEndpoint(t *testing.T) {
	sock := &mockSocket{}
	handler := &mockAcceptHandler{}
	a := NewAcceptor(sock, handler)

	a.HandleDatagram(frame(-1, []byte("first-datagram")), testAddr(3000))

	if len(handler.accepted) != 1 {
		t.Fatalf("应接受 1 个新连接: got %d", len(handler.accepted))
	}

	conn := handler.accepted[0]
	if conn.Status() != StatusOpen {
		t.Errorf("接受后连接应为 OPEN: got %v", conn.Status())
	}
	if conn.ConnID() != 1 {
		t.Errorf("首个连接标识应为 1: got %d", conn.ConnID())
	}

	// 握手接受记录已回发
	sent := sock.sentDatagrams()
	if len(sent) != 1 {
		t.Fatalf("应回发握手记录: got %d 个数据报", len(sent))
	}
	if id, ok := decodeHandshakeAccept(sent[0][1:]); !ok || id != 1 {
		t.Errorf("握手记录不正确: id=%d ok=%v", id, ok)
	}

	// 首个数据报的负载在握手后入队
	p, ok := conn.Receive()
	if !ok || string(p.Bytes()) != "first-datagram" {
		t.Errorf("首个负载应入队: got %v, %v", p, ok)
	}
}

func TestAcceptorRoutesByConnID(t *testing.T) {
	sock := &mockSocket{}
	handler := &mockAcceptHandler{}
	a := NewAcceptor(sock, handler)

	a.HandleDatagram(frame(-1, []byte("hello")), testAddr(3000))
	conn := handler.accepted[0]
	conn.Receive()

	// 同端点带标识的后续数据报路由到同一连接
	a.HandleDatagram(frame(1, []byte("again")), testAddr(3000))

	if len(handler.accepted) != 1 {
		t.Fatalf("已知端点不应再次接受: got %d", len(handler.accepted))
	}
	p, ok := conn.Receive()
	if !ok || string(p.Bytes()) != "again" {
		t.Errorf("后续数据报应路由到原连接: got %v, %v", p, ok)
	}
}

func TestAcceptorSeparatesEndpoints(t *testing.T) {
	sock := &mockSocket{}
	handler := &mockAcceptHandler{}
	a := NewAcceptor(sock, handler)

	a.HandleDatagram(frame(-1, []byte("a")), testAddr(3000))
	a.HandleDatagram(frame(-1, []byte("b")), testAddr(3001))

	if len(handler.accepted) != 2 {
		t.Fatalf("不同端点应各自接受: got %d", len(handler.accepted))
	}
	if handler.accepted[0].ConnID() == handler.accepted[1].ConnID() {
		t.Error("不同连接的标识不应相同")
	}
}

func TestDispatcherIgnoresUnknownEndpoint(t *testing.T) {
	sock := &mockSocket{}
	d := NewDispatcher(sock)

	d.HandleDatagram(frame(-1, []byte("stray")), testAddr(3000))

	if d.ConnectionCount() != 0 {
		t.Error("客户端分发器不应接受未知端点")
	}
}

func TestDispatcherRoutesToRegistered(t *testing.T) {
	sock := &mockSocket{}
	d := NewDispatcher(sock)

	conn := NewUDPConnection(sock, testAddr(3000))
	d.AddConnection(conn)

	// 服务端回发的握手记录经分发器送达
	d.HandleDatagram(frame(-1, encodeHandshakeAccept(4)), testAddr(3000))

	if conn.Status() != StatusOpen {
		t.Errorf("握手应送达注册连接: got %v", conn.Status())
	}
	if conn.ConnID() != 4 {
		t.Errorf("连接标识应为 4: got %d", conn.ConnID())
	}
}

func TestAcceptorDropsOversizeDatagram(t *testing.T) {
	sock := &mockSocket{}
	handler := &mockAcceptHandler{}
	a := NewAcceptor(sock, handler)

	a.HandleDatagram(make([]byte, MaxDatagramSize+10), testAddr(3000))

	if len(handler.accepted) != 0 {
		t.Error("超限数据报不应触发接受")
	}
}

func TestAcceptorDropsEmptyDatagram(t *testing.T) {
	sock := &mockSocket{}
	a := NewAcceptor(sock, &mockAcceptHandler{})

	a.HandleDatagram(nil, testAddr(3000))

	if a.ConnectionCount() != 0 {
		t.Error("空数据报不应触发接受")
	}
}

func TestPurgeClosed(t *testing.T) {
	sock := &mockSocket{}
	handler := &mockAcceptHandler{}
	a := NewAcceptor(sock, handler)

	a.HandleDatagram(frame(-1, []byte("a")), testAddr(3000))
	a.HandleDatagram(frame(-1, []byte("b")), testAddr(3001))

	handler.accepted[0].Terminate()

	if removed := a.PurgeClosed(); removed != 1 {
		t.Errorf("应回收 1 个连接: got %d", removed)
	}
	if a.ConnectionCount() != 1 {
		t.Errorf("回收后应剩 1 个连接: got %d", a.ConnectionCount())
	}
}
