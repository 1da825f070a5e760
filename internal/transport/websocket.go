// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 数据报底座 - 二进制消息即数据报，与 UDP 底座同构
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 5 * time.Minute
	wsWriteTimeout = 30 * time.Second
)

// wsSession WebSocket 会话
type wsSession struct {
	conn *websocket.Conn
	addr net.Addr
	mu   sync.Mutex
}

// writeDatagram 串行写一条二进制消息
func (s *wsSession) writeDatagram(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WSServerSocket WebSocket 服务端底座
// 每个升级成功的连接是一个远端端点，二进制消息按数据报处理
type WSServerSocket struct {
	addr string
	path string

	useTLS   bool
	certFile string
	keyFile  string

	httpServer *http.Server
	upgrader   websocket.Upgrader

	handler  DatagramHandler
	sessions sync.Map // string (端点) -> *wsSession

	logf func(format string, args ...interface{})

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewWSServerSocket 创建 WebSocket 服务端底座
func NewWSServerSocket(addr, path string, useTLS bool, certFile, keyFile string, handler DatagramHandler) *WSServerSocket {
	return &WSServerSocket{
		addr:     addr,
		path:     path,
		useTLS:   useTLS,
		certFile: certFile,
		keyFile:  keyFile,
		handler:  handler,
		stopCh:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetLogger 设置调试日志输出 (可选)
func (s *WSServerSocket) SetLogger(logf func(format string, args ...interface{})) {
	s.logf = logf
}

// Start 启动 HTTP 服务与升级处理
func (s *WSServerSocket) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.useTLS {
			err = s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log("HTTP 服务器错误: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return nil
}

// handleWebSocket 升级连接并运行读取循环
func (s *WSServerSocket) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log("WebSocket 升级失败: %v", err)
		return
	}

	session := &wsSession{
		conn: conn,
		addr: conn.RemoteAddr(),
	}
	key := endpointKey(session.addr)
	s.sessions.Store(key, session)
	defer func() {
		s.sessions.Delete(key)
		conn.Close()
	}()

	s.log("WebSocket 连接: %s", key)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if err != io.EOF && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log("WebSocket 读取错误: %v", err)
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		s.handler.HandleDatagram(data, session.addr)
	}
}

// AsyncSendTo 异步发送数据报到指定端点的会话
func (s *WSServerSocket) AsyncSendTo(data []byte, remote net.Addr, completion func(error)) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		value, ok := s.sessions.Load(endpointKey(remote))
		if !ok {
			completion(fmt.Errorf("会话不存在: %s", remote))
			return
		}
		completion(value.(*wsSession).writeDatagram(buf))
	}()
}

// Close 关闭底座
func (s *WSServerSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.httpServer.Shutdown(ctx)
		}
		s.sessions.Range(func(key, value interface{}) bool {
			value.(*wsSession).conn.Close()
			return true
		})
		s.wg.Wait()
	})
	return err
}

func (s *WSServerSocket) log(format string, args ...interface{}) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}

// WSClientSocket WebSocket 客户端底座
// 单一对端，拨号后二进制消息按数据报收发
type WSClientSocket struct {
	url  string
	conn *websocket.Conn
	addr net.Addr

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// DialWS 拨号 WebSocket 服务端
func DialWS(url string) (*WSClientSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 拨号失败: %w", err)
	}

	return &WSClientSocket{
		url:    url,
		conn:   conn,
		addr:   conn.RemoteAddr(),
		closed: make(chan struct{}),
	}, nil
}

// RemoteAddr 获取对端地址 (用于构造连接)
func (s *WSClientSocket) RemoteAddr() net.Addr {
	return s.addr
}

// AsyncSendTo 异步发送数据报
// 单对端底座，remote 仅用于保持 Socket 接口一致
func (s *WSClientSocket) AsyncSendTo(data []byte, remote net.Addr, completion func(error)) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.mu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := s.conn.WriteMessage(websocket.BinaryMessage, buf)
		s.mu.Unlock()
		completion(err)
	}()
}

// Serve 运行读取循环，把入站数据报交给 handler
func (s *WSClientSocket) Serve(ctx context.Context, handler DatagramHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			return err
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		handler.HandleDatagram(data, s.addr)
	}
}

// Close 关闭底座
func (s *WSClientSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// endpointKey 端点索引键
func endpointKey(addr net.Addr) string {
	return addr.Network() + "/" + addr.String()
}
