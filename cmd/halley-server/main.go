// =============================================================================
// 文件: cmd/halley-server/main.go
// 描述: 主程序入口 - 回显服务端，集成配置、Prometheus 指标与保活
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/311/internal/config"
	"github.com/mrcgq/311/internal/metrics"
	"github.com/mrcgq/311/internal/packet"
	"github.com/mrcgq/311/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

// logLevel 0=error 1=info 2=debug
var logLevel = 1

func logf(level int, format string, args ...interface{}) {
	if level <= logLevel {
		fmt.Printf(format+"\n", args...)
	}
}

// echoService 回显服务
// 每个接受的连接包装为可靠连接，收到的子包原样回发
type echoService struct {
	cfg *config.Config
	mt  *metrics.HalleyMetrics

	mu    sync.Mutex
	conns []*echoSession
}

type echoSession struct {
	udp *transport.UDPConnection
	rc  *transport.ReliableConnection
	ka  *transport.KeepaliveMonitor
}

func (s *echoService) OnAccept(conn *transport.UDPConnection) {
	rc := transport.NewReliableConnection(conn)
	if s.mt != nil {
		rc.SetMetrics(s.mt)
	}

	session := &echoSession{udp: conn, rc: rc}

	if s.cfg.Keepalive.Enabled {
		session.ka = transport.NewKeepaliveMonitor(rc,
			time.Duration(s.cfg.Keepalive.PingIntervalMs)*time.Millisecond,
			time.Duration(s.cfg.Keepalive.IdleTimeoutMs)*time.Millisecond)
		session.ka.Start(context.Background())
	}

	s.mu.Lock()
	s.conns = append(s.conns, session)
	s.mu.Unlock()

	logf(1, "接受连接: id=%d remote=%s", conn.ConnID(), conn.RemoteAddr())
}

// pump 单轮轮询: 回显所有连接的待处理子包，把 CLOSING 的连接终止为 CLOSED
// (从列表移除由 purgeClosed 完成)
func (s *echoService) pump() {
	s.mu.Lock()
	sessions := make([]*echoSession, len(s.conns))
	copy(sessions, s.conns)
	s.mu.Unlock()

	for _, session := range sessions {
		for {
			p, ok := session.rc.Receive()
			if !ok {
				break
			}
			logf(2, "回显 %d 字节 (id=%d)", p.Size(), session.udp.ConnID())
			session.rc.Send(packet.NewOutbound(p.Bytes()))
		}

		if session.udp.Status() == transport.StatusClosing {
			session.udp.Terminate()
			if session.ka != nil {
				session.ka.Stop()
			}
			logf(1, "连接终止: id=%d", session.udp.ConnID())
		}
	}
}

// run 轮询循环
func (s *echoService) run(ctx context.Context, acceptor *transport.Acceptor) error {
	ticker := time.NewTicker(time.Duration(s.cfg.Transport.ReceivePollMs) * time.Millisecond)
	defer ticker.Stop()

	gc := time.NewTicker(5 * time.Second)
	defer gc.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pump()
		case <-gc.C:
			s.purgeClosed(acceptor)
		}
	}
}

func (s *echoService) purgeClosed(acceptor *transport.Acceptor) {
	acceptor.PurgeClosed()

	s.mu.Lock()
	kept := s.conns[:0]
	for _, session := range s.conns {
		if session.udp.Status() == transport.StatusClosed {
			continue
		}
		kept = append(kept, session)
	}
	s.conns = kept
	s.mu.Unlock()
}

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	mode := flag.String("mode", "", "运行模式: udp/websocket")
	listen := flag.String("listen", "", "监听地址")
	flag.Parse()

	if *showVersion {
		fmt.Printf("halley-server %s (构建时间 %s, 提交 %s)\n", Version, BuildTime, GitCommit)
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = 2
	case "error":
		logLevel = 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	// 指标服务
	var mt *metrics.HalleyMetrics
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath, cfg.Metrics.EnablePprof)
		mt = metrics.NewHalleyMetrics(metricsServer.Registry())
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return metrics.HealthStatus{
				Status:    "ok",
				Timestamp: time.Now(),
				Version:   Version,
				Uptime:    time.Since(startTime),
			}
		})

		group.Go(func() error {
			logf(1, "指标服务启动: %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := metricsServer.Start(); err != nil {
				logf(0, "指标服务错误: %v", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			return metricsServer.Stop(shutdownCtx)
		})
	}

	service := &echoService{cfg: cfg, mt: mt}

	switch cfg.Mode {
	case "udp":
		sock, err := transport.ListenUDP(cfg.Listen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "监听失败: %v\n", err)
			os.Exit(1)
		}

		acceptor := transport.NewAcceptor(sock, service)
		acceptor.SetLogger(func(format string, args ...interface{}) {
			logf(2, format, args...)
		})
		if mt != nil {
			acceptor.SetMetrics(mt)
		}

		logf(1, "halley-server %s 启动 (udp): %s", Version, cfg.Listen)

		group.Go(func() error { return sock.Serve(ctx, acceptor) })
		group.Go(func() error { return service.run(ctx, acceptor) })
		group.Go(func() error {
			<-ctx.Done()
			return sock.Close()
		})

	case "websocket":
		var acceptor *transport.Acceptor
		sock := transport.NewWSServerSocket(
			cfg.WebSocket.Listen, cfg.WebSocket.Path,
			cfg.WebSocket.TLS, cfg.WebSocket.CertFile, cfg.WebSocket.KeyFile,
			transport.DatagramHandlerFunc(func(data []byte, from net.Addr) {
				acceptor.HandleDatagram(data, from)
			}))
		acceptor = transport.NewAcceptor(sock, service)
		if mt != nil {
			acceptor.SetMetrics(mt)
		}
		sock.SetLogger(func(format string, args ...interface{}) {
			logf(2, format, args...)
		})

		logf(1, "halley-server %s 启动 (websocket): %s%s", Version, cfg.WebSocket.Listen, cfg.WebSocket.Path)

		if err := sock.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "WebSocket 启动失败: %v\n", err)
			os.Exit(1)
		}
		group.Go(func() error { return service.run(ctx, acceptor) })
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		logf(0, "退出: %v", err)
	}
	logf(1, "halley-server 已停止")
}
