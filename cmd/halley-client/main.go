// =============================================================================
// 文件: cmd/halley-client/main.go
// 描述: 测试客户端 - 拨号、带标签发送、确认回调与延迟报告
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/311/internal/config"
	"github.com/mrcgq/311/internal/packet"
	"github.com/mrcgq/311/internal/transport"
)

var Version = "1.0.0"

// ackPrinter 确认回调: 打印被确认的标签
type ackPrinter struct {
	acked int64
}

func (p *ackPrinter) OnPacketAcked(tag int32) {
	atomic.AddInt64(&p.acked, 1)
	fmt.Printf("已确认: tag=%d\n", tag)
}

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	connect := flag.String("connect", "", "服务端地址 (udp 模式) 或 URL (websocket 模式)")
	count := flag.Int("n", 10, "发送消息条数")
	interval := flag.Duration("i", 200*time.Millisecond, "发送间隔")
	showVersion := flag.Bool("v", false, "显示版本")
	flag.Parse()

	if *showVersion {
		fmt.Printf("halley-client %s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	if *connect != "" {
		cfg.Connect = *connect
	}
	if cfg.Connect == "" && cfg.Mode == "websocket" {
		cfg.Connect = cfg.WebSocket.URL
	}
	if cfg.Connect == "" {
		fmt.Fprintln(os.Stderr, "缺少服务端地址 (-connect)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	// 建立底座与连接
	var conn *transport.UDPConnection

	switch cfg.Mode {
	case "udp":
		remote, err := net.ResolveUDPAddr("udp", cfg.Connect)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析地址失败: %v\n", err)
			os.Exit(1)
		}

		sock, err := transport.ListenUDP(":0")
		if err != nil {
			fmt.Fprintf(os.Stderr, "创建底座失败: %v\n", err)
			os.Exit(1)
		}

		conn = transport.NewUDPConnection(sock, remote)
		dispatcher := transport.NewDispatcher(sock)
		dispatcher.AddConnection(conn)

		group.Go(func() error { return sock.Serve(ctx, dispatcher) })
		group.Go(func() error {
			<-ctx.Done()
			return sock.Close()
		})

	case "websocket":
		sock, err := transport.DialWS(cfg.Connect)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		conn = transport.NewUDPConnection(sock, sock.RemoteAddr())
		dispatcher := transport.NewDispatcher(sock)
		dispatcher.AddConnection(conn)

		group.Go(func() error { return sock.Serve(ctx, dispatcher) })
		group.Go(func() error {
			<-ctx.Done()
			return sock.Close()
		})
	}

	rc := transport.NewReliableConnection(conn)
	printer := &ackPrinter{}
	rc.AddAckListener(printer)

	var keepalive *transport.KeepaliveMonitor
	if cfg.Keepalive.Enabled {
		keepalive = transport.NewKeepaliveMonitor(rc,
			time.Duration(cfg.Keepalive.PingIntervalMs)*time.Millisecond,
			time.Duration(cfg.Keepalive.IdleTimeoutMs)*time.Millisecond)
		keepalive.Start(ctx)
		defer keepalive.Stop()
	}

	fmt.Printf("halley-client %s 连接 %s (%s)\n", Version, cfg.Connect, cfg.Mode)

	// 发送与接收循环
	group.Go(func() error {
		defer cancel()

		ticker := time.NewTicker(time.Duration(cfg.Transport.ReceivePollMs) * time.Millisecond)
		defer ticker.Stop()

		sendTimer := time.NewTicker(*interval)
		defer sendTimer.Stop()

		sent := 0
		received := 0
		deadline := time.NewTimer(time.Duration(*count)*(*interval) + 10*time.Second)
		defer deadline.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline.C:
				return fmt.Errorf("等待回显超时 (已收 %d/%d)", received, *count)
			case <-sendTimer.C:
				if sent < *count {
					msg := fmt.Sprintf("halley 测试消息 #%d", sent)
					if err := rc.SendTagged(packet.NewOutbound([]byte(msg)), int32(sent)); err != nil {
						return fmt.Errorf("发送失败: %w", err)
					}
					sent++
				}
			case <-ticker.C:
				for {
					p, ok := rc.Receive()
					if !ok {
						break
					}
					received++
					fmt.Printf("回显: %s\n", p.Bytes())
				}

				if received >= *count && atomic.LoadInt64(&printer.acked) >= int64(*count) {
					fmt.Printf("完成: 发送 %d, 回显 %d, 确认 %d, 平滑延迟 %v, SRTT %v\n",
						sent, received, atomic.LoadInt64(&printer.acked), rc.Latency(), rc.SmoothedRTT())
					return nil
				}

				if conn.Status() == transport.StatusClosing || conn.Status() == transport.StatusClosed {
					return fmt.Errorf("连接已关闭: %s", conn.Error())
				}
			}
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "退出: %v\n", err)
		os.Exit(1)
	}
}
