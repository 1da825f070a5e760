// =============================================================================
// 文件: internal/transport/reliable_conn.go
// 描述: 可靠连接 - 序列号 + 累积确认位图 + 滑动窗口去重 + 子包打包 + 延迟估算
// =============================================================================
package transport

import (
	"math"
	"sync"
	"time"

	"github.com/mrcgq/311/internal/congestion"
	"github.com/mrcgq/311/internal/metrics"
	"github.com/mrcgq/311/internal/packet"
)

const (
	// bufferSize 序列号窗口环形缓冲区槽位数
	bufferSize = 1024

	// maxSeqJump 新序列号相对最高已收序列号的最大前跳
	// 超过则窗口无法追踪，连接关闭
	maxSeqJump = bufferSize - 32

	// maxAckAge 确认号相对当前发送序列号允许的最大滞后
	// 更旧的确认集合整体忽略
	maxAckAge = 512

	// lagSmoothing 延迟估算平滑因子
	lagSmoothing = 0.2

	// 收包槽位标志
	seqFlagReceived = 0x01 // 直接收到
	seqFlagResend   = 0x02 // 以重传形式覆盖到该槽位
)

// sentPacketInfo 已发送包槽位
// waiting 从发出置位，确认处理或槽位被复用时清除
type sentPacketInfo struct {
	waiting   bool
	tag       int32
	timestamp time.Time
}

// reliableStats 可靠层计数
type reliableStats struct {
	datagramsSent     uint64
	datagramsReceived uint64
	subPacketsIn      uint64
	duplicates        uint64
	resendsSeen       uint64
	staleAcks         uint64
	protocolErrors    uint64
	windowOverruns    uint64
	acksProcessed     uint64
}

// ReliableConnection 可靠连接
// 包装一个下层连接，为每个出站数据报编号并携带对端序列号的累积确认位图；
// 入站侧按无符号回绕序对 1024 槽位窗口去重，识别重传，
// 将数据报内的多个子包按线序拆出。确认触发注册监听者回调与延迟估算。
//
// 单连接的公开操作预期来自同一事件循环；内部互斥锁仅用于
// 兼容底座完成回调所在的协程，不构成跨协程共享的承诺
type ReliableConnection struct {
	parent Connection

	sequenceSent    uint16
	highestReceived uint16

	receivedSeqs [bufferSize]uint8
	sentPackets  [bufferSize]sentPacketInfo

	pendingPackets []*packet.Inbound

	ackListeners ackListenerList

	// lagSeconds 平滑往返延迟 (秒)
	lagSeconds float64

	lastSend    time.Time
	lastReceive time.Time

	// rtt RFC 6298 估算器，为上层重传驱动提供 SRTT/RTO
	rtt *congestion.RTTEstimator

	mt *metrics.HalleyMetrics

	stats reliableStats

	mu sync.Mutex
}

// NewReliableConnection 创建可靠连接
// parent 为共享的下层连接，多个上层组件可持有同一个 parent
func NewReliableConnection(parent Connection) *ReliableConnection {
	now := time.Now()
	return &ReliableConnection{
		parent:      parent,
		rtt:         congestion.NewRTTEstimator(),
		lastSend:    now,
		lastReceive: now,
	}
}

// SetMetrics 挂接指标收集 (可选)
func (c *ReliableConnection) SetMetrics(mt *metrics.HalleyMetrics) {
	c.mt = mt
}

// Status 获取连接状态 (委托下层)
func (c *ReliableConnection) Status() ConnStatus {
	return c.parent.Status()
}

// Close 关闭连接 (委托下层)
func (c *ReliableConnection) Close() {
	c.parent.Close()
}

// Send 发送数据包，等价于标签为 0 的 SendTagged
func (c *ReliableConnection) Send(p *packet.Outbound) {
	_ = c.SendTagged(p, 0)
}

// SendTagged 发送带标签的数据包
// tag 必须非负；包被对端确认时按注册顺序回调所有监听者
func (c *ReliableConnection) SendTagged(p *packet.Outbound, tag int32) error {
	if tag < 0 {
		return ErrInvalidTag
	}
	return c.sendSubPacket(p, tag, false, 0)
}

// sendSubPacket 发送路径
// isResend/resendOf 为重传预留: 上层按标签驱动重传时经由此路径声明原序列号。
// 当前公开入口恒以 (false, 0) 进入
func (c *ReliableConnection) sendSubPacket(p *packet.Outbound, tag int32, isResend bool, resendOf uint16) error {
	sub, err := encodeSubHeader(p.Size(), isResend, resendOf)
	if err != nil {
		return err
	}
	p.AddHeader(sub)

	c.mu.Lock()

	header := ReliableHeader{
		Sequence: c.sequenceSent,
		Ack:      c.highestReceived,
		AckBits:  c.generateAckBitsLocked(),
	}
	c.sequenceSent++
	p.AddHeader(header.Encode())

	// 记录发送信息
	now := time.Now()
	slot := &c.sentPackets[int(header.Sequence)%bufferSize]
	slot.waiting = true
	slot.tag = tag
	slot.timestamp = now
	c.lastSend = now
	c.stats.datagramsSent++

	c.mu.Unlock()

	if c.mt != nil {
		c.mt.PacketsTotal.WithLabelValues("out").Inc()
		c.mt.SubPackets.WithLabelValues("out").Inc()
		c.mt.BytesTotal.WithLabelValues("out").Add(float64(p.Size()))
	}

	c.parent.Send(p)
	return nil
}

// Receive 取出一个已解码的入站子包
// 先贪婪排空下层所有待处理数据报再出队: 即使上层取包缓慢，
// 确认位图也会被及时处理
func (c *ReliableConnection) Receive() (*packet.Inbound, bool) {
	for {
		raw, ok := c.parent.Receive()
		if !ok {
			break
		}

		c.mu.Lock()
		c.lastReceive = time.Now()
		err := c.processDatagramLocked(raw)
		if err != nil {
			c.stats.protocolErrors++
		}
		c.mu.Unlock()

		if err != nil && c.mt != nil {
			c.mt.ProtocolErrors.WithLabelValues("decode").Inc()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingPackets) == 0 {
		return nil, false
	}
	p := c.pendingPackets[0]
	c.pendingPackets = c.pendingPackets[1:]
	return p, true
}

// processDatagramLocked 处理一个下层数据报
// 解码出错时放弃当前数据报的剩余内容，已接受的子包保留
func (c *ReliableConnection) processDatagramLocked(raw *packet.Inbound) error {
	header, err := extractReliableHeader(raw)
	if err != nil {
		return err
	}

	c.stats.datagramsReceived++
	c.processReceivedAcksLocked(header.Ack, header.AckBits)

	// 数据报内每个子包占用一个虚拟序列号:
	// 发送方每个数据报只递增一次计数器，而解码侧按子包推进，
	// 使确认位图间接覆盖到子包粒度。此不对称为线上格式的既定行为
	seq := header.Sequence

	for raw.Size() > 0 {
		sub, err := extractSubHeader(raw)
		if err != nil {
			return err
		}

		if sub.size > MaxSubPacketSize || sub.size > raw.Size() {
			return ErrSubPacketSize
		}

		payload := make([]byte, sub.size)
		if err := raw.ExtractHeader(payload); err != nil {
			return err
		}

		if c.onSeqReceivedLocked(seq, sub.isResend, sub.resendOf) {
			c.pendingPackets = append(c.pendingPackets, packet.WrapInbound(payload))
			c.stats.subPacketsIn++
			if c.mt != nil {
				c.mt.SubPackets.WithLabelValues("in").Inc()
			}
		}
		seq++
	}

	return nil
}

// onSeqReceivedLocked 序列号窗口判定
// 返回 true 表示子包应交付上层
func (c *ReliableConnection) onSeqReceivedLocked(seq uint16, isResend bool, resendOf uint16) bool {
	bufferPos := int(seq) % bufferSize
	resendPos := int(resendOf) % bufferSize

	// 无符号回绕序: diff < 0x8000 视为更新
	diff := seq - c.highestReceived

	if diff != 0 && diff < 0x8000 {
		if diff > maxSeqJump {
			// 跳过的序列号太多，窗口无法追踪
			c.stats.windowOverruns++
			if c.mt != nil {
				c.mt.WindowOverruns.Inc()
			}
			c.parent.Close()
			return false
		}

		// 预清理: 越过的每个位置，将半个缓冲区之后的槽位归零，
		// 序列号推进到那里时槽位已是新鲜状态
		for i := int(c.highestReceived) % bufferSize; i != bufferPos; i = (i + 1) % bufferSize {
			c.receivedSeqs[(i+bufferSize/2)%bufferSize] = 0
		}

		c.highestReceived = seq
	}

	if c.receivedSeqs[bufferPos] != 0 || (isResend && c.receivedSeqs[resendPos] != 0) {
		// 已经收到过
		c.stats.duplicates++
		if c.mt != nil {
			c.mt.DuplicatesDropped.Inc()
		}
		return false
	}

	c.receivedSeqs[bufferPos] |= seqFlagReceived
	if isResend {
		c.receivedSeqs[resendPos] |= seqFlagResend
		c.stats.resendsSeen++
		if c.mt != nil {
			c.mt.ResendsSeen.Inc()
		}
	}

	return true
}

// processReceivedAcksLocked 处理确认号与确认位图
func (c *ReliableConnection) processReceivedAcksLocked(ack uint16, ackBits uint32) {
	// 确认的是太久之前的序列号，整组忽略
	diff := c.sequenceSent - ack
	if diff > maxAckAge {
		c.stats.staleAcks++
		if c.mt != nil {
			c.mt.StaleAcks.Inc()
		}
		return
	}

	for i := 31; i >= 0; i-- {
		if ackBits&(1<<uint(i)) != 0 {
			c.onAckReceivedLocked(ack - uint16(i+1))
		}
	}
	c.onAckReceivedLocked(ack)
}

// onAckReceivedLocked 单个序列号确认
// waiting 标志保证同一序列号重复确认只触发一次回调与延迟采样
func (c *ReliableConnection) onAckReceivedLocked(seq uint16) {
	slot := &c.sentPackets[int(seq)%bufferSize]
	if !slot.waiting {
		return
	}
	slot.waiting = false
	c.stats.acksProcessed++

	if slot.tag != -1 {
		c.ackListeners.notify(slot.tag)
	}

	msgLag := time.Since(slot.timestamp)
	c.reportLatencyLocked(msgLag.Seconds())
	c.rtt.Update(msgLag)

	if c.mt != nil {
		c.mt.AcksProcessed.Inc()
		c.mt.AckLatency.Observe(msgLag.Seconds())
		c.mt.RTT.Set(c.rtt.GetSmoothedRTT().Seconds())
	}
}

// generateAckBitsLocked 生成确认位图
// 位 i 对应 (highestReceived - 1 - i) mod 2^16 是否已直接收到
func (c *ReliableConnection) generateAckBitsLocked() uint32 {
	var result uint32
	for i := 0; i < 32; i++ {
		pos := int(c.highestReceived-1-uint16(i)) % bufferSize
		result |= uint32(c.receivedSeqs[pos]&seqFlagReceived) << uint(i)
	}
	return result
}

// reportLatencyLocked 平滑延迟估算
// 首个样本直接采纳，之后以固定因子线性插值
func (c *ReliableConnection) reportLatencyLocked(measured float64) {
	if math.Abs(c.lagSeconds) < 1e-5 {
		c.lagSeconds = measured
	} else {
		c.lagSeconds += (measured - c.lagSeconds) * lagSmoothing
	}
}

// AddAckListener 注册确认监听者
func (c *ReliableConnection) AddAckListener(listener AckListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackListeners.add(listener)
}

// RemoveAckListener 注销确认监听者
func (c *ReliableConnection) RemoveAckListener(listener AckListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackListeners.remove(listener)
}

// Latency 获取平滑往返延迟
func (c *ReliableConnection) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.lagSeconds * float64(time.Second))
}

// SmoothedRTT 获取 RFC 6298 平滑 RTT
func (c *ReliableConnection) SmoothedRTT() time.Duration {
	return c.rtt.GetSmoothedRTT()
}

// RTO 获取建议的重传超时
func (c *ReliableConnection) RTO() time.Duration {
	return c.rtt.GetRTO()
}

// TimeSinceLastSend 距上次发送经过的时间
func (c *ReliableConnection) TimeSinceLastSend() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSend)
}

// TimeSinceLastReceive 距上次接收经过的时间
func (c *ReliableConnection) TimeSinceLastReceive() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastReceive)
}

// GetStats 获取可靠层统计
func (c *ReliableConnection) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"sequence_sent":      c.sequenceSent,
		"highest_received":   c.highestReceived,
		"pending_packets":    len(c.pendingPackets),
		"lag_ms":             c.lagSeconds * 1000,
		"srtt_ms":            c.rtt.GetSmoothedRTT().Milliseconds(),
		"datagrams_sent":     c.stats.datagramsSent,
		"datagrams_received": c.stats.datagramsReceived,
		"sub_packets_in":     c.stats.subPacketsIn,
		"duplicates":         c.stats.duplicates,
		"resends_seen":       c.stats.resendsSeen,
		"stale_acks":         c.stats.staleAcks,
		"protocol_errors":    c.stats.protocolErrors,
		"window_overruns":    c.stats.windowOverruns,
		"acks_processed":     c.stats.acksProcessed,
	}
}
