// =============================================================================
// 文件: internal/transport/reliable_packet.go
// 描述: 可靠层线上格式 - 8 字节可靠头 + 1~4 字节子包头
//       多字节字段一律小端编码
// =============================================================================
package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/mrcgq/311/internal/packet"
)

const (
	// ReliableHeaderSize 可靠头大小: Sequence(2) + Ack(2) + AckBits(4)
	ReliableHeaderSize = 8

	// MaxSubPacketSize 单个子包负载上限
	MaxSubPacketSize = 2048

	// maxEncodableSubSize 子包头长度字段的编码上限 (6 + 8 位)
	maxEncodableSubSize = 0x3FFF

	// 子包头首字节标志位
	subFlagResend   = 0x80 // 重传子包，后随 2 字节原序列号
	subFlagLongSize = 0x40 // 长格式，长度占两字节

	// longSizeThreshold 达到该长度时使用长格式
	longSizeThreshold = 64
)

// ReliableHeader 可靠头
// Sequence: 本数据报的发送序列号
// Ack:      发送方观察到的对端最新序列号
// AckBits:  位 i 置位表示 (Ack - (i+1)) mod 2^16 已收到
type ReliableHeader struct {
	Sequence uint16
	Ack      uint16
	AckBits  uint32
}

// Encode 编码可靠头
func (h *ReliableHeader) Encode() []byte {
	buf := make([]byte, ReliableHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Sequence)
	binary.LittleEndian.PutUint16(buf[2:4], h.Ack)
	binary.LittleEndian.PutUint32(buf[4:8], h.AckBits)
	return buf
}

// extractReliableHeader 从入站包头部提取可靠头
func extractReliableHeader(p *packet.Inbound) (ReliableHeader, error) {
	var buf [ReliableHeaderSize]byte
	if err := p.ExtractHeader(buf[:]); err != nil {
		return ReliableHeader{}, fmt.Errorf("可靠头不完整: %w", err)
	}
	return ReliableHeader{
		Sequence: binary.LittleEndian.Uint16(buf[0:2]),
		Ack:      binary.LittleEndian.Uint16(buf[2:4]),
		AckBits:  binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// subHeader 子包头
type subHeader struct {
	size     int
	isResend bool
	resendOf uint16
}

// encodeSubHeader 编码子包头
// size >= 64 时使用长格式 (两字节长度)，isResend 时追加 2 字节原序列号
func encodeSubHeader(size int, isResend bool, resendOf uint16) ([]byte, error) {
	if size < 0 || size > maxEncodableSubSize {
		return nil, fmt.Errorf("%w: %d", ErrSubPacketSize, size)
	}

	longSize := size >= longSizeThreshold

	n := 1
	if longSize {
		n++
	}
	if isResend {
		n += 2
	}
	buf := make([]byte, n)

	if longSize {
		buf[0] = byte(size>>8) & 0x3F
		buf[0] |= subFlagLongSize
		buf[1] = byte(size)
	} else {
		buf[0] = byte(size)
	}
	if isResend {
		buf[0] |= subFlagResend
		binary.LittleEndian.PutUint16(buf[n-2:], resendOf)
	}

	return buf, nil
}

// extractSubHeader 从入站包头部提取子包头
// 任何字段缺失均为协议错误
func extractSubHeader(p *packet.Inbound) (subHeader, error) {
	sizeA, err := p.ExtractByte()
	if err != nil {
		return subHeader{}, fmt.Errorf("%w: %v", ErrSubPacketHeader, err)
	}

	var h subHeader
	h.isResend = sizeA&subFlagResend != 0

	if sizeA&subFlagLongSize != 0 {
		sizeB, err := p.ExtractByte()
		if err != nil {
			return subHeader{}, fmt.Errorf("%w: 长格式长度缺失", ErrSubPacketHeader)
		}
		h.size = int(sizeA&0x3F)<<8 | int(sizeB)
	} else {
		h.size = int(sizeA & 0x3F)
	}

	if h.isResend {
		var buf [2]byte
		if err := p.ExtractHeader(buf[:]); err != nil {
			return subHeader{}, fmt.Errorf("%w: 重传序列号缺失", ErrSubPacketHeader)
		}
		h.resendOf = binary.LittleEndian.Uint16(buf[:])
	}

	return h, nil
}
