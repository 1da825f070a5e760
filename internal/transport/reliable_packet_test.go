// =============================================================================
// 文件: internal/transport/reliable_packet_test.go
// 描述: 可靠层线上格式测试 - 可靠头与子包头编解码往返
// =============================================================================
package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mrcgq/311/internal/packet"
)

func TestReliableHeaderRoundTrip(t *testing.T) {
	cases := []ReliableHeader{
		{Sequence: 0, Ack: 0, AckBits: 0},
		{Sequence: 1, Ack: 65535, AckBits: 0xFFFFFFFF},
		{Sequence: 12345, Ack: 54321, AckBits: 0b1101},
		{Sequence: 65535, Ack: 32768, AckBits: 0x80000001},
	}

	for _, want := range cases {
		encoded := want.Encode()
		if len(encoded) != ReliableHeaderSize {
			t.Fatalf("可靠头长度不正确: got %d, want %d", len(encoded), ReliableHeaderSize)
		}

		got, err := extractReliableHeader(packet.NewInbound(encoded))
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		if got != want {
			t.Errorf("往返不一致: got %+v, want %+v", got, want)
		}
	}
}

func TestReliableHeaderEndianness(t *testing.T) {
	h := ReliableHeader{Sequence: 0x0102, Ack: 0x0304, AckBits: 0x05060708}
	encoded := h.Encode()

	// 全部字段小端编码
	want := []byte{0x02, 0x01, 0x04, 0x03, 0x08, 0x07, 0x06, 0x05}
	if !bytes.Equal(encoded, want) {
		t.Errorf("编码字节序不正确: got %v, want %v", encoded, want)
	}
}

func TestReliableHeaderTooShort(t *testing.T) {
	if _, err := extractReliableHeader(packet.NewInbound([]byte{1, 2, 3})); err == nil {
		t.Error("不完整可靠头应报错")
	}
}

func TestSubHeaderRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 63, 64, 100, 8191, 16383}

	for _, size := range sizes {
		for _, isResend := range []bool{false, true} {
			resendOf := uint16(0)
			if isResend {
				resendOf = 0xBEEF
			}

			encoded, err := encodeSubHeader(size, isResend, resendOf)
			if err != nil {
				t.Fatalf("编码失败 (size=%d): %v", size, err)
			}

			// 头部长度必须最小: 1 字节当且仅当短格式且非重传
			wantLen := 1
			if size >= 64 {
				wantLen++
			}
			if isResend {
				wantLen += 2
			}
			if len(encoded) != wantLen {
				t.Errorf("头部长度不正确 (size=%d, resend=%v): got %d, want %d",
					size, isResend, len(encoded), wantLen)
			}

			got, err := extractSubHeader(packet.NewInbound(encoded))
			if err != nil {
				t.Fatalf("解码失败 (size=%d, resend=%v): %v", size, isResend, err)
			}
			if got.size != size || got.isResend != isResend || got.resendOf != resendOf {
				t.Errorf("往返不一致 (size=%d, resend=%v): got %+v", size, isResend, got)
			}
		}
	}
}

func TestSubHeaderShortLongBoundary(t *testing.T) {
	// 63 字节: 单字节短格式
	short, err := encodeSubHeader(63, false, 0)
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	if !bytes.Equal(short, []byte{63}) {
		t.Errorf("63 字节应为单字节头: got %v, want [63]", short)
	}

	// 64 字节: 双字节长格式, sizeA=0x40, sizeB=0x40
	long, err := encodeSubHeader(64, false, 0)
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	if !bytes.Equal(long, []byte{0x40, 0x40}) {
		t.Errorf("64 字节应为长格式: got %v, want [0x40 0x40]", long)
	}
}

func TestSubHeaderRejectsOutOfRange(t *testing.T) {
	if _, err := encodeSubHeader(maxEncodableSubSize+1, false, 0); !errors.Is(err, ErrSubPacketSize) {
		t.Errorf("超出编码范围应报错: got %v", err)
	}
	if _, err := encodeSubHeader(-1, false, 0); !errors.Is(err, ErrSubPacketSize) {
		t.Errorf("负长度应报错: got %v", err)
	}
}

func TestSubHeaderDecodeHonorsFlags(t *testing.T) {
	// 短格式但带重传标志: 解码方必须按标志行事
	p := packet.NewInbound([]byte{0x80 | 5, 0x34, 0x12})
	got, err := extractSubHeader(p)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if !got.isResend || got.size != 5 || got.resendOf != 0x1234 {
		t.Errorf("重传标志解析不正确: got %+v", got)
	}
}

func TestSubHeaderIncomplete(t *testing.T) {
	t.Run("长格式缺第二字节", func(t *testing.T) {
		if _, err := extractSubHeader(packet.NewInbound([]byte{0x40})); !errors.Is(err, ErrSubPacketHeader) {
			t.Errorf("应报子包头错误: got %v", err)
		}
	})

	t.Run("重传缺原序列号", func(t *testing.T) {
		if _, err := extractSubHeader(packet.NewInbound([]byte{0x80 | 5, 0x01})); !errors.Is(err, ErrSubPacketHeader) {
			t.Errorf("应报子包头错误: got %v", err)
		}
	})

	t.Run("空数据", func(t *testing.T) {
		if _, err := extractSubHeader(packet.NewInbound(nil)); !errors.Is(err, ErrSubPacketHeader) {
			t.Errorf("应报子包头错误: got %v", err)
		}
	})
}

func BenchmarkSubHeaderEncode(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = encodeSubHeader(1200, false, 0)
	}
}

func BenchmarkReliableHeaderEncode(b *testing.B) {
	h := ReliableHeader{Sequence: 100, Ack: 99, AckBits: 0xFFFF}
	for i := 0; i < b.N; i++ {
		_ = h.Encode()
	}
}
