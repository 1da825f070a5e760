// =============================================================================
// 文件: internal/packet/packet_test.go
// 描述: 数据包缓冲区测试
// =============================================================================
package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestOutboundAddHeader(t *testing.T) {
	p := NewOutbound([]byte("payload"))

	if p.Size() != 7 {
		t.Fatalf("初始大小不正确: got %d, want 7", p.Size())
	}

	p.AddHeader([]byte{0xAA, 0xBB})
	p.AddHeader([]byte{0x01})

	if p.Size() != 10 {
		t.Fatalf("加头后大小不正确: got %d, want 10", p.Size())
	}

	want := []byte{0x01, 0xAA, 0xBB, 'p', 'a', 'y', 'l', 'o', 'a', 'd'}
	if !bytes.Equal(p.Bytes(), want) {
		t.Errorf("头部顺序不正确: got %v, want %v", p.Bytes(), want)
	}
}

func TestOutboundAddHeaderGrow(t *testing.T) {
	p := NewOutbound([]byte("x"))

	// 插入一个超过预留空间的头部，触发扩容
	big := make([]byte, DefaultHeadroom*2)
	for i := range big {
		big[i] = byte(i)
	}
	p.AddHeader(big)

	if p.Size() != len(big)+1 {
		t.Fatalf("扩容后大小不正确: got %d, want %d", p.Size(), len(big)+1)
	}
	if !bytes.Equal(p.Bytes()[:len(big)], big) {
		t.Error("扩容后头部内容不正确")
	}
	if p.Bytes()[len(big)] != 'x' {
		t.Error("扩容后负载内容丢失")
	}
}

func TestOutboundCopyTo(t *testing.T) {
	p := NewOutbound([]byte("hello"))
	p.AddHeader([]byte{0xFF})

	dst := make([]byte, 16)
	n, err := p.CopyTo(dst)
	if err != nil {
		t.Fatalf("CopyTo 失败: %v", err)
	}
	if n != 6 {
		t.Errorf("写入字节数不正确: got %d, want 6", n)
	}
	if !bytes.Equal(dst[:n], []byte{0xFF, 'h', 'e', 'l', 'l', 'o'}) {
		t.Errorf("拷贝内容不正确: got %v", dst[:n])
	}

	// 目标太小
	small := make([]byte, 3)
	if _, err := p.CopyTo(small); !errors.Is(err, ErrDstTooSmall) {
		t.Errorf("目标过小应该返回 ErrDstTooSmall: got %v", err)
	}
}

func TestInboundExtractHeader(t *testing.T) {
	p := NewInbound([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	hdr := make([]byte, 2)
	if err := p.ExtractHeader(hdr); err != nil {
		t.Fatalf("ExtractHeader 失败: %v", err)
	}
	if !bytes.Equal(hdr, []byte{0x01, 0x02}) {
		t.Errorf("提取内容不正确: got %v", hdr)
	}
	if p.Size() != 3 {
		t.Errorf("剩余大小不正确: got %d, want 3", p.Size())
	}

	b, err := p.ExtractByte()
	if err != nil || b != 0x03 {
		t.Errorf("ExtractByte 不正确: got %v, %v", b, err)
	}

	// 剩余不足，应该返回协议错误
	long := make([]byte, 10)
	if err := p.ExtractHeader(long); !errors.Is(err, ErrShortPacket) {
		t.Errorf("剩余不足应该返回 ErrShortPacket: got %v", err)
	}
	// 游标不应被推进
	if p.Size() != 2 {
		t.Errorf("失败提取不应推进游标: got %d, want 2", p.Size())
	}
}

func TestInboundWrapNoCopy(t *testing.T) {
	buf := []byte{1, 2, 3}
	p := WrapInbound(buf)
	if p.Size() != 3 {
		t.Errorf("Wrap 大小不正确: got %d, want 3", p.Size())
	}
	if &buf[0] != &p.Bytes()[0] {
		t.Error("WrapInbound 不应拷贝缓冲区")
	}
}

func BenchmarkOutboundAddHeader(b *testing.B) {
	payload := make([]byte, 1200)
	hdr := make([]byte, 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewOutbound(payload)
		p.AddHeader(hdr)
	}
}
