// =============================================================================
// 文件: internal/transport/ack_listener.go
// 描述: 确认回调注册表 - 非拥有引用，按注册顺序通知
// =============================================================================
package transport

// AckListener 确认回调接口
// 携带非负标签的出站包被对端确认时回调一次。
// 监听者是非拥有的回引用: 必须先于连接注销，或保证比连接活得更久。
// 回调中注册或注销监听者是不支持的 (会在连接锁上死锁)
type AckListener interface {
	// OnPacketAcked 标签为 tag 的包已被确认
	OnPacketAcked(tag int32)
}

// ackListenerList 监听者列表
// 注册追加到尾部，注销按身份线性查找删除，通知按注册顺序进行
type ackListenerList struct {
	listeners []AckListener
}

// add 注册监听者
func (l *ackListenerList) add(listener AckListener) {
	l.listeners = append(l.listeners, listener)
}

// remove 注销监听者，按身份删除第一个匹配项
func (l *ackListenerList) remove(listener AckListener) {
	for i, other := range l.listeners {
		if other == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

// notify 按注册顺序通知所有监听者
func (l *ackListenerList) notify(tag int32) {
	for _, listener := range l.listeners {
		listener.OnPacketAcked(tag)
	}
}
