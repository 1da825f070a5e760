// =============================================================================
// 文件: internal/congestion/rtt.go
// 描述: RTT 测量与估算 (RFC 6298) - 为上层按标签驱动的重传提供 SRTT/RTO
// =============================================================================
package congestion

import (
	"sync"
	"time"
)

const (
	// RTT 常量
	rttAlpha       = 0.125 // SRTT 平滑因子 (1/8)
	rttBeta        = 0.25  // RTT 方差因子 (1/4)
	defaultInitRTT = 100 * time.Millisecond

	// RTO 上下限
	minRTO = 100 * time.Millisecond
	maxRTO = 60 * time.Second
)

// RTTEstimator RTT 估算器
// 可靠层每处理一个首次确认就喂入一个延迟样本
type RTTEstimator struct {
	smoothedRTT time.Duration // 平滑 RTT (SRTT)
	rttVariance time.Duration // RTT 方差 (RTTVAR)
	minRTT      time.Duration // 最小 RTT
	maxRTT      time.Duration // 最大 RTT
	latestRTT   time.Duration // 最新 RTT

	totalSamples uint64

	initialized bool

	mu sync.RWMutex
}

// NewRTTEstimator 创建 RTT 估算器
func NewRTTEstimator() *RTTEstimator {
	return &RTTEstimator{
		smoothedRTT: defaultInitRTT,
		rttVariance: defaultInitRTT / 2,
	}
}

// Update 更新 RTT (RFC 6298 算法)
func (r *RTTEstimator) Update(sample time.Duration) {
	if sample <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.latestRTT = sample
	r.totalSamples++

	if r.minRTT == 0 || sample < r.minRTT {
		r.minRTT = sample
	}
	if sample > r.maxRTT {
		r.maxRTT = sample
	}

	// RFC 6298 SRTT 和 RTTVAR 计算
	if !r.initialized {
		r.smoothedRTT = sample
		r.rttVariance = sample / 2
		r.initialized = true
		return
	}

	// RTTVAR = (1 - beta) * RTTVAR + beta * |SRTT - R|
	diff := r.smoothedRTT - sample
	if diff < 0 {
		diff = -diff
	}
	r.rttVariance = time.Duration(
		float64(r.rttVariance)*(1-rttBeta) + float64(diff)*rttBeta,
	)

	// SRTT = (1 - alpha) * SRTT + alpha * R
	r.smoothedRTT = time.Duration(
		float64(r.smoothedRTT)*(1-rttAlpha) + float64(sample)*rttAlpha,
	)
}

// GetSmoothedRTT 获取平滑 RTT
func (r *RTTEstimator) GetSmoothedRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.smoothedRTT
}

// GetLatestRTT 获取最新 RTT
func (r *RTTEstimator) GetLatestRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestRTT
}

// GetRTTVariance 获取 RTT 方差
func (r *RTTEstimator) GetRTTVariance() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rttVariance
}

// GetMinRTT 获取最小 RTT
func (r *RTTEstimator) GetMinRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.minRTT == 0 {
		return r.smoothedRTT
	}
	return r.minRTT
}

// GetMaxRTT 获取最大 RTT
func (r *RTTEstimator) GetMaxRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxRTT
}

// GetRTO 计算重传超时 (RFC 6298)
func (r *RTTEstimator) GetRTO() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// RTO = SRTT + max(G, 4*RTTVAR)，时钟粒度按 1ms 计
	rto := r.smoothedRTT + 4*r.rttVariance
	if rto < r.smoothedRTT+time.Millisecond {
		rto = r.smoothedRTT + time.Millisecond
	}

	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}

	return rto
}

// IsInitialized 是否已收到过样本
func (r *RTTEstimator) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Reset 重置
func (r *RTTEstimator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.smoothedRTT = defaultInitRTT
	r.rttVariance = defaultInitRTT / 2
	r.minRTT = 0
	r.maxRTT = 0
	r.latestRTT = 0
	r.totalSamples = 0
	r.initialized = false
}

// GetStats 获取统计信息
func (r *RTTEstimator) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"srtt_ms":       r.smoothedRTT.Milliseconds(),
		"rtt_var_ms":    r.rttVariance.Milliseconds(),
		"min_rtt_ms":    r.minRTT.Milliseconds(),
		"max_rtt_ms":    r.maxRTT.Milliseconds(),
		"latest_rtt_ms": r.latestRTT.Milliseconds(),
		"total_samples": r.totalSamples,
		"initialized":   r.initialized,
	}
}
