package viewer

import (
	"sync"
	"time"
)

// FPSMeter は1秒ごとの受信フレームレートを計測する
type FPSMeter struct {
	mu      sync.Mutex
	start   time.Time
	frames  int
	current float64
}

// NewFPSMeter は now から計測を始めるFPSMeterを作成する
func NewFPSMeter(now time.Time) *FPSMeter {
	return &FPSMeter{start: now}
}

// Frame はフレームの受信を記録し、1秒以上経過していれば計測値を更新して true を返す
func (m *FPSMeter) Frame(now time.Time) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	elapsed := now.Sub(m.start)
	if elapsed < time.Second {
		return m.current, false
	}

	m.current = float64(m.frames) / elapsed.Seconds()
	m.frames = 0
	m.start = now
	return m.current, true
}

// Current は直近の計測値を返す
func (m *FPSMeter) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset は計測をやり直す
func (m *FPSMeter) Reset(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.start = now
	m.frames = 0
	m.current = 0
}
