package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeviceConfig はデバイスの停止処理に関する上限値
type DeviceConfig struct {
	DrainBudget   time.Duration // バッファ解放に使う最大時間
	DrainInterval time.Duration // バッファ解放ごとの待機
	DeinitRetries int           // デアセンブルの最大試行回数
	RetryDelay    time.Duration // デアセンブル再試行の間隔
}

// DefaultDeviceConfig はデフォルトの設定を返す
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		DrainBudget:   500 * time.Millisecond,
		DrainInterval: 10 * time.Millisecond,
		DeinitRetries: 5,
		RetryDelay:    50 * time.Millisecond,
	}
}

// DeviceStatus はデバイスの状態のスナップショット
type DeviceStatus struct {
	State          State     `json:"state"`
	Quality        int       `json:"quality"`
	Framesize      string    `json:"framesize"`
	TeardownFailed bool      `json:"teardown_failed"`
	LastDrained    int       `json:"last_drained"`
	InitCount      int       `json:"init_count"`
	LastChange     time.Time `json:"last_change"`
}

// Device はセンサーの取得と解放を管理する
type Device struct {
	driver Driver
	config DeviceConfig
	logger *zap.Logger

	mu    sync.Mutex
	state State

	// Ready でない間に受け取った設定。次の Acquire で適用する
	quality   int
	framesize Framesize

	teardownFailed bool
	lastDrained    int
	initCount      int
	lastChange     time.Time
}

// NewDevice は新しいDeviceを作成する
func NewDevice(driver Driver, config DeviceConfig, logger *zap.Logger) *Device {
	return &Device{
		driver:     driver,
		config:     config,
		logger:     logger.Named("device"),
		state:      StateUninitialized,
		framesize:  FramesizeQQVGA,
		lastChange: time.Now(),
	}
}

// Acquire はセンサーが準備できていなければ初期化する
func (d *Device) Acquire(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateReady {
		return nil
	}

	d.logger.Info("カメラを初期化します")
	if err := d.driver.Initialize(ctx); err != nil {
		d.logger.Error("カメラの初期化に失敗しました", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	d.setState(StateReady)
	d.teardownFailed = false
	d.initCount++
	d.pushSettings()

	d.logger.Info("カメラを初期化しました", zap.Int("init_count", d.initCount))
	return nil
}

// Release はバッファを解放してからセンサーを停止する
// 解放とデアセンブルはどちらも上限付きで、無限にブロックしない
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("カメラ停止処理を開始します")
	d.setState(StateTearingDown)

	d.lastDrained = d.drain()
	err := d.deinitialize()

	d.setState(StateUninitialized)
	return err
}

// drain は残っているフレームバッファを取得しては返却する（ロック済み前提）
func (d *Device) drain() int {
	start := time.Now()
	freed := 0

	for time.Since(start) < d.config.DrainBudget {
		frame, ok := d.driver.FetchFrame()
		if !ok {
			break
		}
		d.driver.ReturnFrame(frame)
		freed++

		if d.config.DrainInterval > 0 {
			time.Sleep(d.config.DrainInterval)
		}
	}

	d.logger.Info("フレームバッファを解放しました",
		zap.Int("freed", freed),
		zap.Duration("elapsed", time.Since(start)))
	return freed
}

// deinitialize はデアセンブルを上限回数まで試行する（ロック済み前提）
func (d *Device) deinitialize() error {
	if d.driver.Sensor() == nil {
		d.logger.Info("カメラは既に停止しているため、デアセンブルは不要です")
		return nil
	}

	var err error
	for attempt := 1; attempt <= d.config.DeinitRetries; attempt++ {
		if err = d.driver.Deinitialize(); err == nil {
			d.teardownFailed = false
			d.logger.Info("カメラを正常に停止しました", zap.Int("attempt", attempt))
			return nil
		}

		d.logger.Warn("カメラの停止に失敗しました",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.config.DeinitRetries))

		if attempt < d.config.DeinitRetries {
			// 他のゴルーチンに処理を譲る
			time.Sleep(d.config.RetryDelay)
		}
	}

	d.teardownFailed = true
	d.logger.Error("カメラの停止に複数回失敗しました。外部からのリセットが必要です",
		zap.Error(err),
		zap.Int("attempts", d.config.DeinitRetries),
		zap.Bool("needs_reset", true))

	return fmt.Errorf("%w: %d回試行: %v", ErrTeardownFailed, d.config.DeinitRetries, err)
}

// Fetch はフレームを1つ取得する。Ready 以外では取得を試みない
func (d *Device) Fetch() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateReady {
		return nil, ErrNotReady
	}

	frame, ok := d.driver.FetchFrame()
	if !ok || frame == nil {
		return nil, ErrFrameCaptureFailed
	}
	return frame, nil
}

// Return は取得したフレームをドライバーに返却する
func (d *Device) Return(frame *Frame) {
	if frame == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.driver.ReturnFrame(frame)
}

// SetQuality はJPEG画質を記録し、Ready ならセンサーへ反映する
func (d *Device) SetQuality(quality int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.quality = quality
	if d.state != StateReady {
		return
	}

	if sensor := d.driver.Sensor(); sensor != nil {
		if err := sensor.SetQuality(quality); err != nil {
			d.logger.Warn("JPEG画質の設定に失敗しました", zap.Int("quality", quality), zap.Error(err))
		}
	}
}

// SetFramesize は解像度を記録し、Ready ならセンサーへ反映する
func (d *Device) SetFramesize(size Framesize) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.framesize = size
	if d.state != StateReady {
		return
	}

	if sensor := d.driver.Sensor(); sensor != nil {
		if err := sensor.SetFramesize(size); err != nil {
			d.logger.Warn("解像度の設定に失敗しました", zap.Stringer("framesize", size), zap.Error(err))
		}
	}
}

// State は現在の状態を返す
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Status は状態のスナップショットを返す
func (d *Device) Status() DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DeviceStatus{
		State:          d.state,
		Quality:        d.quality,
		Framesize:      d.framesize.String(),
		TeardownFailed: d.teardownFailed,
		LastDrained:    d.lastDrained,
		InitCount:      d.initCount,
		LastChange:     d.lastChange,
	}
}

// pushSettings は記録済みの設定をセンサーへ適用する（ロック済み前提）
func (d *Device) pushSettings() {
	sensor := d.driver.Sensor()
	if sensor == nil {
		d.logger.Warn("初期化後にセンサーを取得できませんでした")
		return
	}

	if err := sensor.SetFramesize(d.framesize); err != nil {
		d.logger.Warn("解像度の設定に失敗しました", zap.Stringer("framesize", d.framesize), zap.Error(err))
	}

	// 0 はデバイスのデフォルト画質のまま
	if d.quality > 0 {
		if err := sensor.SetQuality(d.quality); err != nil {
			d.logger.Warn("JPEG画質の設定に失敗しました", zap.Int("quality", d.quality), zap.Error(err))
		}
	}
}

func (d *Device) setState(state State) {
	d.state = state
	d.lastChange = time.Now()
}
