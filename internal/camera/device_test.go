package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testDeviceConfig はテストが速く終わるように短い間隔を使う
func testDeviceConfig() DeviceConfig {
	return DeviceConfig{
		DrainBudget:   50 * time.Millisecond,
		DrainInterval: 0,
		DeinitRetries: 5,
		RetryDelay:    time.Millisecond,
	}
}

func newObservedDevice(driver Driver) (*Device, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewDevice(driver, testDeviceConfig(), zap.New(core)), logs
}

func TestDevice_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(false)
	device, _ := newObservedDevice(driver)

	if device.State() != StateUninitialized {
		t.Fatalf("Expected initial state uninitialized, got %s", device.State())
	}

	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if device.State() != StateReady {
		t.Errorf("Expected state ready, got %s", device.State())
	}

	// Ready 中の Acquire は再初期化しない
	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}
	if driver.InitCalls() != 1 {
		t.Errorf("Expected 1 init call, got %d", driver.InitCalls())
	}

	if err := device.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if device.State() != StateUninitialized {
		t.Errorf("Expected state uninitialized after release, got %s", device.State())
	}
	if driver.Sensor() != nil {
		t.Error("Expected sensor to be released")
	}
}

func TestDevice_AcquireFailure(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(false)
	driver.SetInitError(errors.New("sensor busy"))
	device, _ := newObservedDevice(driver)

	err := device.Acquire(ctx)
	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("Expected ErrInitFailed, got %v", err)
	}
	if device.State() != StateUninitialized {
		t.Errorf("Expected state to stay uninitialized, got %s", device.State())
	}

	// 失敗が解消されれば再試行で成功する
	driver.SetInitError(nil)
	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire should succeed now: %v", err)
	}
}

func TestDevice_ReleaseDrainsBuffers(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(false)
	device, _ := newObservedDevice(driver)

	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	driver.QueueFrames(3)
	if err := device.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if got := device.Status().LastDrained; got != 3 {
		t.Errorf("Expected 3 drained buffers, got %d", got)
	}
	if driver.Outstanding() != 0 {
		t.Errorf("Expected no outstanding buffers, got %d", driver.Outstanding())
	}
}

func TestDevice_ReleaseDrainIsBounded(t *testing.T) {
	ctx := context.Background()
	// 常にフレームを返すドライバーでも解放は予算内で終わる
	driver := NewMockDriver(true)
	device, _ := newObservedDevice(driver)

	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	start := time.Now()
	if err := device.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Release took too long: %s", elapsed)
	}
	if driver.Outstanding() != 0 {
		t.Errorf("Expected no outstanding buffers, got %d", driver.Outstanding())
	}
}

func TestDevice_ReleaseRetries(t *testing.T) {
	testCases := []struct {
		name           string
		failures       int
		expectErr      bool
		expectAttempts int
	}{
		{"一度で成功", 0, false, 1},
		{"4回失敗して5回目で成功", 4, false, 5},
		{"常に失敗", -1, true, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			driver := NewMockDriver(false)
			device, logs := newObservedDevice(driver)

			if err := device.Acquire(ctx); err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}

			driver.SetDeinitFailures(tc.failures)
			err := device.Release()

			if tc.expectErr && !errors.Is(err, ErrTeardownFailed) {
				t.Errorf("Expected ErrTeardownFailed, got %v", err)
			}
			if !tc.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if driver.DeinitCalls() != tc.expectAttempts {
				t.Errorf("Expected %d deinit attempts, got %d", tc.expectAttempts, driver.DeinitCalls())
			}
			if device.State() != StateUninitialized {
				t.Errorf("Expected state uninitialized, got %s", device.State())
			}

			terminal := logs.FilterField(zap.Bool("needs_reset", true)).Len()
			if tc.expectErr && terminal != 1 {
				t.Errorf("Expected 1 terminal failure log, got %d", terminal)
			}
			if !tc.expectErr && terminal != 0 {
				t.Errorf("Expected no terminal failure log, got %d", terminal)
			}
			if device.Status().TeardownFailed != tc.expectErr {
				t.Errorf("Expected teardown_failed=%v", tc.expectErr)
			}
		})
	}
}

func TestDevice_ReacquireAfterTeardownFailure(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(false)
	device, _ := newObservedDevice(driver)

	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	driver.SetDeinitFailures(-1)
	_ = device.Release()

	// 停止失敗は次の Acquire を妨げない
	driver.SetDeinitFailures(0)
	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after failed teardown: %v", err)
	}
	if driver.InitCalls() != 2 {
		t.Errorf("Expected 2 init calls, got %d", driver.InitCalls())
	}
	if device.Status().TeardownFailed {
		t.Error("Expected teardown_failed to be cleared after reacquire")
	}
}

func TestDevice_FetchRequiresReady(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(true)
	device, _ := newObservedDevice(driver)

	if _, err := device.Fetch(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Expected ErrNotReady, got %v", err)
	}

	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	frame, err := device.Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if frame.Encoding != EncodingJPEG {
		t.Errorf("Expected jpeg frame, got %s", frame.Encoding)
	}
	device.Return(frame)

	driver.SetFetchFailing(true)
	if _, err := device.Fetch(); !errors.Is(err, ErrFrameCaptureFailed) {
		t.Errorf("Expected ErrFrameCaptureFailed, got %v", err)
	}
	if driver.Outstanding() != 0 {
		t.Errorf("Expected no outstanding buffers, got %d", driver.Outstanding())
	}
}

func TestDevice_SettingsAppliedOnAcquire(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver(false)
	device, _ := newObservedDevice(driver)

	// 未初期化の間は記録だけされる
	device.SetQuality(42)
	device.SetFramesize(FramesizeQVGA)

	if err := device.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	sensor := driver.Sensor().(*MockSensor)
	if sensor.Quality() != 42 {
		t.Errorf("Expected quality 42, got %d", sensor.Quality())
	}
	if sensor.Framesize() != FramesizeQVGA {
		t.Errorf("Expected framesize 320x240, got %s", sensor.Framesize())
	}

	// Ready 中は即座に反映される
	device.SetFramesize(FramesizeQCIF)
	if sensor.Framesize() != FramesizeQCIF {
		t.Errorf("Expected framesize 176x144, got %s", sensor.Framesize())
	}
}

func TestParseFramesize(t *testing.T) {
	for _, name := range FramesizeNames() {
		size, ok := ParseFramesize(name)
		if !ok {
			t.Errorf("Expected %s to be supported", name)
			continue
		}
		if size.String() != name {
			t.Errorf("Expected %s, got %s", name, size.String())
		}
	}

	for _, name := range []string{"", "640x480", "QVGA", "320x240 "} {
		if _, ok := ParseFramesize(name); ok {
			t.Errorf("Expected %q to be rejected", name)
		}
	}

	if w, h := Framesize240x240.Dimensions(); w != 240 || h != 240 {
		t.Errorf("Expected 240x240, got %dx%d", w, h)
	}
}
