package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"hitomi/internal/camera"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeTransport は送信内容を記録するテスト用トランスポート
type fakeTransport struct {
	mu       sync.Mutex
	texts    map[ConnID][]string
	binaries map[ConnID]int
	closed   []ConnID
	blocked  map[ConnID]bool
	gone     map[ConnID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		texts:    make(map[ConnID][]string),
		binaries: make(map[ConnID]int),
		blocked:  make(map[ConnID]bool),
		gone:     make(map[ConnID]bool),
	}
}

func (f *fakeTransport) SendText(id ConnID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[id] {
		return errors.New("unknown connection")
	}
	f.texts[id] = append(f.texts[id], message)
	return nil
}

func (f *fakeTransport) SendBinary(id ConnID, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[id] {
		return errors.New("unknown connection")
	}
	f.binaries[id]++
	return nil
}

func (f *fakeTransport) CanSend(id ConnID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.gone[id] && !f.blocked[id]
}

func (f *fakeTransport) Close(id ConnID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	f.gone[id] = true
	return nil
}

func (f *fakeTransport) Texts(id ConnID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[id]...)
}

func (f *fakeTransport) CountText(id ConnID, message string) int {
	n := 0
	for _, m := range f.Texts(id) {
		if m == message {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Binaries(id ConnID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binaries[id]
}

func (f *fakeTransport) Closed() []ConnID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConnID(nil), f.closed...)
}

func (f *fakeTransport) SetBlocked(id ConnID, blocked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[id] = blocked
}

// testEnv はテスト用のControllerと依存をまとめる
type testEnv struct {
	controller *Controller
	driver     *camera.MockDriver
	device     *camera.Device
	transport  *fakeTransport
	logs       *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	driver := camera.NewMockDriver(true)
	device := camera.NewDevice(driver, camera.DeviceConfig{
		DrainBudget:   5 * time.Millisecond,
		DeinitRetries: 5,
		RetryDelay:    time.Millisecond,
	}, logger)
	transport := newFakeTransport()

	return &testEnv{
		controller: NewController(device, transport, DefaultOptions(), logger),
		driver:     driver,
		device:     device,
		transport:  transport,
		logs:       logs,
	}
}
