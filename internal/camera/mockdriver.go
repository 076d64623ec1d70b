package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// MockDriver はテストとデモ用のドライバー実装
// 初期化・停止・フレーム取得の失敗を外部から制御できる
type MockDriver struct {
	mu sync.Mutex

	initialized bool
	sensor      *MockSensor

	// テスト制御用
	initErr        error
	deinitFailures int // 残り失敗回数。負数なら常に失敗
	fetchFailing   bool
	generate       bool
	encoding       Encoding
	queued         int

	// 呼び出し回数
	initCalls   int
	deinitCalls int
	fetched     int
	returned    int
	sequence    int
	heldAtStop  int // 未返却フレームがある状態でのDeinitialize
}

// NewMockDriver は新しいMockDriverを作成する
// generate が true の場合、初期化中は常に合成JPEGフレームを返す
func NewMockDriver(generate bool) *MockDriver {
	return &MockDriver{
		generate: generate,
		encoding: EncodingJPEG,
	}
}

// Initialize はモックセンサーを初期化する
func (m *MockDriver) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initCalls++
	if m.initErr != nil {
		return m.initErr
	}

	m.initialized = true
	m.sensor = &MockSensor{framesize: FramesizeQQVGA}
	return nil
}

// Deinitialize はモックセンサーを停止する
func (m *MockDriver) Deinitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deinitCalls++
	if m.fetched > m.returned {
		m.heldAtStop++
	}
	if m.deinitFailures != 0 {
		if m.deinitFailures > 0 {
			m.deinitFailures--
		}
		return errors.New("モック: カメラ停止に失敗")
	}

	m.initialized = false
	m.sensor = nil
	return nil
}

// Sensor は初期化済みならセンサーを返す
func (m *MockDriver) Sensor() Sensor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sensor == nil {
		return nil
	}
	return m.sensor
}

// FetchFrame はキューにあるフレーム、または合成フレームを返す
func (m *MockDriver) FetchFrame() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queued > 0 {
		m.queued--
		m.fetched++
		return &Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Encoding: m.encoding}, true
	}

	if !m.initialized || m.fetchFailing || !m.generate {
		return nil, false
	}

	m.sequence++
	data, err := m.sensor.render(m.sequence)
	if err != nil {
		return nil, false
	}

	m.fetched++
	return &Frame{Data: data, Encoding: m.encoding}, true
}

// ReturnFrame は返却回数を記録する
func (m *MockDriver) ReturnFrame(_ *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returned++
}

// SetInitError はテスト用にInitializeの失敗を設定する
func (m *MockDriver) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// SetDeinitFailures はテスト用に次のn回のDeinitializeを失敗させる。負数なら常に失敗
func (m *MockDriver) SetDeinitFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deinitFailures = n
}

// SetFetchFailing はテスト用にフレーム取得の失敗を設定する
func (m *MockDriver) SetFetchFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailing = failing
}

// SetEncoding は返すフレームのエンコード形式を設定する
func (m *MockDriver) SetEncoding(encoding Encoding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoding = encoding
}

// QueueFrames は解放待ちのバッファをn個積む
func (m *MockDriver) QueueFrames(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued += n
}

// InitCalls はInitializeの呼び出し回数を返す
func (m *MockDriver) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

// DeinitCalls はDeinitializeの呼び出し回数を返す
func (m *MockDriver) DeinitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deinitCalls
}

// Outstanding は返却されていないフレーム数を返す
func (m *MockDriver) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched - m.returned
}

// Fetched は取得されたフレーム数を返す
func (m *MockDriver) Fetched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched
}

// HeldAtStop は未返却のフレームを残したままDeinitializeされた回数を返す
func (m *MockDriver) HeldAtStop() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldAtStop
}

// Returned は返却されたフレーム数を返す
func (m *MockDriver) Returned() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.returned
}

// MockSensor は設定値を記録するだけのセンサー
type MockSensor struct {
	mu        sync.Mutex
	framesize Framesize
	quality   int
}

// SetFramesize は解像度を記録する
func (s *MockSensor) SetFramesize(size Framesize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesize = size
	return nil
}

// SetQuality はJPEG画質を記録する
func (s *MockSensor) SetQuality(quality int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quality = quality
	return nil
}

// Framesize は記録された解像度を返す
func (s *MockSensor) Framesize() Framesize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesize
}

// Quality は記録されたJPEG画質を返す
func (s *MockSensor) Quality() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// render は現在の設定で単色のJPEG画像を生成する
func (s *MockSensor) render(seq int) ([]byte, error) {
	s.mu.Lock()
	width, height := s.framesize.Dimensions()
	quality := s.quality
	s.mu.Unlock()

	if quality == 0 {
		quality = jpeg.DefaultQuality
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := color.RGBA{R: uint8(seq * 7), G: uint8(seq * 13), B: uint8(seq * 29), A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
