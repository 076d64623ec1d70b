package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// V4L2Config はV4L2ドライバーの設定
type V4L2Config struct {
	Device         string        // デバイスパス（例: /dev/video0）
	FFmpegPath     string        // ffmpegの実行ファイル
	V4L2CtlPath    string        // v4l2-ctlの実行ファイル
	CaptureTimeout time.Duration // フレーム待ちの上限
	StopGrace      time.Duration // ffmpeg終了待ちの上限
}

// 1フレームの最大サイズ
const maxJPEGSize = 4 * 1024 * 1024

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// V4L2Driver はffmpeg経由でV4L2デバイスからJPEGを取得するドライバー
type V4L2Driver struct {
	config V4L2Config
	logger *zap.Logger

	mu          sync.Mutex
	framesize   Framesize
	quality     int
	initialized bool

	// 実行中のパイプライン。停止中はnil
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	latest chan []byte

	pool sync.Pool
}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver(config V4L2Config, logger *zap.Logger) *V4L2Driver {
	return &V4L2Driver{
		config:    config,
		logger:    logger.Named("v4l2"),
		framesize: FramesizeQQVGA,
	}
}

// Initialize はデバイスを確認してキャプチャパイプラインを起動する
func (d *V4L2Driver) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// 前回の停止に失敗したパイプラインが残っていれば先に止める
	if d.initialized {
		if err := d.stopLocked(); err != nil {
			return fmt.Errorf("前回のパイプラインが停止していません: %w", err)
		}
		d.initialized = false
	}

	// v4l2-ctlでデバイス情報を取得して確認
	cmd := exec.CommandContext(ctx, d.config.V4L2CtlPath, "--device", d.config.Device, "--info")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("デバイスが利用できません: %s: %w (%s)", d.config.Device, err, bytes.TrimSpace(output))
	}

	if err := d.startLocked(); err != nil {
		return err
	}
	d.initialized = true
	return nil
}

// Deinitialize はパイプラインを停止する
func (d *V4L2Driver) Deinitialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.stopLocked(); err != nil {
		return err
	}
	d.initialized = false
	return nil
}

// Sensor は初期化済みならセンサーを返す
// ffmpegが途中で終了していても、設定の変更でパイプラインを再起動できる
func (d *V4L2Driver) Sensor() Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	return &v4l2Sensor{driver: d}
}

// FetchFrame は最新のJPEGフレームを取得する。CaptureTimeout まで待つ
func (d *V4L2Driver) FetchFrame() (*Frame, bool) {
	d.mu.Lock()
	latest, done := d.latest, d.done
	d.mu.Unlock()

	if latest == nil {
		return nil, false
	}

	timer := time.NewTimer(d.config.CaptureTimeout)
	defer timer.Stop()

	select {
	case data := <-latest:
		return &Frame{Data: data, Encoding: EncodingJPEG}, true
	case <-done:
		d.mu.Lock()
		if d.done == done {
			d.reapLocked()
		}
		d.mu.Unlock()
		return nil, false
	case <-timer.C:
		return nil, false
	}
}

// ReturnFrame はバッファをプールに戻す
func (d *V4L2Driver) ReturnFrame(frame *Frame) {
	if frame == nil || frame.Data == nil {
		return
	}
	buf := frame.Data[:0]
	frame.Data = nil
	d.pool.Put(&buf)
}

// startLocked はffmpegを起動する（ロック済み前提）
func (d *V4L2Driver) startLocked() error {
	width, height := d.framesize.Dimensions()

	// 呼び出し元のコンテキストではなく、停止時にキャンセルする
	pctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(pctx,
		d.config.FFmpegPath,
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", d.config.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(ffmpegQScale(d.quality)),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	done := make(chan struct{})
	latest := make(chan []byte, 1)

	go func() {
		defer close(done)
		// パイプを読み切ってからWaitする
		d.readFrames(stdout, latest)
		if err := cmd.Wait(); err != nil && pctx.Err() == nil {
			d.logger.Warn("ffmpegが終了しました", zap.Error(err), zap.String("stderr", stderr.String()))
		}
	}()

	d.cmd = cmd
	d.cancel = cancel
	d.done = done
	d.latest = latest

	d.logger.Info("キャプチャパイプラインを起動しました",
		zap.String("device", d.config.Device),
		zap.Stringer("framesize", d.framesize),
		zap.Int("quality", d.quality))
	return nil
}

// stopLocked はffmpegを停止する（ロック済み前提）
func (d *V4L2Driver) stopLocked() error {
	if d.cmd == nil {
		return nil
	}

	d.cancel()

	timer := time.NewTimer(d.config.StopGrace)
	defer timer.Stop()

	select {
	case <-d.done:
	case <-timer.C:
		return fmt.Errorf("ffmpegが %s 以内に終了しません", d.config.StopGrace)
	}

	d.cmd = nil
	d.cancel = nil
	d.done = nil
	d.latest = nil
	return nil
}

// reapLocked は自然に終了したパイプラインを片付ける（ロック済み前提）
func (d *V4L2Driver) reapLocked() {
	d.logger.Warn("ffmpegが停止しました。設定の再送で再起動します", zap.String("device", d.config.Device))

	d.cancel()
	d.cmd = nil
	d.cancel = nil
	d.done = nil
	d.latest = nil
}

// runningLocked はパイプラインが動作中か返す（ロック済み前提）
func (d *V4L2Driver) runningLocked() bool {
	if d.cmd == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// restartLocked は現在の設定でパイプラインを再起動する（ロック済み前提）
// 停止済みのパイプラインはそのまま起動し直す
func (d *V4L2Driver) restartLocked() error {
	if !d.initialized {
		return nil
	}
	if err := d.stopLocked(); err != nil {
		return err
	}
	return d.startLocked()
}

// readFrames はffmpegの出力をJPEGごとに分割し、最新の1枚だけを保持する
func (d *V4L2Driver) readFrames(r io.Reader, latest chan []byte) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxJPEGSize)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		frame := d.take(len(scanner.Bytes()))
		frame = append(frame, scanner.Bytes()...)

		select {
		case latest <- frame:
		default:
			// 古いフレームを捨てて入れ替える
			select {
			case old := <-latest:
				d.ReturnFrame(&Frame{Data: old})
			default:
			}
			select {
			case latest <- frame:
			default:
				d.ReturnFrame(&Frame{Data: frame})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		d.logger.Warn("フレーム読み取りエラー", zap.Error(err))
	}
}

// take はプールからバッファを取り出す
func (d *V4L2Driver) take(size int) []byte {
	if p, ok := d.pool.Get().(*[]byte); ok && cap(*p) >= size {
		return (*p)[:0]
	}
	return make([]byte, 0, size)
}

// splitJPEG はSOI(FFD8)からEOI(FFD9)までを1トークンとして切り出す
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// マーカーの前半だけが末尾に残っている可能性がある
		if len(data) > 0 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 不要なデータを削除して続きを待つ
		return start, nil, nil
	}

	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}

// ffmpegQScale はJPEG画質(10-100)をffmpegの-q:v(31-2)に変換する
func ffmpegQScale(quality int) int {
	if quality <= 0 {
		return 3
	}
	if quality < 10 {
		quality = 10
	}
	if quality > 100 {
		quality = 100
	}
	return 31 - (quality-10)*29/90
}

// v4l2Sensor は設定変更をパイプラインの再起動で反映する
type v4l2Sensor struct {
	driver *V4L2Driver
}

func (s *v4l2Sensor) SetFramesize(size Framesize) error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()

	if s.driver.framesize == size && s.driver.runningLocked() {
		return nil
	}
	s.driver.framesize = size
	return s.driver.restartLocked()
}

func (s *v4l2Sensor) SetQuality(quality int) error {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()

	if s.driver.quality == quality && s.driver.runningLocked() {
		return nil
	}
	s.driver.quality = quality
	return s.driver.restartLocked()
}
