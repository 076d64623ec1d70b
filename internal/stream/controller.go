package stream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"hitomi/internal/camera"

	"go.uber.org/zap"
)

// Device はControllerが使うデバイスのライフサイクル操作
type Device interface {
	Tuner
	Acquire(ctx context.Context) error
	Release() error
	Fetch() (*camera.Frame, error)
	Return(frame *camera.Frame)
	State() camera.State
	Status() camera.DeviceStatus
}

// Options はControllerの設定
type Options struct {
	DefaultFPS        int
	DefaultResolution string
	DefaultQuality    int // 0はデバイスのデフォルト

	IdleInterval   time.Duration // 配信していない間の待機
	PollTick       time.Duration // 次フレームまでのポーリング間隔
	CaptureBackoff time.Duration // フレーム取得失敗後の待機
}

// DefaultOptions はデフォルトの設定を返す
func DefaultOptions() Options {
	return Options{
		DefaultFPS:        DefaultFPS,
		DefaultResolution: camera.FramesizeQQVGA.String(),
		IdleInterval:      100 * time.Millisecond,
		PollTick:          10 * time.Millisecond,
		CaptureBackoff:    100 * time.Millisecond,
	}
}

// Status はControllerの状態のスナップショット
type Status struct {
	Connected       bool                `json:"connected"`
	Conn            string              `json:"conn,omitempty"`
	RemoteAddr      string              `json:"remote_addr,omitempty"`
	Streaming       bool                `json:"streaming"`
	FPS             int                 `json:"fps"`
	Quality         int                 `json:"quality"`
	Resolution      string              `json:"resolution"`
	FramesSent      uint64              `json:"frames_sent"`
	CaptureFailures uint64              `json:"capture_failures"`
	Device          camera.DeviceStatus `json:"device"`
}

// Controller は単一クライアントのセッション、コマンド処理、ストリーミングループの
// 共有状態を所有する。セッション・配信フラグ・デバイス状態の遷移は全て mu の下で行う
type Controller struct {
	device    Device
	transport Transport
	options   Options
	logger    *zap.Logger

	mu        sync.Mutex
	params    *Parameters
	current   ConnID
	remote    string
	streaming bool

	// ストリーミングループの状態
	lastFrame       time.Time
	failing         bool
	framesSent      uint64
	captureFailures uint64

	kick chan struct{}
}

// NewController は新しいControllerを作成する
func NewController(device Device, transport Transport, options Options, logger *zap.Logger) *Controller {
	c := &Controller{
		device:    device,
		transport: transport,
		options:   options,
		logger:    logger.Named("controller"),
		params:    NewParameters(device, logger.Named("params")),
		kick:      make(chan struct{}, 1),
	}

	// デフォルト値も通常のセッターで検証する
	if options.DefaultFPS != 0 {
		c.params.SetFPS(options.DefaultFPS)
	}
	if options.DefaultResolution != "" {
		c.params.SetResolution(options.DefaultResolution)
	}
	if options.DefaultQuality != 0 {
		c.params.SetJPEGQuality(options.DefaultQuality)
	}

	return c
}

// HandleEvent はトランスポートからのイベントを処理する
func (c *Controller) HandleEvent(ctx context.Context, event Event) {
	switch e := event.(type) {
	case ConnectEvent:
		c.onConnect(e)
	case DisconnectEvent:
		c.onDisconnect(e)
	case TextEvent:
		c.onText(ctx, e)
	case ControlEvent:
		c.onControl(e)
	default:
		c.logger.Warn("未知のイベントを受信しました", zap.String("type", fmt.Sprintf("%T", event)))
	}
}

// onConnect は新しい接続を現在のセッションにする
func (c *Controller) onConnect(e ConnectEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("クライアントが接続しました",
		zap.String("conn", string(e.Conn)),
		zap.String("remote_addr", e.RemoteAddr))

	if c.current != "" && c.current != e.Conn {
		c.logger.Info("既存のクライアントを切断します", zap.String("conn", string(c.current)))
		if err := c.transport.Close(c.current); err != nil {
			c.logger.Debug("既存クライアントの切断に失敗しました", zap.Error(err))
		}
	}

	// 接続時にストリーミングは開始しない。start_streamコマンドを待つ
	c.current = e.Conn
	c.remote = e.RemoteAddr
	c.streaming = false
	c.failing = false

	c.sendText(e.Conn, MsgClientConnected)
	c.sendText(e.Conn, PrefixCurrentFPS+strconv.Itoa(c.params.FPS()))
	c.sendText(e.Conn, PrefixCurrentResolution+c.params.Resolution().String())
}

// onDisconnect は現在のセッションの切断時のみ状態を変更する
func (c *Controller) onDisconnect(e DisconnectEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Conn != c.current {
		c.logger.Debug("置き換え済みの接続の切断を無視します", zap.String("conn", string(e.Conn)))
		return
	}

	c.logger.Info("クライアントが切断しました", zap.String("conn", string(e.Conn)))
	c.current = ""
	c.remote = ""
	c.streaming = false

	// クライアント切断時にカメラを停止
	c.releaseDevice()
}

// onText はコマンドを解釈して実行する
func (c *Controller) onText(ctx context.Context, e TextEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Conn != c.current {
		c.logger.Warn("現在のセッション以外からのメッセージを破棄します",
			zap.String("conn", string(e.Conn)),
			zap.String("message", e.Text))
		return
	}

	c.logger.Debug("メッセージを受信しました", zap.String("message", e.Text))

	switch cmd := ParseCommand(e.Text).(type) {
	case SetFPSCommand:
		c.params.SetFPS(cmd.FPS)
	case SetJPEGQualityCommand:
		c.params.SetJPEGQuality(cmd.Quality)
	case SetResolutionCommand:
		c.params.SetResolution(cmd.Name)
	case StartStreamCommand:
		c.startStream(ctx, e.Conn)
	case StopStreamCommand:
		c.stopStream()
	case UnknownCommand:
		c.logger.Info("認識できないメッセージを無視します", zap.String("message", cmd.Text))
	}
}

// startStream は必要ならカメラを初期化してから配信を有効にする（ロック済み前提）
func (c *Controller) startStream(ctx context.Context, conn ConnID) {
	if c.streaming {
		c.logger.Info("既にストリーミング中です")
		return
	}

	if c.device.State() != camera.StateReady {
		c.logger.Info("カメラが停止しているため再初期化を試みます")
		if err := c.device.Acquire(ctx); err != nil {
			c.logger.Error("カメラの再初期化に失敗しました", zap.Error(err))
			c.sendText(conn, MsgCameraReinitFailed)
			return
		}
	}

	c.streaming = true
	c.lastFrame = time.Time{}
	c.failing = false
	c.logger.Info("ストリーミングを開始します")

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// stopStream は配信を止め、必ずカメラを停止する（ロック済み前提）
func (c *Controller) stopStream() {
	if c.streaming {
		c.logger.Info("ストリーミングを停止します")
	}
	c.streaming = false
	c.releaseDevice()
}

// onControl は制御フレームを記録する
func (c *Controller) onControl(e ControlEvent) {
	switch e.Kind {
	case ControlError:
		c.logger.Warn("WebSocketエラー", zap.String("conn", string(e.Conn)), zap.Error(e.Err))
	default:
		c.logger.Debug("制御フレームを受信しました",
			zap.String("conn", string(e.Conn)),
			zap.String("kind", string(e.Kind)))
	}
}

// Shutdown は現在の接続を閉じてカメラを停止する
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" {
		if err := c.transport.Close(c.current); err != nil {
			c.logger.Debug("接続の切断に失敗しました", zap.Error(err))
		}
		c.current = ""
		c.remote = ""
	}
	c.streaming = false
	c.releaseDevice()
}

// Status は現在の状態を返す
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Connected:       c.current != "",
		Conn:            string(c.current),
		RemoteAddr:      c.remote,
		Streaming:       c.streaming,
		FPS:             c.params.FPS(),
		Quality:         c.params.Quality(),
		Resolution:      c.params.Resolution().String(),
		FramesSent:      c.framesSent,
		CaptureFailures: c.captureFailures,
		Device:          c.device.Status(),
	}
}

// releaseDevice はカメラを停止する。失敗はDevice側でログ済み（ロック済み前提）
func (c *Controller) releaseDevice() {
	if err := c.device.Release(); err != nil {
		c.logger.Warn("カメラの停止処理が完了しませんでした", zap.Error(err))
	}
}

// sendText は送信に失敗しても処理を続ける（ロック済み前提）
func (c *Controller) sendText(conn ConnID, message string) {
	if err := c.transport.SendText(conn, message); err != nil {
		c.logger.Debug("メッセージの送信に失敗しました",
			zap.String("conn", string(conn)),
			zap.String("message", message),
			zap.Error(err))
	}
}
