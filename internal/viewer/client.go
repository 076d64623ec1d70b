package viewer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"hitomi/internal/stream"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config はビューアーの設定
type Config struct {
	URL        string // ws://host:port/stream
	FPS        int
	Resolution string
	Quality    int // 0なら送らない

	ReconnectInterval time.Duration // 切断後に再接続するまでの待機
	ResendInterval    time.Duration // 解像度を再送する最短間隔
	HandshakeTimeout  time.Duration
	CloseWait         time.Duration // 終了時にサーバーの切断を待つ上限
}

// DefaultConfig はデフォルトの設定を返す
func DefaultConfig() Config {
	return Config{
		URL:               "ws://192.168.4.1/stream",
		FPS:               10,
		Resolution:        "240x176",
		ReconnectInterval: 5 * time.Second,
		ResendInterval:    5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		CloseWait:         time.Second,
	}
}

// State はクライアントから見たデバイスの状態
type State struct {
	DeviceFPS        int
	DeviceResolution string
	Frames           int
	Sessions         int
	Resends          int
	FPS              float64
}

// Client はコントローラーへ接続してフレームを受信する
// 接続が切れた場合は ctx がキャンセルされるまで再接続を繰り返す
type Client struct {
	config Config
	sink   FrameSink
	meter  *FPSMeter
	logger *zap.Logger
	dialer *websocket.Dialer

	mu    sync.Mutex
	state State

	lastResend time.Time
}

// NewClient は新しいClientを作成する
func NewClient(config Config, sink FrameSink, logger *zap.Logger) *Client {
	return &Client{
		config: config,
		sink:   sink,
		meter:  NewFPSMeter(time.Now()),
		logger: logger.Named("viewer"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Run は接続と受信を繰り返す。ctx がキャンセルされると nil を返す
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("接続が切れました。再接続します",
			zap.Error(err),
			zap.Duration("retry_in", c.config.ReconnectInterval))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.ReconnectInterval):
		}
	}
}

// State は現在の状態を返す
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	state.FPS = c.meter.Current()
	return state
}

// session は1回の接続を処理する
func (c *Client) session(ctx context.Context) error {
	c.logger.Info("接続しています", zap.String("url", c.config.URL))

	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("接続に失敗: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.state.Sessions++
	c.mu.Unlock()

	w := &connWriter{conn: conn}
	for _, command := range c.setupCommands() {
		if err := w.text(command); err != nil {
			return fmt.Errorf("設定の送信に失敗: %w", err)
		}
	}
	c.logger.Info("接続しました。配信を要求します",
		zap.Int("fps", c.config.FPS),
		zap.String("resolution", c.config.Resolution))

	c.meter.Reset(time.Now())

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn, w)
	}()

	select {
	case err := <-readErr:
		return err
	case <-ctx.Done():
		c.logger.Info("配信を停止して切断します")
		_ = w.text(stream.StopStreamCommand{}.String())
		_ = w.close()

		select {
		case <-readErr:
		case <-time.After(c.config.CloseWait):
		}
		return ctx.Err()
	}
}

// setupCommands は接続直後に送るコマンドを返す
func (c *Client) setupCommands() []string {
	commands := []string{
		stream.SetFPSCommand{FPS: c.config.FPS}.String(),
		stream.SetResolutionCommand{Name: c.config.Resolution}.String(),
	}
	if c.config.Quality > 0 {
		commands = append(commands, stream.SetJPEGQualityCommand{Quality: c.config.Quality}.String())
	}
	return append(commands, stream.StartStreamCommand{}.String())
}

// readLoop は接続が切れるまでメッセージを処理する
func (c *Client) readLoop(conn *websocket.Conn, w *connWriter) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleFrame(data)
		case websocket.TextMessage:
			c.handleText(string(data), w)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	if err := c.sink.WriteFrame(data); err != nil {
		c.logger.Warn("フレームの保存に失敗しました", zap.Error(err))
	}

	c.mu.Lock()
	c.state.Frames++
	c.mu.Unlock()

	if fps, updated := c.meter.Frame(time.Now()); updated {
		c.logger.Info("受信フレームレート", zap.Float64("fps", fps), zap.Int("bytes", len(data)))
	}
}

func (c *Client) handleText(text string, w *connWriter) {
	switch {
	case strings.HasPrefix(text, stream.PrefixCurrentFPS):
		fps, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(text, stream.PrefixCurrentFPS)))
		if err != nil {
			c.logger.Warn("FPSの通知を解釈できません", zap.String("message", text))
			return
		}
		c.mu.Lock()
		c.state.DeviceFPS = fps
		c.mu.Unlock()
		c.logger.Info("デバイスのFPS", zap.Int("fps", fps))

	case strings.HasPrefix(text, stream.PrefixCurrentResolution):
		resolution := strings.TrimPrefix(text, stream.PrefixCurrentResolution)
		c.mu.Lock()
		c.state.DeviceResolution = resolution
		c.mu.Unlock()
		c.logger.Info("デバイスの解像度", zap.String("resolution", resolution))

	case text == stream.MsgFrameCaptureFailed:
		c.resendResolution(w)

	default:
		c.logger.Info("メッセージを受信しました", zap.String("message", text))
	}
}

// resendResolution はフレーム取得エラー時に解像度を再送してカメラの再設定を促す
func (c *Client) resendResolution(w *connWriter) {
	now := time.Now()

	c.mu.Lock()
	if !c.lastResend.IsZero() && now.Sub(c.lastResend) < c.config.ResendInterval {
		c.mu.Unlock()
		return
	}
	c.lastResend = now
	c.state.Resends++
	c.mu.Unlock()

	c.logger.Warn("フレーム取得エラーのため解像度を再送します", zap.String("resolution", c.config.Resolution))
	if err := w.text(stream.SetResolutionCommand{Name: c.config.Resolution}.String()); err != nil {
		c.logger.Warn("解像度の再送に失敗しました", zap.Error(err))
	}
}

// connWriter は書き込みを直列化する
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) text(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (w *connWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
