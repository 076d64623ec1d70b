package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"hitomi/internal/stream"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrUnknownConn は既に切断された、または存在しない接続への操作
	ErrUnknownConn = errors.New("unknown connection")
	// ErrSendQueueFull は送信キューが詰まっている
	ErrSendQueueFull = errors.New("send queue full")
	// ErrHubClosed はシャットダウン後の接続要求
	ErrHubClosed = errors.New("hub closed")
)

// HubConfig はHubの設定
type HubConfig struct {
	SendQueue    int           // 接続ごとの送信キュー長
	PingInterval time.Duration // Ping送信間隔
	PongWait     time.Duration // 応答が途絶えたとみなすまでの時間。0ならPing間隔の2倍
	WriteWait    time.Duration // 1メッセージの書き込み上限
	ReadLimit    int64         // 受信メッセージの最大サイズ
}

// EventSink はHubが受け取ったイベントの配送先
type EventSink interface {
	HandleEvent(ctx context.Context, event stream.Event)
}

// Hub はWebSocket接続を管理し、stream.Transport を実装する
// 全ての接続イベントは1つのチャンネルに集約され、Run が順番に配送する
type Hub struct {
	config   HubConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[stream.ConnID]*wsConn
	closed bool

	events   chan stream.Event
	quit     chan struct{}
	quitOnce sync.Once
}

// wsConn は1つのWebSocket接続
type wsConn struct {
	id     stream.ConnID
	ws     *websocket.Conn
	send   chan outbound
	done   chan struct{}
	closer sync.Once
}

type outbound struct {
	messageType int
	data        []byte
}

func (c *wsConn) close() {
	c.closer.Do(func() { close(c.done) })
}

func (c *wsConn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// NewHub は新しいHubを作成する
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	if config.SendQueue <= 0 {
		config.SendQueue = 8
	}
	if config.WriteWait <= 0 {
		config.WriteWait = 5 * time.Second
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = 4096
	}
	if config.PongWait <= 0 && config.PingInterval > 0 {
		config.PongWait = 2 * config.PingInterval
	}

	return &Hub{
		config: config,
		logger: logger.Named("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			// 組み込み用途のため全てのオリジンを許可
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(map[stream.ConnID]*wsConn),
		events: make(chan stream.Event, 64),
		quit:   make(chan struct{}),
	}
}

// Run はイベントを1つずつ sink へ配送する。ctx がキャンセルされるまで戻らない
func (h *Hub) Run(ctx context.Context, sink EventSink) error {
	defer h.quitOnce.Do(func() { close(h.quit) })

	h.logger.Info("イベント配送を開始します")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("イベント配送を停止しました")
			return nil
		case event := <-h.events:
			sink.HandleEvent(ctx, event)
		}
	}
}

// ServeWS はHTTPリクエストをWebSocketにアップグレードし、切断まで受信を続ける
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		return err
	}

	conn := &wsConn{
		id:   stream.ConnID(uuid.NewString()),
		ws:   ws,
		send: make(chan outbound, h.config.SendQueue),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.config.WriteWait))
		ws.Close()
		return ErrHubClosed
	}
	h.conns[conn.id] = conn
	h.mu.Unlock()

	h.logger.Debug("WebSocket接続を確立しました",
		zap.String("conn", string(conn.id)),
		zap.String("remote_addr", r.RemoteAddr))

	// 接続イベントは受信開始より前に積む
	h.emit(stream.ConnectEvent{Conn: conn.id, RemoteAddr: r.RemoteAddr})

	go h.writePump(conn)
	h.readPump(conn)

	h.mu.Lock()
	delete(h.conns, conn.id)
	h.mu.Unlock()
	conn.close()

	h.emit(stream.DisconnectEvent{Conn: conn.id})
	return nil
}

// readPump はテキストメッセージをイベントに変換する。バイナリは無視する
// PongWait の間に何も受信しなければ切断する
func (h *Hub) readPump(conn *wsConn) {
	ws := conn.ws
	ws.SetReadLimit(h.config.ReadLimit)
	extend := func() {
		if h.config.PongWait > 0 {
			ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
		}
	}
	extend()
	ws.SetPongHandler(func(string) error {
		extend()
		h.emit(stream.ControlEvent{Conn: conn.id, Kind: stream.ControlPong})
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		extend()
		h.emit(stream.ControlEvent{Conn: conn.id, Kind: stream.ControlPing})
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(h.config.WriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				h.logger.Info("応答がないため接続を閉じます",
					zap.String("conn", string(conn.id)),
					zap.Duration("pong_wait", h.config.PongWait))
				h.emit(stream.ControlEvent{Conn: conn.id, Kind: stream.ControlError, Err: err})
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.closing():
				h.emit(stream.ControlEvent{Conn: conn.id, Kind: stream.ControlError, Err: err})
			}
			return
		}
		extend()

		if messageType != websocket.TextMessage {
			h.logger.Debug("バイナリメッセージを無視します", zap.String("conn", string(conn.id)))
			continue
		}
		h.emit(stream.TextEvent{Conn: conn.id, Text: string(data)})
	}
}

// writePump は送信キューを書き出し、定期的にPingを送る
// 接続への書き込みはこのゴルーチンだけが行う
func (h *Hub) writePump(conn *wsConn) {
	var tick <-chan time.Time
	if h.config.PingInterval > 0 {
		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer conn.ws.Close()

	for {
		select {
		case msg := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := conn.ws.WriteMessage(msg.messageType, msg.data); err != nil {
				h.logger.Debug("WebSocketへの書き込みに失敗しました",
					zap.String("conn", string(conn.id)), zap.Error(err))
				conn.close()
				return
			}
		case <-tick:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteWait)); err != nil {
				conn.close()
				return
			}
		case <-conn.done:
			_ = conn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.config.WriteWait))
			return
		}
	}
}

// emit はイベントを配送キューへ積む。Run 終了後は破棄する
func (h *Hub) emit(event stream.Event) {
	select {
	case h.events <- event:
	case <-h.quit:
	}
}

func (h *Hub) lookup(id stream.ConnID) (*wsConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[id]
	if !ok || conn.closing() {
		return nil, ErrUnknownConn
	}
	return conn, nil
}

func (h *Hub) enqueue(id stream.ConnID, msg outbound) error {
	conn, err := h.lookup(id)
	if err != nil {
		return err
	}

	select {
	case conn.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendText はテキストメッセージを送信キューへ積む
func (h *Hub) SendText(id stream.ConnID, message string) error {
	return h.enqueue(id, outbound{messageType: websocket.TextMessage, data: []byte(message)})
}

// SendBinary はバイナリメッセージを送信キューへ積む。data はコピーされる
func (h *Hub) SendBinary(id stream.ConnID, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return h.enqueue(id, outbound{messageType: websocket.BinaryMessage, data: buf})
}

// CanSend は送信キューが空のときだけ true を返す
func (h *Hub) CanSend(id stream.ConnID) bool {
	conn, err := h.lookup(id)
	if err != nil {
		return false
	}
	return len(conn.send) == 0
}

// Close は接続を閉じる。DisconnectEvent は受信側の終了時に発生する
func (h *Hub) Close(id stream.ConnID) error {
	conn, err := h.lookup(id)
	if err != nil {
		return err
	}
	conn.close()
	return nil
}

// Count は現在の接続数を返す
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll は全ての接続を閉じ、以降の接続を拒否する
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, conn := range h.conns {
		conn.close()
	}
}
