package stream

// Event はトランスポートから届くイベント
// ConnectEvent / DisconnectEvent / TextEvent / ControlEvent のいずれか
type Event interface {
	isEvent()
}

// ConnectEvent は新しい接続を表す
type ConnectEvent struct {
	Conn       ConnID
	RemoteAddr string
}

// DisconnectEvent は接続の切断を表す
type DisconnectEvent struct {
	Conn ConnID
}

// TextEvent はテキストメッセージの受信を表す
type TextEvent struct {
	Conn ConnID
	Text string
}

// ControlKind は制御フレームの種類
type ControlKind string

const (
	ControlPing  ControlKind = "ping"
	ControlPong  ControlKind = "pong"
	ControlError ControlKind = "error"
)

// ControlEvent はping/pongやプロトコルエラーを表す
type ControlEvent struct {
	Conn ConnID
	Kind ControlKind
	Err  error
}

func (ConnectEvent) isEvent()    {}
func (DisconnectEvent) isEvent() {}
func (TextEvent) isEvent()       {}
func (ControlEvent) isEvent()    {}
