package stream

// テキストチャンネルのプロトコル文字列
const (
	// 受信コマンド
	PrefixSetFPS         = "SET_FPS:"
	PrefixSetJPEGQuality = "SET_JPEG_QUALITY:"
	PrefixSetResolution  = "SET_RESOLUTION:"
	CmdStartStream       = "start_stream"
	CmdStopStream        = "stop_stream"

	// 送信メッセージ
	MsgClientConnected      = "from_esp32: client connected"
	MsgCameraReinitFailed   = "from_esp32: camera_reinit_failed"
	MsgFrameCaptureFailed   = "error:frame_capture_failed"
	PrefixCurrentFPS        = "current_fps:"
	PrefixCurrentResolution = "current_resolution:"
)

// ConnID はトランスポートが管理する接続の識別子
// コアは接続の寿命を所有せず、送信先の指定と照合にのみ使う
type ConnID string

// Transport はクライアントへの送信手段を提供する
// 既に切断された接続への送信はエラーを返すだけで、パニックしない
// SendBinary は呼び出し後に data を再利用できるようにコピーする
type Transport interface {
	SendText(id ConnID, message string) error
	SendBinary(id ConnID, data []byte) error
	CanSend(id ConnID) bool
	Close(id ConnID) error
}
