package camera

import (
	"context"
	"errors"
	"fmt"
)

// State はデバイスのライフサイクル状態を表す
type State string

const (
	StateUninitialized State = "uninitialized" // センサー未初期化
	StateReady         State = "ready"         // フレーム取得可能
	StateTearingDown   State = "tearing_down"  // 停止処理中
)

// Encoding はフレームのエンコード形式
type Encoding string

const (
	EncodingJPEG Encoding = "jpeg"
	EncodingRaw  Encoding = "raw"
)

// Frame はドライバーから貸し出される1フレーム分のバッファ
// 使用後は必ずReturnFrameで返却すること
type Frame struct {
	Data     []byte
	Encoding Encoding
}

// エラー定義
var (
	ErrInitFailed         = errors.New("カメラの初期化に失敗")
	ErrTeardownFailed     = errors.New("カメラの停止に失敗")
	ErrFrameCaptureFailed = errors.New("フレームの取得に失敗")
	ErrNotReady           = errors.New("カメラが準備できていません")
)

// Sensor は初期化済みセンサーのレジスタ操作を提供する
type Sensor interface {
	SetFramesize(size Framesize) error
	SetQuality(quality int) error
}

// Driver は低レベルのカメラドライバーを抽象化するインターフェース
type Driver interface {
	// Initialize はセンサーを初期化する
	Initialize(ctx context.Context) error

	// Deinitialize はセンサーを停止する。失敗することがある
	Deinitialize() error

	// Sensor は初期化済みのセンサーを返す。未初期化ならnil
	Sensor() Sensor

	// FetchFrame はフレームを1つ取得する。取得できなければfalse
	FetchFrame() (*Frame, bool)

	// ReturnFrame は取得したフレームをドライバーに返却する
	ReturnFrame(frame *Frame)
}

// Framesize はセンサーが対応する解像度
type Framesize int

const (
	FramesizeQQVGA   Framesize = iota // 160x120
	FramesizeQCIF                     // 176x144
	FramesizeHQVGA                    // 240x176
	Framesize240x240                  // 240x240
	FramesizeQVGA                     // 320x240
)

type framesizeEntry struct {
	name   string
	size   Framesize
	width  int
	height int
}

var framesizeTable = []framesizeEntry{
	{"160x120", FramesizeQQVGA, 160, 120},
	{"176x144", FramesizeQCIF, 176, 144},
	{"240x176", FramesizeHQVGA, 240, 176},
	{"240x240", Framesize240x240, 240, 240},
	{"320x240", FramesizeQVGA, 320, 240},
}

// ParseFramesize は解像度名を対応するFramesizeに変換する
func ParseFramesize(name string) (Framesize, bool) {
	for _, e := range framesizeTable {
		if e.name == name {
			return e.size, true
		}
	}
	return 0, false
}

// FramesizeNames は対応している解像度名を返す
func FramesizeNames() []string {
	names := make([]string, 0, len(framesizeTable))
	for _, e := range framesizeTable {
		names = append(names, e.name)
	}
	return names
}

// String は解像度名を返す
func (f Framesize) String() string {
	for _, e := range framesizeTable {
		if e.size == f {
			return e.name
		}
	}
	return fmt.Sprintf("Framesize(%d)", int(f))
}

// Dimensions は幅と高さを返す
func (f Framesize) Dimensions() (width, height int) {
	for _, e := range framesizeTable {
		if e.size == f {
			return e.width, e.height
		}
	}
	return 0, 0
}
