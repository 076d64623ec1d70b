package stream

import (
	"time"

	"hitomi/internal/camera"

	"go.uber.org/zap"
)

// パラメータの範囲
const (
	MinFPS         = 1
	MaxFPS         = 30
	DefaultFPS     = 1
	MinJPEGQuality = 10
	MaxJPEGQuality = 100
)

// Tuner は解像度と画質をハードウェアへ反映する
type Tuner interface {
	SetQuality(quality int)
	SetFramesize(size camera.Framesize)
}

// Parameters はストリーミングのFPS・JPEG画質・解像度を保持する
// 値は常に範囲内に保たれる。Controller のロック下でのみ操作する
type Parameters struct {
	fps        int
	quality    int // 0はデバイスのデフォルト
	resolution camera.Framesize

	tuner  Tuner
	logger *zap.Logger
}

// NewParameters はデフォルト値のParametersを作成する
func NewParameters(tuner Tuner, logger *zap.Logger) *Parameters {
	return &Parameters{
		fps:        DefaultFPS,
		resolution: camera.FramesizeQQVGA,
		tuner:      tuner,
		logger:     logger,
	}
}

// SetFPS は範囲内の値のみ適用する。範囲外は無視して以前の値を保つ
func (p *Parameters) SetFPS(fps int) bool {
	if fps < MinFPS || fps > MaxFPS {
		p.logger.Warn("無効なFPS値が指定されました",
			zap.Int("fps", fps),
			zap.Int("min", MinFPS),
			zap.Int("max", MaxFPS))
		return false
	}

	p.fps = fps
	p.logger.Info("FPSを設定しました", zap.Int("fps", fps), zap.Duration("interval", p.Interval()))
	return true
}

// SetJPEGQuality は範囲内に丸めて必ず適用し、適用後の値を返す
func (p *Parameters) SetJPEGQuality(quality int) int {
	quality = max(MinJPEGQuality, min(MaxJPEGQuality, quality))

	p.quality = quality
	p.tuner.SetQuality(quality)
	p.logger.Info("JPEG画質を設定しました", zap.Int("quality", quality))
	return quality
}

// SetResolution は対応する解像度名なら適用する。未対応なら何もしない
func (p *Parameters) SetResolution(name string) bool {
	size, ok := camera.ParseFramesize(name)
	if !ok {
		p.logger.Warn("未対応の解像度が指定されました",
			zap.String("resolution", name),
			zap.Strings("supported", camera.FramesizeNames()))
		return false
	}

	p.resolution = size
	p.tuner.SetFramesize(size)
	p.logger.Info("解像度を設定しました", zap.Stringer("resolution", size))
	return true
}

// FPS は現在のFPSを返す
func (p *Parameters) FPS() int {
	return p.fps
}

// Quality は現在のJPEG画質を返す。未設定なら0
func (p *Parameters) Quality() int {
	return p.quality
}

// Resolution は現在の解像度を返す
func (p *Parameters) Resolution() camera.Framesize {
	return p.resolution
}

// Interval はフレーム間隔を返す
func (p *Parameters) Interval() time.Duration {
	return time.Duration(1000/p.fps) * time.Millisecond
}
