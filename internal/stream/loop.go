package stream

import (
	"context"
	"time"

	"hitomi/internal/camera"

	"go.uber.org/zap"
)

// Run はストリーミングループを実行する。ctx がキャンセルされるまで戻らない
// 各反復で次に起きる時刻を計算し、単一のタイマーで待機する
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("ストリーミングループを開始します")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("ストリーミングループを停止しました")
			return nil
		case <-timer.C:
		case <-c.kick:
			timer.Stop()
		}

		timer.Reset(c.step(time.Now()))
	}
}

// step はフレームを1つ配信できるか判定し、配信して、次の待機時間を返す
// フレームの取得から返却までロックを保持し、停止処理と重ならないようにする
func (c *Controller) step(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == "" || !c.streaming ||
		c.device.State() != camera.StateReady ||
		!c.transport.CanSend(c.current) {
		return c.options.IdleInterval
	}

	// FPS制御
	interval := c.params.Interval()
	if !c.lastFrame.IsZero() {
		if elapsed := now.Sub(c.lastFrame); elapsed < interval {
			return min(interval-elapsed, c.options.PollTick)
		}
	}
	c.lastFrame = now

	frame, err := c.device.Fetch()
	if err != nil {
		c.captureFailures++
		// 連続エラーの場合は初回のみログ出力
		if !c.failing {
			c.failing = true
			c.logger.Warn("カメラフレームの取得に失敗しました", zap.Error(err))
		}
		c.sendText(c.current, MsgFrameCaptureFailed)
		return c.options.CaptureBackoff
	}

	if c.failing {
		c.failing = false
		c.logger.Info("カメラフレームの取得が回復しました")
	}

	// JPEG形式の場合のみ送信
	if frame.Encoding == camera.EncodingJPEG {
		if err := c.transport.SendBinary(c.current, frame.Data); err != nil {
			c.logger.Debug("フレームの送信に失敗しました", zap.Error(err))
		} else {
			c.framesSent++
		}
	}
	c.device.Return(frame)

	return min(interval, c.options.PollTick)
}
