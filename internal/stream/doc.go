// Package stream は単一クライアント向けのカメラ配信を制御する。
//
// 責務:
//   - セッション管理: 同時に1つの接続だけを現在のセッションとし、新しい接続が来たら古い接続を閉じる
//   - コマンド処理: SET_FPS / SET_JPEG_QUALITY / SET_RESOLUTION / start_stream / stop_stream
//   - ストリーミングループ: 設定されたFPSでフレームを取得し、現在のセッションへ送信する
//
// Controller がセッション・配信フラグ・パラメータを所有し、イベント処理と
// ストリーミングループの両方から単一のミューテックスで保護される。
package stream
