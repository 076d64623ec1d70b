// Package camera イメージセンサーのライフサイクル管理を担う
//
// # 責務
// - センサーの初期化（Acquire）と停止（Release）
// - 停止前のフレームバッファ解放（ドレイン）
// - デアセンブル失敗時の上限付き再試行
// - 解像度・JPEG画質のセンサーへの反映
//
// # 仕様
//   - Device: 状態（uninitialized / ready / tearing_down）を持つライフサイクル管理
//   - Driver: 低レベルドライバーの抽象。Initialize / Deinitialize / FetchFrame / ReturnFrame
//   - V4L2Driver: ffmpeg経由でV4L2デバイスからJPEGを取得する実装
//   - MockDriver: 失敗を注入できるテスト・デモ用の実装
//   - Release はドレイン500ms、デアセンブル5回までで必ず終了する
//   - 停止に失敗したデバイスは needs_reset としてログに残す
//
// # 前提要件
//   - v4l-utils: デバイスの確認に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: JPEGストリームの取得に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
