// Package server は、HTTPサーバーとWebSocket通信を管理します。
//
// 責務:
//   - ginによるルーティング（ビューアーページ、/stream、/health、/api/status）
//   - WebSocket接続の確立と管理（Hub）
//   - 受信メッセージをイベントに変換し、1つのゴルーチンで順番に配送
//   - 送信キューとPingによる接続の監視
//
// 仕様:
//   - WebSocketはgorilla/websocketを使用
//   - 接続IDはUUID
//   - 送信キューが空でない接続には新しいフレームを送らない
//   - グレースフルシャットダウンに対応
package server
