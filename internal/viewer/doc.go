// Package viewer はコントローラーに接続するヘッドレスのビューアーです。
//
// 接続時にFPS・解像度・画質を送ってから配信を要求し、受信したJPEGフレームを
// ディレクトリへ保存します。切断された場合は一定間隔で再接続します。
package viewer
