// Package main はHitomiのヘッドレスビューアーです
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hitomi/internal/config"
	"hitomi/internal/logging"
	"hitomi/internal/viewer"

	"go.uber.org/zap"
)

func main() {
	defaults := viewer.DefaultConfig()

	// コマンドラインオプション
	var (
		url        = flag.String("url", defaults.URL, "コントローラーのWebSocket URL")
		fps        = flag.Int("fps", defaults.FPS, "要求するフレームレート (1-30)")
		resolution = flag.String("resolution", defaults.Resolution, "要求する解像度 (例: 320x240)")
		quality    = flag.Int("quality", 0, "JPEG画質 (10-100、0なら送らない)")
		output     = flag.String("output", "frames", "フレームの保存先ディレクトリ")
		keep       = flag.Bool("keep", false, "連番ファイルも保存する")
		logLevel   = flag.String("log-level", "info", "ログレベル")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Hitomi Viewer")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  viewer [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	logger, err := logging.New(config.LogConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer logger.Sync()

	sink, err := viewer.NewDirSink(*output, *keep)
	if err != nil {
		logger.Fatal("保存先を準備できません", zap.Error(err))
	}

	cfg := defaults
	cfg.URL = *url
	cfg.FPS = *fps
	cfg.Resolution = *resolution
	cfg.Quality = *quality

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := viewer.NewClient(cfg, sink, logger)
	if err := client.Run(ctx); err != nil {
		logger.Error("異常終了しました", zap.Error(err))
		os.Exit(1)
	}

	state := client.State()
	logger.Info("終了しました",
		zap.Int("frames", state.Frames),
		zap.Int("sessions", state.Sessions),
		zap.String("output", *output))
}
