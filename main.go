package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hitomi/internal/camera"
	"hitomi/internal/config"
	"hitomi/internal/logging"
	"hitomi/internal/server"
	"hitomi/internal/stream"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイルのパス (デフォルト: $HITOMI_CONFIG)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		driver     = flag.String("driver", "", "カメラドライバー (v4l2, mock)")
		device     = flag.String("device", "", "カメラデバイス (例: /dev/video0, auto)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Hitomi")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  hitomi [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Camera.Driver = *driver
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定の検証に失敗しました: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("異常終了しました", zap.Error(err))
		os.Exit(1)
	}
}

// run はコントローラーを組み立てて、ctx がキャンセルされるまで動かす
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	driver, err := newDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}

	device := camera.NewDevice(driver, cfg.DeviceConfig(), logger)
	hub := server.NewHub(server.HubConfig{
		SendQueue:    cfg.Server.SendQueue,
		PingInterval: cfg.Server.PingInterval,
		PongWait:     cfg.Server.PongWait,
		WriteWait:    cfg.Server.WriteWait,
	}, logger)
	controller := stream.NewController(device, hub, cfg.StreamOptions(), logger)
	srv := server.New(cfg, hub, controller, logger)

	logger.Info("Hitomi サーバーを起動します",
		zap.String("addr", cfg.ServerAddress()),
		zap.String("driver", cfg.Camera.Driver))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx, controller)
	})
	g.Go(func() error {
		return controller.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})

	err = g.Wait()

	// 接続を閉じてカメラを停止する
	controller.Shutdown()
	logger.Info("Hitomi サーバーを停止しました")
	return err
}

// newDriver は設定に従ってカメラドライバーを作成する
func newDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (camera.Driver, error) {
	switch cfg.Camera.Driver {
	case config.DriverMock:
		logger.Info("モックカメラを使用します")
		return camera.NewMockDriver(true), nil
	case config.DriverV4L2:
		path, err := camera.ResolveDevice(ctx, camera.NewLinuxDiscovery(cfg.Camera.V4L2CtlPath), cfg.Camera.Device)
		if err != nil {
			return nil, fmt.Errorf("カメラデバイスの検出に失敗: %w", err)
		}
		logger.Info("V4L2カメラを使用します", zap.String("device", path))
		return camera.NewV4L2Driver(cfg.V4L2Config(path), logger), nil
	default:
		return nil, fmt.Errorf("未対応のカメラドライバー: %s", cfg.Camera.Driver)
	}
}
