package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hitomi/internal/camera"
)

// clearEnv はテスト中に環境変数の影響を受けないようにする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfigPath, "SERVER_HOST", "PORT", "CAMERA_DEVICE", "CAMERA_DRIVER", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	clearEnv(t)

	// 設定を読み込む
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout != 0 {
		t.Error("ストリーミング用に書き込みタイムアウトは無効のはずです")
	}

	// デフォルト値の検証
	if cfg.Stream.DefaultFPS != 1 {
		t.Errorf("Expected default fps 1, got %d", cfg.Stream.DefaultFPS)
	}
	if cfg.Stream.DefaultResolution != "160x120" {
		t.Errorf("Expected default resolution 160x120, got %s", cfg.Stream.DefaultResolution)
	}
	if cfg.Camera.Device != camera.DeviceAuto {
		t.Errorf("Expected device auto, got %s", cfg.Camera.Device)
	}

	device := cfg.DeviceConfig()
	if device.DrainBudget != 500*time.Millisecond || device.DeinitRetries != 5 || device.RetryDelay != 50*time.Millisecond {
		t.Errorf("Unexpected teardown defaults: %+v", device)
	}
}

func TestConfigLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "hitomi.yaml")
	content := `
server:
  port: 9090
camera:
  driver: mock
  device: /dev/video2
stream:
  default_fps: 10
  default_resolution: 320x240
  default_quality: 80
teardown:
  drain_budget: 200ms
  deinit_retries: 3
log:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	// ファイルに無い項目はデフォルトのまま
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host, got %s", cfg.Server.Host)
	}
	if cfg.Camera.Driver != DriverMock || cfg.Camera.Device != "/dev/video2" {
		t.Errorf("Unexpected camera config: %+v", cfg.Camera)
	}
	if cfg.Teardown.DrainBudget != 200*time.Millisecond || cfg.Teardown.DeinitRetries != 3 {
		t.Errorf("Unexpected teardown config: %+v", cfg.Teardown)
	}

	options := cfg.StreamOptions()
	if options.DefaultFPS != 10 || options.DefaultResolution != "320x240" || options.DefaultQuality != 80 {
		t.Errorf("Unexpected stream options: %+v", options)
	}
	if options.PollTick != 10*time.Millisecond {
		t.Errorf("Expected default poll tick, got %s", options.PollTick)
	}
}

func TestConfigLoad_FileFromEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "hitomi.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected port 7070, got %d", cfg.Server.Port)
	}
}

func TestConfigLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("PORT", "3000")
	t.Setenv("CAMERA_DEVICE", "/dev/video1")
	t.Setenv("CAMERA_DRIVER", "mock")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.ServerAddress() != "127.0.0.1:3000" {
		t.Errorf("Expected 127.0.0.1:3000, got %s", cfg.ServerAddress())
	}
	if cfg.Camera.Device != "/dev/video1" || cfg.Camera.Driver != DriverMock {
		t.Errorf("Unexpected camera config: %+v", cfg.Camera)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Log.Level)
	}
	if v4l2 := cfg.V4L2Config("/dev/video1"); v4l2.Device != "/dev/video1" || v4l2.FFmpegPath != "ffmpeg" {
		t.Errorf("Unexpected v4l2 config: %+v", v4l2)
	}
}

func TestConfigLoad_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		content string
	}{
		{"整数でないポート", map[string]string{"PORT": "http"}, ""},
		{"範囲外のポート", map[string]string{"PORT": "70000"}, ""},
		{"未知のドライバー", map[string]string{"CAMERA_DRIVER": "usb"}, ""},
		{"壊れたYAML", nil, "server: [1, 2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			path := ""
			if tc.content != "" {
				path = filepath.Join(t.TempDir(), "hitomi.yaml")
				if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			if _, err := Load(path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	t.Run("存在しないファイル", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil || !strings.Contains(err.Error(), "設定ファイルの読み込みに失敗") {
			t.Errorf("Expected read error, got %v", err)
		}
	})
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(*Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 0 },
			expectErr: true,
		},
		{
			name:      "空のホスト",
			modify:    func(c *Config) { c.Server.Host = "" },
			expectErr: true,
		},
		{
			name:      "FPSが上限を超える",
			modify:    func(c *Config) { c.Stream.DefaultFPS = 31 },
			expectErr: true,
		},
		{
			name:      "未対応の解像度",
			modify:    func(c *Config) { c.Stream.DefaultResolution = "1280x720" },
			expectErr: true,
		},
		{
			name:      "JPEG画質が下限未満",
			modify:    func(c *Config) { c.Stream.DefaultQuality = 5 },
			expectErr: true,
		},
		{
			name:      "JPEG画質はデバイスのデフォルト",
			modify:    func(c *Config) { c.Stream.DefaultQuality = 0 },
			expectErr: false,
		},
		{
			name:      "Pong待ちがPing間隔以下",
			modify:    func(c *Config) { c.Server.PongWait = c.Server.PingInterval },
			expectErr: true,
		},
		{
			name:      "停止試行回数がゼロ",
			modify:    func(c *Config) { c.Teardown.DeinitRetries = 0 },
			expectErr: true,
		},
		{
			name:      "未知のログ形式",
			modify:    func(c *Config) { c.Log.Format = "xml" },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、nilが返されました")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("エラーが期待されていませんでしたが、エラーが返されました: %v", err)
			}
		})
	}
}
