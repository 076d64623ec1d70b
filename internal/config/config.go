package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"hitomi/internal/camera"
	"hitomi/internal/stream"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 設定ファイルのパスを指定する環境変数
const EnvConfigPath = "HITOMI_CONFIG"

// カメラドライバーの種類
const (
	DriverV4L2 = "v4l2"
	DriverMock = "mock"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Stream   StreamConfig   `yaml:"stream"`
	Teardown TeardownConfig `yaml:"teardown"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`              // リッスンするホスト
	Port int    `yaml:"port" validate:"required,min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"` // 書き込みタイムアウト

	// WebSocket設定
	SendQueue    int           `yaml:"send_queue" validate:"min=1"`   // 接続ごとの送信キュー長
	PingInterval time.Duration `yaml:"ping_interval" validate:"gt=0"` // Ping送信間隔
	PongWait     time.Duration `yaml:"pong_wait" validate:"gt=0"`     // 無応答で切断するまでの時間
	WriteWait    time.Duration `yaml:"write_wait" validate:"gt=0"`    // 1メッセージの書き込み上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Driver string `yaml:"driver" validate:"oneof=v4l2 mock"`
	Device string `yaml:"device" validate:"required"` // デバイスパス、または auto

	FFmpegPath     string        `yaml:"ffmpeg_path" validate:"required"`
	V4L2CtlPath    string        `yaml:"v4l2ctl_path" validate:"required"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" validate:"gt=0"`
	StopGrace      time.Duration `yaml:"stop_grace" validate:"gt=0"`
}

// StreamConfig はストリーミングの設定
type StreamConfig struct {
	DefaultFPS        int    `yaml:"default_fps" validate:"min=1,max=30"`
	DefaultResolution string `yaml:"default_resolution" validate:"required"`
	DefaultQuality    int    `yaml:"default_quality" validate:"min=0,max=100"` // 0はデバイスのデフォルト

	IdleInterval   time.Duration `yaml:"idle_interval" validate:"gt=0"`
	PollTick       time.Duration `yaml:"poll_tick" validate:"gt=0"`
	CaptureBackoff time.Duration `yaml:"capture_backoff" validate:"gt=0"`
}

// TeardownConfig はカメラ停止処理の設定
type TeardownConfig struct {
	DrainBudget   time.Duration `yaml:"drain_budget" validate:"gt=0"`
	DrainInterval time.Duration `yaml:"drain_interval" validate:"min=0"`
	DeinitRetries int           `yaml:"deinit_retries" validate:"min=1,max=20"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"min=0"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	device := camera.DefaultDeviceConfig()
	options := stream.DefaultOptions()

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
			SendQueue:    8,
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
			WriteWait:    5 * time.Second,
		},
		Camera: CameraConfig{
			Driver:         DriverV4L2,
			Device:         camera.DeviceAuto,
			FFmpegPath:     "ffmpeg",
			V4L2CtlPath:    "v4l2-ctl",
			CaptureTimeout: 300 * time.Millisecond,
			StopGrace:      2 * time.Second,
		},
		Stream: StreamConfig{
			DefaultFPS:        options.DefaultFPS,
			DefaultResolution: options.DefaultResolution,
			DefaultQuality:    options.DefaultQuality,
			IdleInterval:      options.IdleInterval,
			PollTick:          options.PollTick,
			CaptureBackoff:    options.CaptureBackoff,
		},
		Teardown: TeardownConfig{
			DrainBudget:   device.DrainBudget,
			DrainInterval: device.DrainInterval,
			DeinitRetries: device.DeinitRetries,
			RetryDelay:    device.RetryDelay,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load は設定を読み込む
// デフォルト値、設定ファイル、環境変数の順に上書きして検証する
// path が空の場合は HITOMI_CONFIG を参照し、それも空ならファイルは読まない
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAMLファイルの値で設定を上書きする
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Driver = getEnvOrDefault("CAMERA_DRIVER", c.Camera.Driver)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)

	port, err := getEnvAsIntOrDefault("PORT", c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return fmt.Errorf("無効な設定値 %s (%s=%s): %v", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return err
	}

	if _, ok := camera.ParseFramesize(c.Stream.DefaultResolution); !ok {
		return fmt.Errorf("無効な解像度: %s (対応: %v)", c.Stream.DefaultResolution, camera.FramesizeNames())
	}

	if c.Server.PongWait <= c.Server.PingInterval {
		return fmt.Errorf("pong_wait (%s) は ping_interval (%s) より長くしてください", c.Server.PongWait, c.Server.PingInterval)
	}

	if c.Stream.DefaultQuality != 0 && c.Stream.DefaultQuality < stream.MinJPEGQuality {
		return fmt.Errorf("無効なJPEG画質: %d", c.Stream.DefaultQuality)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DeviceConfig はカメラ停止処理の設定を返す
func (c *Config) DeviceConfig() camera.DeviceConfig {
	return camera.DeviceConfig{
		DrainBudget:   c.Teardown.DrainBudget,
		DrainInterval: c.Teardown.DrainInterval,
		DeinitRetries: c.Teardown.DeinitRetries,
		RetryDelay:    c.Teardown.RetryDelay,
	}
}

// V4L2Config はV4L2ドライバーの設定を返す
func (c *Config) V4L2Config(device string) camera.V4L2Config {
	return camera.V4L2Config{
		Device:         device,
		FFmpegPath:     c.Camera.FFmpegPath,
		V4L2CtlPath:    c.Camera.V4L2CtlPath,
		CaptureTimeout: c.Camera.CaptureTimeout,
		StopGrace:      c.Camera.StopGrace,
	}
}

// StreamOptions はControllerの設定を返す
func (c *Config) StreamOptions() stream.Options {
	return stream.Options{
		DefaultFPS:        c.Stream.DefaultFPS,
		DefaultResolution: c.Stream.DefaultResolution,
		DefaultQuality:    c.Stream.DefaultQuality,
		IdleInterval:      c.Stream.IdleInterval,
		PollTick:          c.Stream.PollTick,
		CaptureBackoff:    c.Stream.CaptureBackoff,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("環境変数 %s が整数ではありません: %q", key, value)
	}
	return intVal, nil
}
