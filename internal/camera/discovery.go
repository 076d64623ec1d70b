package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DeviceAuto はデバイスを自動検出することを示す
const DeviceAuto = "auto"

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool
}

// ResolveDevice は設定値からデバイスパスを決定する
// "auto" の場合は最も番号の小さいキャプチャデバイスを選ぶ
func ResolveDevice(ctx context.Context, discovery Discovery, device string) (string, error) {
	if device != DeviceAuto {
		return device, nil
	}

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("カメラデバイスが見つかりません")
	}
	return devices[0], nil
}

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	pattern     string
	v4l2CtlPath string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery(v4l2CtlPath string) *LinuxDiscovery {
	return &LinuxDiscovery{
		pattern:     "/dev/video*",
		v4l2CtlPath: v4l2CtlPath,
	}
}

// ScanDevices は/dev/video*のうちカラー形式を出力できるデバイスを番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.IsDeviceAvailable(ctx, match) && d.isCaptureDevice(ctx, match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !isV4L2Path(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// isCaptureDevice はMJPGかYUYVを出力できるかチェックする
// メタデータ用のチャンネルはフォーマットを持たないため除外される
func (d *LinuxDiscovery) isCaptureDevice(ctx context.Context, device string) bool {
	cmd := exec.CommandContext(ctx, d.v4l2CtlPath, "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return false
	}

	formats := string(output)
	return strings.Contains(formats, "MJPG") || strings.Contains(formats, "YUYV")
}

var (
	v4l2PathPattern     = regexp.MustCompile(`^/dev/video\d+$`)
	deviceNumberPattern = regexp.MustCompile(`video(\d+)`)
)

func isV4L2Path(device string) bool {
	return v4l2PathPattern.MatchString(device)
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices []string
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	return &MockDiscovery{devices: devices}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return m.devices, nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	for _, d := range m.devices {
		if d == device {
			return true
		}
	}
	return false
}
