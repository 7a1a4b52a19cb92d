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
	"sync"
	"time"
)

var (
	devicePattern      = regexp.MustCompile(`^/dev/video(\d+)$`)
	pixelFormatLine    = regexp.MustCompile(`\[\d+\]: '(\w+)'`)
	frameSizeLine      = regexp.MustCompile(`Size: Discrete (\d+)x(\d+)`)
	v4l2CommandTimeout = 5 * time.Second
)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
// v4l2-ctl が無い環境ではデバイスファイルの存在だけで判定する
type LinuxDiscovery struct {
	v4l2ctl string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	path, _ := exec.LookPath("v4l2-ctl")
	return &LinuxDiscovery{v4l2ctl: path}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seenNames := make(map[string]struct{})
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return devices, err
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}

		formats, _ := d.listFormats(ctx, match)
		if d.v4l2ctl != "" && !hasColorFormat(formats) {
			// メタデータ用ノードやグレースケールのみのデバイスは除外
			continue
		}

		// 同じ物理カメラの複数ノードは最も小さい番号を採用する
		if name := d.deviceName(ctx, match); name != "" {
			if _, ok := seenNames[name]; ok {
				continue
			}
			seenNames[name] = struct{}{}
		}

		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !devicePattern.MatchString(device) {
		return false
	}

	// デバイスファイルの読み取り権限チェック
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()

	return true
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	info := &DeviceInfo{
		Device: device,
		Name:   d.deviceName(ctx, device),
		Driver: "uvcvideo",
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}

	out, err := d.runV4L2(ctx, device, "--list-formats-ext")
	if err != nil {
		// v4l2-ctl が使えない場合は一般的な値を返す
		info.Resolutions = []Resolution{{Width: 640, Height: 480}, {Width: 1280, Height: 720}}
		info.Formats = []string{"MJPG", "YUYV"}
		return info, nil
	}
	info.Formats, info.Resolutions = parseFormats(out)

	return info, nil
}

// deviceName はv4l2-ctlの "Card type" からカメラ名を取得する
func (d *LinuxDiscovery) deviceName(ctx context.Context, device string) string {
	out, err := d.runV4L2(ctx, device, "--info")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

func (d *LinuxDiscovery) listFormats(ctx context.Context, device string) ([]string, error) {
	out, err := d.runV4L2(ctx, device, "--list-formats-ext")
	if err != nil {
		return nil, err
	}
	formats, _ := parseFormats(out)
	return formats, nil
}

func (d *LinuxDiscovery) runV4L2(ctx context.Context, device string, args ...string) (string, error) {
	if d.v4l2ctl == "" {
		return "", fmt.Errorf("v4l2-ctl が見つかりません")
	}

	ctx, cancel := context.WithTimeout(ctx, v4l2CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.v4l2ctl, append([]string{"--device", device}, args...)...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("v4l2-ctl の実行に失敗: %w", err)
	}
	return string(output), nil
}

// parseFormats は v4l2-ctl --list-formats-ext の出力を解析する
func parseFormats(out string) ([]string, []Resolution) {
	var formats []string
	var resolutions []Resolution
	seen := make(map[Resolution]struct{})

	for _, line := range strings.Split(out, "\n") {
		if m := pixelFormatLine.FindStringSubmatch(line); m != nil {
			formats = append(formats, m[1])
			continue
		}
		if m := frameSizeLine.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			r := Resolution{Width: w, Height: h}
			if _, ok := seen[r]; !ok {
				seen[r] = struct{}{}
				resolutions = append(resolutions, r)
			}
		}
	}

	return formats, resolutions
}

// hasColorFormat はカラー映像のフォーマットを含むかを返す
func hasColorFormat(formats []string) bool {
	for _, f := range formats {
		switch f {
		case "YUYV", "MJPG", "H264":
			return true
		}
	}
	return false
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := devicePattern.FindStringSubmatch(device)
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
	mu          sync.Mutex
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]string, len(m.devices))
	copy(devices, m.devices)
	return devices, nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}

	// コピーを返す
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deviceInfos[device]; ok {
		return
	}

	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver: "mock",
		Resolutions: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
		},
		Formats: []string{"MJPG"},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
