package camera

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"kanshi/internal/logging"
)

var _ Manager = (*DefaultCameraManager)(nil)

var (
	// ErrCameraNotFound はカタログにカメラが無いことを表す
	ErrCameraNotFound = errors.New("カメラが見つかりません")
	// ErrCameraExists はIDまたはソースが登録済みであることを表す
	ErrCameraExists = errors.New("カメラは既に登録されています")
)

// DefaultCameraManager はCamera Managerのデフォルト実装
type DefaultCameraManager struct {
	discovery Discovery
	cameras   map[string]*Camera
	mu        sync.RWMutex

	// デフォルト設定
	defaults Defaults

	// 設定ファイルで定義されたカメラ
	configured []Camera

	// 自動検出設定
	autoDiscovery bool
	scanInterval  time.Duration
}

// NewDefaultCameraManager は新しいDefaultCameraManagerを作成する
func NewDefaultCameraManager(discovery Discovery, defaults Defaults) *DefaultCameraManager {
	return &DefaultCameraManager{
		discovery:     discovery,
		cameras:       make(map[string]*Camera),
		defaults:      defaults,
		autoDiscovery: true,
		scanInterval:  30 * time.Second, // 30秒間隔で自動スキャン
	}
}

// Configure は起動時に登録するカメラを設定する
// Start より前に呼び出す
func (m *DefaultCameraManager) Configure(name string, spec ConnectionSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configured = append(m.configured, Camera{
		ID:     spec.ID,
		Name:   name,
		Spec:   m.applyDefaults(spec),
		Origin: OriginConfig,
	})
}

// Start は設定済みカメラの登録と初期スキャンを行う
func (m *DefaultCameraManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, cam := range m.configured {
		if err := cam.Spec.Validate(); err != nil {
			return fmt.Errorf("カメラ %s の設定が不正です: %w", cam.ID, err)
		}
		c := cam
		c.LastSeen = now
		m.cameras[c.ID] = &c
	}

	if !m.autoDiscovery {
		return nil
	}

	// 初期スキャンを実行
	if _, err := m.performDiscovery(ctx); err != nil {
		return fmt.Errorf("初期スキャンに失敗: %w", err)
	}

	return nil
}

// Serve は定期的なデバイススキャンを実行する
func (m *DefaultCameraManager) Serve(ctx context.Context) error {
	m.mu.RLock()
	enabled, interval := m.autoDiscovery, m.scanInterval
	m.mu.RUnlock()

	if !enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// 定期的にデバイスをスキャン
			if _, err := m.DiscoverCameras(ctx); err != nil {
				logging.Warn().Err(err).Msg("デバイススキャンに失敗しました")
			}
		}
	}
}

// String はスーパーバイザーのログに表示する名前を返す
func (m *DefaultCameraManager) String() string {
	return "camera-discovery"
}

// GetCameras は現在管理されているカメラ一覧を取得する
func (m *DefaultCameraManager) GetCameras() []Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cameras := make([]Camera, 0, len(m.cameras))
	for _, camera := range m.cameras {
		cameras = append(cameras, *camera)
	}
	sort.Slice(cameras, func(i, j int) bool {
		return cameras[i].ID < cameras[j].ID
	})

	return cameras
}

// GetCamera は指定されたIDのカメラを取得する
func (m *DefaultCameraManager) GetCamera(id string) (*Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	camera, exists := m.cameras[id]
	if !exists {
		return nil, false
	}

	// コピーを返す
	result := *camera
	return &result, true
}

// AddCamera はカメラを動的に追加する
func (m *DefaultCameraManager) AddCamera(_ context.Context, name string, spec ConnectionSpec) (*Camera, error) {
	spec = m.applyDefaults(spec)
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cameras[spec.ID]; exists {
		return nil, fmt.Errorf("ID %s: %w", spec.ID, ErrCameraExists)
	}
	for _, camera := range m.cameras {
		if camera.Spec.SourceURI == spec.SourceURI {
			return nil, fmt.Errorf("ソース %s: %w", spec.RedactedURI(), ErrCameraExists)
		}
	}

	camera := &Camera{
		ID:       spec.ID,
		Name:     name,
		Spec:     spec,
		Origin:   OriginRuntime,
		LastSeen: time.Now(),
	}
	m.cameras[camera.ID] = camera

	result := *camera
	return &result, nil
}

// RemoveCamera はカメラを削除する
func (m *DefaultCameraManager) RemoveCamera(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cameras[id]; !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	// 管理対象から削除
	delete(m.cameras, id)

	return nil
}

// DiscoverCameras はシステム内のカメラデバイスを再検出する
func (m *DefaultCameraManager) DiscoverCameras(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.performDiscovery(ctx)
}

// performDiscovery は実際の検出処理を実行する（ロック済み前提）
func (m *DefaultCameraManager) performDiscovery(ctx context.Context) ([]string, error) {
	devices, err := m.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	present := make(map[string]struct{}, len(devices))

	// 新しく検出されたデバイスを自動追加
	for _, device := range devices {
		uri := DeviceURI(device)
		present[uri] = struct{}{}

		if cam := m.findBySource(uri); cam != nil {
			cam.LastSeen = now
			continue
		}

		// デフォルト設定で自動追加
		if err := m.addDiscoveredInternal(ctx, device, now); err != nil {
			logging.Warn().Err(err).Str("device", device).Msg("検出したデバイスを追加できません")
		}
	}

	// 存在しなくなったデバイスを削除（自動検出分のみ）
	for id, camera := range m.cameras {
		if camera.Origin != OriginDiscovered {
			continue
		}
		if _, ok := present[camera.Spec.SourceURI]; !ok {
			logging.Info().Str("camera_id", id).Msg("デバイスが取り外されました")
			delete(m.cameras, id)
		}
	}

	return devices, nil
}

// addDiscoveredInternal は検出したデバイスを追加する（ロック済み前提）
func (m *DefaultCameraManager) addDiscoveredInternal(ctx context.Context, device string, now time.Time) error {
	// デバイス情報を取得
	deviceInfo, err := m.discovery.GetDeviceInfo(ctx, device)
	if err != nil {
		return err
	}

	// /dev/video0 -> video0
	id := filepath.Base(device)
	if _, exists := m.cameras[id]; exists {
		return fmt.Errorf("カメラID %s は既に使用されています", id)
	}

	spec := m.applyDefaults(ConnectionSpec{
		ID:        id,
		SourceURI: DeviceURI(device),
		// ローカルデバイスはMJPEGで受け取る
		Codec: "MJPEG",
	})
	if err := spec.Validate(); err != nil {
		return err
	}

	m.cameras[id] = &Camera{
		ID:       id,
		Name:     deviceInfo.Name,
		Spec:     spec,
		Origin:   OriginDiscovered,
		LastSeen: now,
	}
	logging.Info().Str("camera_id", id).Str("device", device).Str("name", deviceInfo.Name).Msg("デバイスを検出しました")

	return nil
}

// findBySource はソースURIでカメラを探す（ロック済み前提）
func (m *DefaultCameraManager) findBySource(uri string) *Camera {
	for _, camera := range m.cameras {
		if camera.Spec.SourceURI == uri {
			return camera
		}
	}
	return nil
}

// applyDefaults は省略された値を既定値で補う
func (m *DefaultCameraManager) applyDefaults(spec ConnectionSpec) ConnectionSpec {
	if spec.FPS == 0 {
		spec.FPS = m.defaults.FPS
	}
	if spec.Resolution.Width == 0 {
		spec.Resolution.Width = m.defaults.Width
	}
	if spec.Resolution.Height == 0 {
		spec.Resolution.Height = m.defaults.Height
	}
	if spec.Codec == "" {
		spec.Codec = m.defaults.Codec
	}
	return spec
}

// SetAutoDiscovery は自動検出の有効/無効を設定する
func (m *DefaultCameraManager) SetAutoDiscovery(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoDiscovery = enabled
}

// SetScanInterval はスキャン間隔を設定する
func (m *DefaultCameraManager) SetScanInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanInterval = interval
}
