package camera

import (
	"context"
	"time"
)

// ソースURIのスキーム
const (
	SchemeRTSP    = "rtsp"
	SchemeRTSPS   = "rtsps"
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeV4L2    = "v4l2"    // v4l2:///dev/video0
	SchemeX11     = "x11"     // x11::0.0
	SchemeTestSrc = "testsrc" // testsrc://
)

// Origin はカタログに登録された経路を表す
type Origin string

const (
	OriginConfig     Origin = "config"     // 設定ファイルで定義
	OriginDiscovered Origin = "discovered" // V4L2デバイスの自動検出
	OriginRuntime    Origin = "runtime"    // 実行時に追加
)

// Camera はカタログに登録されたカメラの情報
type Camera struct {
	ID       string         // カメラの一意識別子
	Name     string         // カメラの表示名
	Spec     ConnectionSpec // 接続情報
	Origin   Origin         // 登録経路
	LastSeen time.Time      // 最後に確認された時刻
}

// Defaults はカメラごとに省略された値を補う既定値
type Defaults struct {
	FPS    int    // フレームレート
	Width  int    // 画像幅
	Height int    // 画像高さ
	Codec  string // 入力コーデック
}

// Manager はカメラカタログを管理するインターフェース
// セッション管理からは読み取り専用で参照される
type Manager interface {
	// Start は設定済みカメラの登録と初期スキャンを行う
	Start(ctx context.Context) error

	// Serve はコンテキストが終了するまで定期スキャンを続ける
	Serve(ctx context.Context) error

	// GetCameras は現在管理されているカメラ一覧をID順で取得する
	GetCameras() []Camera

	// GetCamera は指定されたIDのカメラを取得する
	GetCamera(id string) (*Camera, bool)

	// AddCamera はカメラを動的に追加する
	AddCamera(ctx context.Context, name string, spec ConnectionSpec) (*Camera, error)

	// RemoveCamera はカメラを削除する
	RemoveCamera(ctx context.Context, id string) error

	// DiscoverCameras はシステム内のカメラデバイスを再検出する
	DiscoverCameras(ctx context.Context) ([]string, error)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string       // デバイスパス
	Name        string       // デバイス名
	Driver      string       // ドライバー名
	Resolutions []Resolution // サポートされる解像度
	Formats     []string     // サポートされるフォーマット
}
