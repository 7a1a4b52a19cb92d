package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths は設定ファイルの探索パス（先に見つかったものを使う）
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/kanshi/config.yaml",
}

// ConfigPathEnvVar は設定ファイルのパスを上書きする環境変数
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix は設定を上書きする環境変数の接頭辞
// KANSHI_STREAM__MAX_SESSIONS -> stream.max_sessions
const EnvPrefix = "KANSHI_"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Stream     StreamConfig     `yaml:"stream"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Push       PushConfig       `yaml:"push"`
	Settings   SettingsConfig   `yaml:"settings"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの待ち時間
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// 複数カメラ対応のための設定
	Devices []CameraDevice `yaml:"devices"`

	// デフォルト設定
	DefaultFPS    int    `yaml:"default_fps"`    // フレームレート (fps)
	DefaultWidth  int    `yaml:"default_width"`  // 画像幅
	DefaultHeight int    `yaml:"default_height"` // 画像高さ
	DefaultCodec  string `yaml:"default_codec"`  // H.264 / H.265 / MJPEG

	// ローカルV4L2デバイスの自動検出
	Discovery         bool          `yaml:"discovery"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID     string `yaml:"id"`     // カメラID
	Name   string `yaml:"name"`   // カメラ名
	Source string `yaml:"source"` // ソースURI (例: rtsp://host/stream, v4l2:///dev/video0, testsrc://)

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// カメラ固有の設定（デフォルト値より優先）
	FPS    int    `yaml:"fps"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Codec  string `yaml:"codec"`
}

// StreamConfig はセッション管理の設定
type StreamConfig struct {
	MaxSessions    int           `yaml:"max_sessions"`    // 同時セッション数の上限
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // 1回の接続試行の上限時間
	FFmpegPath     string        `yaml:"ffmpeg_path"`     // ffmpeg実行ファイル
}

// SupervisorConfig は再接続ポリシーの設定
type SupervisorConfig struct {
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`         // 0 は無制限
	DecodeFailureLimit int           `yaml:"decode_failure_limit"` // フレームなしで連続したデコード失敗の上限
	StallTimeout       time.Duration `yaml:"stall_timeout"`        // フレームが途絶えたとみなす時間
}

// PushConfig は連続配信の設定
type PushConfig struct {
	ReadTimeout      time.Duration `yaml:"read_timeout"`      // フレーム待ちのタイムアウト
	PlaceholderAfter int           `yaml:"placeholder_after"` // 代替フレームを送るまでの連続タイムアウト回数
	ChunkSize        int           `yaml:"chunk_size"`        // データチャネルの分割サイズ
}

// SettingsConfig はグローバル設定（読み取り専用）
type SettingsConfig struct {
	Quality       string   `yaml:"quality"` // high / medium / low
	RetentionDays int      `yaml:"retention_days"`
	ICEServers    []string `yaml:"ice_servers"`
	Autostart     bool     `yaml:"autostart"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Caller bool   `yaml:"caller"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Devices: []CameraDevice{
				{
					ID:     "test",
					Name:   "テストパターン",
					Source: "testsrc://",
				},
			},
			DefaultFPS:        15,
			DefaultWidth:      640,
			DefaultHeight:     480,
			DefaultCodec:      "H.264",
			Discovery:         true,
			DiscoveryInterval: 30 * time.Second,
		},
		Stream: StreamConfig{
			MaxSessions:    8,
			ConnectTimeout: 10 * time.Second,
			FFmpegPath:     "ffmpeg",
		},
		Supervisor: SupervisorConfig{
			BaseDelay:          time.Second,
			MaxDelay:           30 * time.Second,
			MaxAttempts:        0,
			DecodeFailureLimit: 5,
			StallTimeout:       10 * time.Second,
		},
		Push: PushConfig{
			ReadTimeout:      time.Second,
			PlaceholderAfter: 3,
			ChunkSize:        16 * 1024,
		},
		Settings: SettingsConfig{
			Quality:       "medium",
			RetentionDays: 7,
			ICEServers:    []string{"stun:stun.l.google.com:19302"},
			Autostart:     false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 -> 設定ファイル -> 環境変数 の順に上書きする
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom は指定した設定ファイルから読み込む
// path が空なら探索パスから探す
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("デフォルト設定の読み込みに失敗: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("設定ファイル %s を開けません: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	seen := make(map[string]struct{}, len(c.Camera.Devices))
	for i, d := range c.Camera.Devices {
		if d.ID == "" {
			return fmt.Errorf("カメラ[%d]のIDが設定されていません", i)
		}
		if d.Source == "" {
			return fmt.Errorf("カメラ %s のソースが設定されていません", d.ID)
		}
		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("カメラIDが重複しています: %s", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	if c.Camera.DefaultFPS < 1 || c.Camera.DefaultFPS > 60 {
		return fmt.Errorf("無効なデフォルトFPS: %d", c.Camera.DefaultFPS)
	}
	if c.Camera.DefaultWidth < 1 || c.Camera.DefaultWidth > 3840 ||
		c.Camera.DefaultHeight < 1 || c.Camera.DefaultHeight > 2160 {
		return fmt.Errorf("無効なデフォルト解像度: %dx%d", c.Camera.DefaultWidth, c.Camera.DefaultHeight)
	}

	// ストリーム設定の検証
	if c.Stream.MaxSessions < 1 {
		return fmt.Errorf("無効な最大セッション数: %d", c.Stream.MaxSessions)
	}
	if c.Stream.ConnectTimeout <= 0 {
		return fmt.Errorf("接続タイムアウトは正の値が必要です: %s", c.Stream.ConnectTimeout)
	}

	// 再接続ポリシーの検証
	if c.Supervisor.BaseDelay <= 0 || c.Supervisor.MaxDelay < c.Supervisor.BaseDelay {
		return fmt.Errorf("無効なバックオフ設定: base=%s max=%s", c.Supervisor.BaseDelay, c.Supervisor.MaxDelay)
	}
	if c.Supervisor.MaxAttempts < 0 {
		return fmt.Errorf("無効な最大試行回数: %d", c.Supervisor.MaxAttempts)
	}
	if c.Supervisor.DecodeFailureLimit < 1 {
		return fmt.Errorf("無効なデコード失敗上限: %d", c.Supervisor.DecodeFailureLimit)
	}

	// 連続配信の検証
	if c.Push.ReadTimeout <= 0 {
		return fmt.Errorf("フレーム待ちタイムアウトは正の値が必要です: %s", c.Push.ReadTimeout)
	}
	if c.Push.PlaceholderAfter < 1 {
		return fmt.Errorf("無効な代替フレーム閾値: %d", c.Push.PlaceholderAfter)
	}

	switch c.Settings.Quality {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("無効な画質プリセット: %s", c.Settings.Quality)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// findConfigFile は設定ファイルを探し、見つからなければ空文字を返す
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// legacyEnv は接頭辞なしで受け付ける環境変数
var legacyEnv = map[string]string{
	"SERVER_HOST": "server.host",
	"PORT":        "server.port",
	"LOG_LEVEL":   "logging.level",
}

// envTransformFunc は環境変数名を設定パスに変換する
// 対象外の変数は空文字を返して無視させる
func envTransformFunc(key string) string {
	if path, ok := legacyEnv[key]; ok {
		return path
	}
	if !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// sliceConfigPaths はカンマ区切り文字列をスライスとして扱う設定パス
var sliceConfigPaths = []string{
	"settings.ice_servers",
}

// processSliceFields は環境変数から来たカンマ区切りの値をスライスに変換する
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("%s の設定に失敗: %w", path, err)
		}
	}
	return nil
}
