package stream

import (
	"time"

	"kanshi/internal/config"
	"kanshi/internal/pipeline"
)

// defaultJitter はバックオフ間隔に加えるランダム幅の割合
const defaultJitter = 0.5

// Options はセッションの動作を決める値
type Options struct {
	MaxSessions    int
	ConnectTimeout time.Duration
	Quality        int // JPEG品質 (1..100)
	Supervisor     SupervisorPolicy
	Push           PushOptions

	// OnTransition はセッションの状態が変わるたびに呼ばれる（任意）
	OnTransition func(cameraID string, from, to State)
}

// SupervisorPolicy は再接続とエスカレーションの方針
type SupervisorPolicy struct {
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	Jitter             float64
	MaxAttempts        int // 0 は無制限
	DecodeFailureLimit int // 0 は無制限
	StallTimeout       time.Duration
}

// PushOptions は連続配信アダプタの設定
type PushOptions struct {
	ReadTimeout      time.Duration
	PlaceholderAfter int
}

// DefaultOptions はデフォルトのOptionsを返す
func DefaultOptions() Options {
	return Options{
		MaxSessions:    8,
		ConnectTimeout: pipeline.DefaultConnectTimeout,
		Quality:        pipeline.DefaultQuality,
		Supervisor: SupervisorPolicy{
			BaseDelay:          time.Second,
			MaxDelay:           30 * time.Second,
			Jitter:             defaultJitter,
			DecodeFailureLimit: 5,
			StallTimeout:       10 * time.Second,
		},
		Push: PushOptions{
			ReadTimeout:      time.Second,
			PlaceholderAfter: 3,
		},
	}
}

// OptionsFromConfig は設定ファイルの値からOptionsを作る
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxSessions:    cfg.Stream.MaxSessions,
		ConnectTimeout: cfg.Stream.ConnectTimeout,
		Quality:        pipeline.QualityPreset(cfg.Settings.Quality),
		Supervisor: SupervisorPolicy{
			BaseDelay:          cfg.Supervisor.BaseDelay,
			MaxDelay:           cfg.Supervisor.MaxDelay,
			Jitter:             defaultJitter,
			MaxAttempts:        cfg.Supervisor.MaxAttempts,
			DecodeFailureLimit: cfg.Supervisor.DecodeFailureLimit,
			StallTimeout:       cfg.Supervisor.StallTimeout,
		},
		Push: PushOptions{
			ReadTimeout:      cfg.Push.ReadTimeout,
			PlaceholderAfter: cfg.Push.PlaceholderAfter,
		},
	}
}

// withDefaults は未設定の値をデフォルトで埋める
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxSessions <= 0 {
		o.MaxSessions = def.MaxSessions
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.Quality <= 0 {
		o.Quality = def.Quality
	}
	if o.Supervisor.BaseDelay <= 0 {
		o.Supervisor.BaseDelay = def.Supervisor.BaseDelay
	}
	if o.Supervisor.MaxDelay < o.Supervisor.BaseDelay {
		o.Supervisor.MaxDelay = max(def.Supervisor.MaxDelay, o.Supervisor.BaseDelay)
	}
	if o.Push.ReadTimeout <= 0 {
		o.Push.ReadTimeout = def.Push.ReadTimeout
	}
	if o.Push.PlaceholderAfter <= 0 {
		o.Push.PlaceholderAfter = def.Push.PlaceholderAfter
	}
	return o
}
