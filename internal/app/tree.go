package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig はスーパーバイザーツリーの再起動ポリシー
type TreeConfig struct {
	FailureThreshold float64       // バックオフに入るまでの失敗回数
	FailureDecay     float64       // 失敗回数が減衰する秒数
	FailureBackoff   time.Duration // 閾値を超えたときの待ち時間
	ShutdownTimeout  time.Duration // サービスの停止を待つ時間
}

// DefaultTreeConfig はデフォルトのツリー設定を返す
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree はサービスを層ごとに束ねるスーパーバイザーツリー
//
//	kanshi
//	├── stream-layer   セッションレジストリ
//	├── catalog-layer  カメラの定期スキャン
//	└── api-layer      HTTPサーバー
type Tree struct {
	root    *suture.Supervisor
	stream  *suture.Supervisor
	catalog *suture.Supervisor
	api     *suture.Supervisor
}

// NewTree は新しいTreeを作成する
// イベントはsutureslog経由でアプリケーションのログに出力する
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &Tree{
		root:    suture.New("kanshi", rootSpec),
		stream:  suture.New("stream-layer", childSpec),
		catalog: suture.New("catalog-layer", childSpec),
		api:     suture.New("api-layer", childSpec),
	}
	t.root.Add(t.stream)
	t.root.Add(t.catalog)
	t.root.Add(t.api)
	return t
}

// AddStreamService はstream-layerにサービスを追加する
func (t *Tree) AddStreamService(svc suture.Service) suture.ServiceToken {
	return t.stream.Add(svc)
}

// AddCatalogService はcatalog-layerにサービスを追加する
func (t *Tree) AddCatalogService(svc suture.Service) suture.ServiceToken {
	return t.catalog.Add(svc)
}

// AddAPIService はapi-layerにサービスを追加する
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// ServeBackground はツリーを別ゴルーチンで動かす
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport は停止が間に合わなかったサービスを返す
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
