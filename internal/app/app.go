package app

import (
	"context"
	"errors"
	"fmt"

	"kanshi/internal/camera"
	"kanshi/internal/config"
	"kanshi/internal/logging"
	"kanshi/internal/pipeline"
	"kanshi/internal/server"
	"kanshi/internal/stream"
	"kanshi/internal/webrtc"
)

// App は設定から組み立てたサービス一式
type App struct {
	cfg      *config.Config
	cameras  *camera.DefaultCameraManager
	registry *stream.Registry
	server   *server.Server
	tree     *Tree
}

type options struct {
	discovery camera.Discovery
	engines   []pipeline.Engine
}

// Option はAppの組み立てを変更する
type Option func(*options)

// WithDiscovery はデバイス検出の実装を差し替える
func WithDiscovery(d camera.Discovery) Option {
	return func(o *options) { o.discovery = d }
}

// WithEngines はパイプラインエンジンを差し替える
func WithEngines(engines ...pipeline.Engine) Option {
	return func(o *options) { o.engines = engines }
}

// New は設定からAppを組み立てる
// 設定ファイルのカメラはここでカタログに登録する
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{
		discovery: camera.NewLinuxDiscovery(),
		engines: []pipeline.Engine{
			pipeline.NewNativeEngine(),
			pipeline.NewFFmpegEngine(cfg.Stream.FFmpegPath),
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	cameras := camera.NewDefaultCameraManager(o.discovery, camera.Defaults{
		FPS:    cfg.Camera.DefaultFPS,
		Width:  cfg.Camera.DefaultWidth,
		Height: cfg.Camera.DefaultHeight,
		Codec:  cfg.Camera.DefaultCodec,
	})
	cameras.SetAutoDiscovery(cfg.Camera.Discovery)
	if cfg.Camera.DiscoveryInterval > 0 {
		cameras.SetScanInterval(cfg.Camera.DiscoveryInterval)
	}
	for _, d := range cfg.Camera.Devices {
		cameras.Configure(d.Name, deviceSpec(d))
	}
	if err := cameras.Start(ctx); err != nil {
		return nil, fmt.Errorf("カメラカタログの初期化に失敗: %w", err)
	}

	registry := stream.NewRegistry(pipeline.NewRuntime(o.engines...), stream.OptionsFromConfig(cfg))
	registry.SetNegotiator(webrtc.NewNegotiator(webrtc.Config{
		ICEServers: cfg.Settings.ICEServers,
		ChunkSize:  cfg.Push.ChunkSize,
	}))

	srv, err := server.New(cfg, registry, cameras)
	if err != nil {
		return nil, err
	}

	tree := NewTree(logging.NewSlogLogger(), TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout * 2})
	tree.AddStreamService(NewRegistryService(registry, cameras, cfg.Settings.Autostart, cfg.Server.ShutdownTimeout))
	tree.AddCatalogService(cameras)
	tree.AddAPIService(srv)

	return &App{
		cfg:      cfg,
		cameras:  cameras,
		registry: registry,
		server:   srv,
		tree:     tree,
	}, nil
}

// Registry はセッションレジストリを返す
func (a *App) Registry() *stream.Registry {
	return a.registry
}

// Server はHTTPサーバーを返す
func (a *App) Server() *server.Server {
	return a.server
}

// Run はコンテキストが終了するまでスーパーバイザーツリーを動かす
func (a *App) Run(ctx context.Context) error {
	logging.Info().
		Str("addr", a.cfg.ServerAddress()).
		Int("cameras", len(a.cameras.GetCameras())).
		Int("max_sessions", a.registry.MaxSessions()).
		Bool("autostart", a.cfg.Settings.Autostart).
		Msg("kanshi を起動します")

	err := <-a.tree.ServeBackground(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		// シグナルによる停止は正常終了
		err = nil
	}

	unstopped, _ := a.tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("時間内に停止しなかったサービスがあります")
	}

	logging.Info().Msg("kanshi を停止しました")
	return err
}

// deviceSpec は設定ファイルのカメラを接続情報に変換する
func deviceSpec(d config.CameraDevice) camera.ConnectionSpec {
	spec := camera.ConnectionSpec{
		ID:         d.ID,
		SourceURI:  d.Source,
		Resolution: camera.Resolution{Width: d.Width, Height: d.Height},
		FPS:        d.FPS,
		Codec:      d.Codec,
	}
	if d.Username != "" {
		spec.Credentials = &camera.Credentials{Username: d.Username, Password: d.Password}
	}
	return spec
}
