package app

import (
	"context"
	"fmt"
	"time"

	"kanshi/internal/camera"
	"kanshi/internal/logging"
	"kanshi/internal/stream"
)

// RegistryService はセッションレジストリの起動と停止を受け持つ
type RegistryService struct {
	registry        *stream.Registry
	cameras         camera.Manager
	autostart       bool
	shutdownTimeout time.Duration
}

// NewRegistryService は新しいRegistryServiceを作成する
func NewRegistryService(registry *stream.Registry, cameras camera.Manager, autostart bool, shutdownTimeout time.Duration) *RegistryService {
	return &RegistryService{
		registry:        registry,
		cameras:         cameras,
		autostart:       autostart,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve はランタイムを初期化し、終了時に全セッションを止める
func (s *RegistryService) Serve(ctx context.Context) error {
	if err := s.registry.Init(ctx); err != nil {
		return fmt.Errorf("パイプラインランタイムの初期化に失敗: %w", err)
	}

	if s.autostart {
		s.startAll()
	}

	<-ctx.Done()

	// 親のコンテキストは終了済みなので新しく作る
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.registry.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("セッションレジストリの停止に失敗しました")
	}
	return ctx.Err()
}

// startAll はカタログの全カメラのセッションを開始する
// 1台の失敗で他のカメラを止めない
func (s *RegistryService) startAll() {
	for _, cam := range s.cameras.GetCameras() {
		if _, err := s.registry.Start(cam.ID, cam.Spec); err != nil {
			logging.Warn().Err(err).Str("camera_id", cam.ID).Msg("セッションを自動開始できません")
			continue
		}
	}
}

// String はスーパーバイザーのログに表示する名前を返す
func (s *RegistryService) String() string {
	return "session-registry"
}
