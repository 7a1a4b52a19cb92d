package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testDefaults = Defaults{FPS: 15, Width: 640, Height: 480, Codec: "H.264"}

func TestDefaultCameraManager_Basic(t *testing.T) {
	ctx := context.Background()
	mockDiscovery := NewMockDiscovery([]string{"/dev/video0", "/dev/video1"})

	manager := NewDefaultCameraManager(mockDiscovery, testDefaults)
	manager.Configure("テストパターン", ConnectionSpec{ID: "test", SourceURI: "testsrc://"})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cameras := manager.GetCameras()
	if len(cameras) != 3 {
		t.Fatalf("Expected 3 cameras, got %d", len(cameras))
	}

	// ID順で返る
	wantIDs := []string{"test", "video0", "video1"}
	for i, cam := range cameras {
		if cam.ID != wantIDs[i] {
			t.Errorf("cameras[%d].ID = %s, want %s", i, cam.ID, wantIDs[i])
		}
	}

	cam, ok := manager.GetCamera("video0")
	if !ok {
		t.Fatal("video0 が見つかりません")
	}
	if cam.Origin != OriginDiscovered {
		t.Errorf("Origin = %s, want %s", cam.Origin, OriginDiscovered)
	}
	if cam.Spec.SourceURI != "v4l2:///dev/video0" {
		t.Errorf("SourceURI = %s", cam.Spec.SourceURI)
	}
	if cam.Spec.FPS != testDefaults.FPS || cam.Spec.Codec != "MJPEG" {
		t.Errorf("既定値が適用されていません: %+v", cam.Spec)
	}

	test, _ := manager.GetCamera("test")
	if test.Spec.Resolution != (Resolution{Width: 640, Height: 480}) {
		t.Errorf("解像度の既定値が適用されていません: %+v", test.Spec.Resolution)
	}
}

func TestDefaultCameraManager_InvalidConfigured(t *testing.T) {
	manager := NewDefaultCameraManager(NewMockDiscovery(nil), testDefaults)
	manager.Configure("壊れたカメラ", ConnectionSpec{ID: "bad", SourceURI: "ftp://example.com/stream"})

	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("未対応スキームでエラーになるべきです")
	}
}

func TestDefaultCameraManager_AddRemoveCamera(t *testing.T) {
	ctx := context.Background()
	manager := NewDefaultCameraManager(NewMockDiscovery(nil), testDefaults)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	camera, err := manager.AddCamera(ctx, "玄関", ConnectionSpec{
		ID:          "entrance",
		SourceURI:   "rtsp://192.168.1.10:554/stream",
		Credentials: &Credentials{Username: "admin", Password: "secret"},
	})
	if err != nil {
		t.Fatalf("AddCamera failed: %v", err)
	}
	if camera.Origin != OriginRuntime {
		t.Errorf("Origin = %s, want %s", camera.Origin, OriginRuntime)
	}

	// 同じIDは追加できない
	if _, err := manager.AddCamera(ctx, "重複", ConnectionSpec{ID: "entrance", SourceURI: "rtsp://192.168.1.11/stream"}); !errors.Is(err, ErrCameraExists) {
		t.Errorf("重複IDの追加 = %v, want ErrCameraExists", err)
	}
	// 同じソースは追加できない
	if _, err := manager.AddCamera(ctx, "重複", ConnectionSpec{ID: "entrance2", SourceURI: "rtsp://192.168.1.10:554/stream"}); !errors.Is(err, ErrCameraExists) {
		t.Errorf("重複ソースの追加 = %v, want ErrCameraExists", err)
	}
	// 範囲外のFPS
	if _, err := manager.AddCamera(ctx, "速すぎる", ConnectionSpec{ID: "fast", SourceURI: "rtsp://192.168.1.12/stream", FPS: 120}); err == nil {
		t.Error("範囲外のFPSでエラーになるべきです")
	}

	if err := manager.RemoveCamera(ctx, "entrance"); err != nil {
		t.Fatalf("RemoveCamera failed: %v", err)
	}
	if _, ok := manager.GetCamera("entrance"); ok {
		t.Error("削除したカメラが残っています")
	}
	if err := manager.RemoveCamera(ctx, "entrance"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("存在しないカメラの削除 = %v, want ErrCameraNotFound", err)
	}
}

func TestDefaultCameraManager_Discovery(t *testing.T) {
	ctx := context.Background()
	mockDiscovery := NewMockDiscovery([]string{"/dev/video0"})
	manager := NewDefaultCameraManager(mockDiscovery, testDefaults)
	manager.Configure("テストパターン", ConnectionSpec{ID: "test", SourceURI: "testsrc://"})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// デバイス追加
	mockDiscovery.AddDevice("/dev/video2")
	if _, err := manager.DiscoverCameras(ctx); err != nil {
		t.Fatalf("DiscoverCameras failed: %v", err)
	}
	if _, ok := manager.GetCamera("video2"); !ok {
		t.Error("追加されたデバイスが検出されていません")
	}

	// デバイス削除（設定済みカメラは残る）
	mockDiscovery.RemoveDevice("/dev/video0")
	if _, err := manager.DiscoverCameras(ctx); err != nil {
		t.Fatalf("DiscoverCameras failed: %v", err)
	}
	if _, ok := manager.GetCamera("video0"); ok {
		t.Error("取り外されたデバイスが残っています")
	}
	if _, ok := manager.GetCamera("test"); !ok {
		t.Error("設定済みカメラが削除されてしまいました")
	}
}

func TestDefaultCameraManager_Serve(t *testing.T) {
	mockDiscovery := NewMockDiscovery(nil)
	manager := NewDefaultCameraManager(mockDiscovery, testDefaults)
	manager.SetScanInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- manager.Serve(ctx) }()

	mockDiscovery.AddDevice("/dev/video0")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := manager.GetCamera("video0"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("定期スキャンでデバイスが検出されませんでした")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve がキャンセル後に終了しません")
	}
}
