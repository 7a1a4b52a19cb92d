package stream

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"kanshi/internal/camera"
	"kanshi/internal/pipeline"
)

func TestRegistryStartIsIdempotent(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	r := newTestRegistry(t, engine, testOptions())

	s1, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s2, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("2回目の Start failed: %v", err)
	}
	if s1 != s2 {
		t.Error("2回目の Start で別のセッションが作られました")
	}

	waitState(t, r, "cam1", StateStreaming)

	s3, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("ストリーミング中の Start failed: %v", err)
	}
	if s3 != s1 {
		t.Error("ストリーミング中の Start で別のセッションが作られました")
	}
	if got := engine.startCount(); got != 1 {
		t.Errorf("パイプラインが %d 本作られました", got)
	}
	if got := engine.live.Load(); got != 1 {
		t.Errorf("稼働中のパイプライン = %d, want 1", got)
	}
}

func TestRegistryStopReleasesSession(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	r := newTestRegistry(t, engine, testOptions())

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, r, "cam1", StateStreaming)

	st, existed := r.Stop("cam1")
	if !existed {
		t.Fatal("Stop がセッションを見つけられません")
	}
	if st.State != StateStopping && st.State != StateStopped {
		t.Errorf("Stop 直後の状態 = %s", st.State)
	}

	if _, err := r.LatestFrame("cam1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("停止後の LatestFrame = %v, want ErrUnavailable", err)
	}

	// 停止は冪等
	r.Stop("cam1")

	waitFor(t, 2*time.Second, "セッションが削除されません", func() bool {
		_, ok := r.Get("cam1")
		return !ok
	})

	if _, err := r.LatestFrame("cam1"); !errors.Is(err, ErrUnavailable) || !errors.Is(err, ErrNotFound) {
		t.Errorf("削除後の LatestFrame = %v", err)
	}
	if got := engine.live.Load(); got != 0 {
		t.Errorf("削除後も %d 本のパイプラインが残っています", got)
	}

	if _, existed := r.Stop("unknown"); existed {
		t.Error("存在しないカメラの Stop で existed=true")
	}
}

func TestRegistryRestartAfterStop(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	r := newTestRegistry(t, engine, testOptions())

	s1, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, r, "cam1", StateStreaming)
	r.Stop("cam1")
	<-s1.Done()

	s2, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("再開の Start failed: %v", err)
	}
	if s2 == s1 || s2.InstanceID() == s1.InstanceID() {
		t.Error("停止済みのセッションが再利用されました")
	}
	waitState(t, r, "cam1", StateStreaming)
}

func TestRegistryFrameCount(t *testing.T) {
	const n = 5
	engine := newFakeEngine(script{frames: n, hold: true})
	r := newTestRegistry(t, engine, testOptions())

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "フレーム数が揃いません", func() bool {
		st, _ := r.Get("cam1")
		return st.FrameCount == n
	})

	f, err := r.LatestFrame("cam1")
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if !bytes.Equal(f.Data, engine.lastFrame()) {
		t.Errorf("最新フレームが一致しません: %x != %x", f.Data, engine.lastFrame())
	}
	if f.Seq != n {
		t.Errorf("Seq = %d, want %d", f.Seq, n)
	}

	// 以降フレームは増えない
	time.Sleep(20 * time.Millisecond)
	if st, _ := r.Get("cam1"); st.FrameCount != n {
		t.Errorf("FrameCount = %d, want %d", st.FrameCount, n)
	}
}

func TestRegistryReconnectsAfterFailure(t *testing.T) {
	engine := newFakeEngine(
		script{frames: 3, end: pipeline.ConnectError("rtsp", errRefused)},
		script{frames: -1},
	)
	var log transitionLog
	opts := testOptions()
	opts.OnTransition = log.record
	r := newTestRegistry(t, engine, opts)

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "再接続しません", func() bool {
		return countState(log.states(), StateStreaming) >= 2
	})

	want := []State{StateConnecting, StateStreaming, StateError, StateConnecting, StateStreaming}
	if got := log.states(); !slices.Equal(got[:len(want)], want) {
		t.Errorf("状態遷移 = %v, want %v", got, want)
	}

	st, _ := r.Get("cam1")
	if st.Attempts != 0 {
		t.Errorf("再接続後の Attempts = %d, want 0", st.Attempts)
	}
	if st.LastError == "" {
		t.Error("直前のエラーが記録されていません")
	}

	// 連番は再接続をまたいで増え続ける
	f, err := r.LatestFrame("cam1")
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if f.Seq <= 3 {
		t.Errorf("再接続後の Seq = %d, want > 3", f.Seq)
	}
}

func countState(states []State, want State) int {
	n := 0
	for _, s := range states {
		if s == want {
			n++
		}
	}
	return n
}

func TestRegistryPermanentFailure(t *testing.T) {
	engine := newFakeEngine(script{startErr: pipeline.ConfigError("rtsp", errors.New("401 Unauthorized"))})
	r := newTestRegistry(t, engine, testOptions())

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := waitState(t, r, "cam1", StateError)
	if st.Retryable {
		t.Error("設定エラーが再試行可能になっています")
	}
	if st.LastError == "" {
		t.Error("エラー内容が記録されていません")
	}

	// バックオフより長く待っても再試行しない
	time.Sleep(50 * time.Millisecond)
	if got := engine.startCount(); got != 1 {
		t.Errorf("設定エラー後に %d 回起動されました", got)
	}
	if st, _ := r.Get("cam1"); st.State != StateError {
		t.Errorf("状態 = %s, want error", st.State)
	}

	// stop で解放できる
	r.Stop("cam1")
	waitFor(t, 2*time.Second, "セッションが削除されません", func() bool {
		_, ok := r.Get("cam1")
		return !ok
	})
}

func TestRegistryDecodeFailureLimit(t *testing.T) {
	engine := newFakeEngine(script{frames: 0, end: pipeline.DecodeError("h264", errors.New("invalid data"))})
	opts := testOptions()
	opts.Supervisor.DecodeFailureLimit = 3
	r := newTestRegistry(t, engine, opts)

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "デコード失敗で打ち切られません", func() bool {
		st, _ := r.Get("cam1")
		return st.State == StateError && !st.Retryable
	})
	if got := engine.startCount(); got != 3 {
		t.Errorf("起動回数 = %d, want 3", got)
	}
}

func TestRegistryMaxAttempts(t *testing.T) {
	engine := newFakeEngine(script{startErr: pipeline.ConnectError("rtsp", errRefused)})
	opts := testOptions()
	opts.Supervisor.MaxAttempts = 2
	r := newTestRegistry(t, engine, opts)

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "試行回数の上限で打ち切られません", func() bool {
		st, _ := r.Get("cam1")
		return st.State == StateError && !st.Retryable
	})
	st, _ := r.Get("cam1")
	if st.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", st.Attempts)
	}
	if got := engine.startCount(); got != 2 {
		t.Errorf("起動回数 = %d, want 2", got)
	}
}

func TestRegistryConnectTimeout(t *testing.T) {
	engine := newFakeEngine(script{frames: 0, hold: true})
	var log transitionLog
	opts := testOptions()
	opts.ConnectTimeout = 20 * time.Millisecond
	opts.OnTransition = log.record
	r := newTestRegistry(t, engine, opts)

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "接続タイムアウトで再試行しません", func() bool {
		return engine.startCount() >= 2
	})
	if slices.Contains(log.states(), StateStreaming) {
		t.Error("フレームなしで Streaming になりました")
	}
	if !slices.Contains(log.states(), StateError) {
		t.Error("接続タイムアウトで Error になっていません")
	}
	// 古いパイプラインは解放されている
	waitFor(t, time.Second, "パイプラインが残っています", func() bool {
		return engine.live.Load() <= 1
	})
}

func TestRegistryStallDetection(t *testing.T) {
	engine := newFakeEngine(
		script{frames: 1, hold: true},
		script{frames: -1},
	)
	opts := testOptions()
	opts.Supervisor.StallTimeout = 30 * time.Millisecond
	r := newTestRegistry(t, engine, opts)

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "停滞を検出しません", func() bool {
		return engine.startCount() >= 2
	})
	st := waitState(t, r, "cam1", StateStreaming)
	if st.LastError == "" {
		t.Error("停滞のエラーが記録されていません")
	}
}

func TestRegistryStopDuringBackoff(t *testing.T) {
	engine := newFakeEngine(script{startErr: pipeline.ConnectError("rtsp", errRefused)})
	opts := testOptions()
	opts.Supervisor.BaseDelay = time.Hour
	opts.Supervisor.MaxDelay = time.Hour
	r := newTestRegistry(t, engine, opts)

	s, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, r, "cam1", StateError)

	r.Stop("cam1")
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("バックオフ中の停止が完了しません")
	}
	if s.State() != StateStopped {
		t.Errorf("状態 = %s, want stopped", s.State())
	}
}

func TestRegistryStopWhileConnecting(t *testing.T) {
	// フレームを出さないまま接続中に留まるパイプライン
	engine := newFakeEngine(script{frames: 0, hold: true})
	r := newTestRegistry(t, engine, testOptions())

	s, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, "パイプラインが起動しません", func() bool {
		return engine.live.Load() == 1
	})
	if st := s.State(); st != StateConnecting {
		t.Fatalf("状態 = %s, want connecting", st)
	}

	r.Stop("cam1")
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("接続中の停止が完了しません")
	}
	if s.State() != StateStopped {
		t.Errorf("状態 = %s, want stopped", s.State())
	}
	if got := engine.live.Load(); got != 0 {
		t.Errorf("稼働中のパイプライン = %d, want 0", got)
	}
	if got := engine.closed.Load(); got != 1 {
		t.Errorf("解放されたパイプライン = %d, want 1", got)
	}
}

func TestRegistryStopDuringRuntimeInit(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	engine.initHold = make(chan struct{})
	r := newTestRegistry(t, engine, testOptions())

	s1, err := r.Start("cam1", rtspSpec("cam1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-engine.initHold:
	case <-time.After(time.Second):
		t.Fatal("エンジンの初期化が始まりません")
	}

	r.Stop("cam1")
	select {
	case <-s1.Done():
	case <-time.After(time.Second):
		t.Fatal("初期化中の停止が完了しません")
	}

	// 中断された初期化は次のセッションでやり直される
	if _, err := r.Start("cam2", rtspSpec("cam2")); err != nil {
		t.Fatalf("cam2 の Start failed: %v", err)
	}
	st := waitState(t, r, "cam2", StateStreaming)
	if st.LastError != "" {
		t.Errorf("LastError = %q, want empty", st.LastError)
	}
}

func TestRegistryStartErrors(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	opts := testOptions()
	opts.MaxSessions = 1
	r := newTestRegistry(t, engine, opts)

	bad := rtspSpec("bad")
	bad.SourceURI = "ftp://example.com/a"
	if _, err := r.Start("bad", bad); !pipeline.IsConfig(err) {
		t.Errorf("不正な接続情報 = %v, want ConfigError", err)
	}

	if _, err := r.Start("cam1", rtspSpec("cam2")); !pipeline.IsConfig(err) {
		t.Errorf("ID不一致 = %v, want ConfigError", err)
	}

	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := r.Start("cam2", rtspSpec("cam2")); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("上限超過 = %v, want ErrResourceExhausted", err)
	}

	// 既存セッションの Start は上限に数えない
	if _, err := r.Start("cam1", rtspSpec("cam1")); err != nil {
		t.Errorf("既存セッションの Start failed: %v", err)
	}
}

func TestRegistryList(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	r := newTestRegistry(t, engine, testOptions())

	for _, id := range []string{"cam3", "cam1", "cam2"} {
		if _, err := r.Start(id, rtspSpec(id)); err != nil {
			t.Fatalf("Start(%s) failed: %v", id, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() = %d件, want 3", len(list))
	}
	for i, want := range []string{"cam1", "cam2", "cam3"} {
		if list[i].CameraID != want {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].CameraID, want)
		}
	}
}

func TestRegistryShutdown(t *testing.T) {
	engine := newFakeEngine(script{frames: -1})
	r := NewRegistry(pipeline.NewRuntime(engine), testOptions())

	for _, id := range []string{"cam1", "cam2"} {
		if _, err := r.Start(id, rtspSpec(id)); err != nil {
			t.Fatalf("Start(%s) failed: %v", id, err)
		}
		waitState(t, r, id, StateStreaming)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if got := engine.live.Load(); got != 0 {
		t.Errorf("Shutdown 後も %d 本のパイプラインが残っています", got)
	}
	if len(r.List()) != 0 {
		t.Error("Shutdown 後もセッションが残っています")
	}
	if _, err := r.Start("cam1", rtspSpec("cam1")); !errors.Is(err, ErrClosed) {
		t.Errorf("Shutdown 後の Start = %v, want ErrClosed", err)
	}
}

func TestTestPatternScenario(t *testing.T) {
	r := NewRegistry(pipeline.NewRuntime(pipeline.NewNativeEngine()), testOptions())
	defer r.Shutdown(context.Background())

	spec := camera.ConnectionSpec{
		ID:         "cam1",
		SourceURI:  "testsrc://",
		Resolution: camera.Resolution{Width: 640, Height: 480},
		FPS:        15,
		Codec:      "MJPEG",
	}
	if _, err := r.Start("cam1", spec); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitState(t, r, "cam1", StateStreaming)

	f, err := r.LatestFrame("cam1")
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if len(f.Data) == 0 || !f.IsJPEG() {
		t.Fatal("JPEGのフレームが取得できません")
	}

	r.Stop("cam1")
	waitFor(t, 2*time.Second, "セッションが停止しません", func() bool {
		st, ok := r.Get("cam1")
		return !ok || st.State == StateStopped
	})
}
