package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kanshi/internal/camera"
	"kanshi/internal/pipeline"
)

// script は1回分のパイプラインの振る舞い
type script struct {
	startErr error         // Start 自体が失敗する
	frames   int           // 生成するフレーム数（-1 は無制限）
	end      error         // nil なら EOS、そうでなければ致命的エラー
	hold     bool          // フレームを出し終えたら停止されるまで待つ
	interval time.Duration // フレーム間隔
}

// fakeEngine はスクリプトどおりに動くパイプラインを作る
// 最後のスクリプトは繰り返し使われる
type fakeEngine struct {
	mu      sync.Mutex
	scripts []script
	starts  int
	last    []byte

	live   atomic.Int32
	closed atomic.Int32
	serial atomic.Uint64

	// initHold が nil でなければ、最初の Init は開始時にこれを閉じ、
	// コンテキストが終了するまで戻らない
	initHold chan struct{}
	initOnce sync.Once
}

func newFakeEngine(scripts ...script) *fakeEngine {
	return &fakeEngine{scripts: scripts}
}

func (e *fakeEngine) Name() string                       { return "fake" }
func (e *fakeEngine) Supports(pipeline.Description) bool { return true }
func (e *fakeEngine) Shutdown(context.Context) error     { return nil }

func (e *fakeEngine) Init(ctx context.Context) error {
	if e.initHold == nil {
		return nil
	}
	first := false
	e.initOnce.Do(func() { first = true })
	if !first {
		return nil
	}
	close(e.initHold)
	<-ctx.Done()
	return ctx.Err()
}

func (e *fakeEngine) Start(ctx context.Context, d pipeline.Description) (pipeline.Pipeline, error) {
	e.mu.Lock()
	sc := e.scripts[min(e.starts, len(e.scripts)-1)]
	e.starts++
	e.mu.Unlock()

	if sc.startErr != nil {
		return nil, sc.startErr
	}
	if sc.interval == 0 {
		sc.interval = 2 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &fakePipeline{
		cancel: cancel,
		frames: make(chan pipeline.Frame),
		events: make(chan pipeline.Event, 4),
		done:   make(chan struct{}),
		engine: e,
	}
	e.live.Add(1)
	go p.run(ctx, sc)
	return p, nil
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *fakeEngine) lastFrame() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// frameData は連番を埋め込んだJPEG風のデータを作る
func (e *fakeEngine) frameData() []byte {
	n := e.serial.Add(1)
	data := make([]byte, 0, 12)
	data = append(data, 0xFF, 0xD8)
	data = binary.BigEndian.AppendUint64(data, n)
	data = append(data, 0xFF, 0xD9)
	return data
}

type fakePipeline struct {
	cancel   context.CancelFunc
	frames   chan pipeline.Frame
	events   chan pipeline.Event
	done     chan struct{}
	once     sync.Once
	produced atomic.Uint64
	engine   *fakeEngine
}

func (p *fakePipeline) run(ctx context.Context, sc script) {
	defer close(p.done)
	defer close(p.events)
	defer close(p.frames)

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for i := 0; sc.frames < 0 || i < sc.frames; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data := p.engine.frameData()
		p.engine.mu.Lock()
		p.engine.last = data
		p.engine.mu.Unlock()

		select {
		case p.frames <- pipeline.Frame{Data: data, Timestamp: time.Now(), Width: 640, Height: 480}:
			p.produced.Add(1)
		case <-ctx.Done():
			return
		}
	}

	if sc.hold {
		<-ctx.Done()
		return
	}

	var ev pipeline.Event = pipeline.EventEOS{}
	if sc.end != nil {
		ev = pipeline.EventError{Err: sc.end, Fatal: true}
	}
	select {
	case p.events <- ev:
	case <-ctx.Done():
	}
}

func (p *fakePipeline) Frames() <-chan pipeline.Frame { return p.frames }
func (p *fakePipeline) Events() <-chan pipeline.Event { return p.events }

func (p *fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{Frames: p.produced.Load()}
}

func (p *fakePipeline) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
		p.engine.live.Add(-1)
		p.engine.closed.Add(1)
	})
	return nil
}

// fakeTransport は受信したフレームを記録する
type fakeTransport struct {
	mu      sync.Mutex
	frames  []pipeline.Frame
	sendErr error

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (t *fakeTransport) Kind() string { return "fake" }

func (t *fakeTransport) Send(f pipeline.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// disconnect は接続が切れたことを通知する
func (t *fakeTransport) disconnect() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *fakeTransport) received() []pipeline.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]pipeline.Frame(nil), t.frames...)
}

// testOptions はテスト用に待ち時間を短くしたOptions
func testOptions() Options {
	opts := DefaultOptions()
	opts.ConnectTimeout = time.Second
	opts.Supervisor.BaseDelay = 10 * time.Millisecond
	opts.Supervisor.MaxDelay = 40 * time.Millisecond
	opts.Supervisor.StallTimeout = 0
	opts.Push.ReadTimeout = 20 * time.Millisecond
	return opts
}

func newTestRegistry(t *testing.T, engine pipeline.Engine, opts Options) *Registry {
	t.Helper()
	r := NewRegistry(pipeline.NewRuntime(engine), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})
	return r
}

func rtspSpec(id string) camera.ConnectionSpec {
	return camera.ConnectionSpec{
		ID:         id,
		SourceURI:  "rtsp://192.168.1.10/" + id,
		Resolution: camera.Resolution{Width: 640, Height: 480},
		FPS:        15,
		Codec:      "H.264",
	}
}

// waitFor は条件が満たされるまで待つ
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("タイムアウト: %s", msg)
}

func waitState(t *testing.T, r *Registry, id string, want State) Status {
	t.Helper()
	var st Status
	waitFor(t, 2*time.Second, "状態 "+want.String()+" になりません", func() bool {
		var ok bool
		st, ok = r.Get(id)
		return ok && st.State == want
	})
	return st
}

// transitionLog は状態遷移を記録する
type transitionLog struct {
	mu    sync.Mutex
	steps []State
}

func (l *transitionLog) record(_ string, _, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, to)
}

func (l *transitionLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.steps...)
}

var errRefused = errors.New("connection refused")
