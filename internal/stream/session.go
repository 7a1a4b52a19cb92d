package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kanshi/internal/camera"
	"kanshi/internal/logging"
	"kanshi/internal/metrics"
	"kanshi/internal/pipeline"
)

var errEndOfStream = errors.New("ソースがストリームの終端に達しました")

// Status はセッションの読み取り専用スナップショット
type Status struct {
	CameraID     string    `json:"camera_id"`
	InstanceID   string    `json:"instance_id"`
	Source       string    `json:"source"`
	State        State     `json:"state"`
	FrameCount   uint64    `json:"frame_count"`
	LastError    string    `json:"last_error,omitempty"`
	Retryable    bool      `json:"retryable"`
	Attempts     int       `json:"attempts"`
	Subscribers  int       `json:"subscribers"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Session は1台のカメラのパイプラインと最新フレームを保持する
type Session struct {
	cameraID   string
	instanceID string
	spec       camera.ConnectionSpec
	desc       pipeline.Description
	runtime    *pipeline.Runtime
	opts       Options
	log        zerolog.Logger

	cache FrameCache
	seq   uint64 // 実行ゴルーチンのみが更新する

	mu           sync.RWMutex
	state        State
	lastErr      error
	retryable    bool
	attempts     int
	frameCount   uint64
	createdAt    time.Time
	lastActivity time.Time

	subsMu sync.Mutex
	subs   map[*subscription]struct{}
	ended  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(spec camera.ConnectionSpec, desc pipeline.Description, runtime *pipeline.Runtime, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	instanceID := uuid.NewString()

	s := &Session{
		cameraID:     spec.ID,
		instanceID:   instanceID,
		spec:         spec,
		desc:         desc,
		runtime:      runtime,
		opts:         opts,
		log:          logging.With().Str("camera_id", spec.ID).Str("instance_id", instanceID).Logger(),
		state:        StateIdle,
		retryable:    true,
		createdAt:    now,
		lastActivity: now,
		subs:         make(map[*subscription]struct{}),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	metrics.RecordStateChange("", StateIdle.String())

	return s
}

// CameraID はカメラIDを返す
func (s *Session) CameraID() string {
	return s.cameraID
}

// InstanceID はセッションごとに一意なIDを返す
func (s *Session) InstanceID() string {
	return s.instanceID
}

// Spec は接続情報を返す
func (s *Session) Spec() camera.ConnectionSpec {
	return s.spec
}

// Done はセッションがリソースを解放して停止すると閉じる
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State は現在の状態を返す
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status は現在の状態のスナップショットを返す
func (s *Session) Status() Status {
	s.subsMu.Lock()
	subscribers := len(s.subs)
	s.subsMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		CameraID:     s.cameraID,
		InstanceID:   s.instanceID,
		Source:       s.spec.RedactedURI(),
		State:        s.state,
		FrameCount:   s.frameCount,
		Retryable:    s.retryable,
		Attempts:     s.attempts,
		Subscribers:  subscribers,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Snapshot は最新フレームを返す
// ストリーミング中でない、またはフレームがまだ無い場合は ErrUnavailable
func (s *Session) Snapshot() (pipeline.Frame, error) {
	if state := s.State(); state != StateStreaming {
		return pipeline.Frame{}, fmt.Errorf("%w: カメラ %s は %s です", ErrUnavailable, s.cameraID, state)
	}
	f, ok := s.cache.Get()
	if !ok {
		return pipeline.Frame{}, fmt.Errorf("%w: カメラ %s のフレームがまだありません", ErrUnavailable, s.cameraID)
	}
	return f, nil
}

// start は実行ゴルーチンを起動する
func (s *Session) start() {
	go s.run()
}

// stop は停止を要求する
// I/Oの完了は待たない。停止処理中または停止済みなら何もしない
func (s *Session) stop() bool {
	if !s.setState(StateStopping, nil) {
		return false
	}
	s.cancel()
	return true
}

// setState は許可された遷移であれば状態を変更する
func (s *Session) setState(to State, update func()) bool {
	s.mu.Lock()
	from := s.state
	if !from.canTransition(to) {
		s.mu.Unlock()
		// 停止処理との競合は想定内
		if !from.Terminal() {
			s.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("不正な状態遷移を拒否しました")
		}
		return false
	}
	s.state = to
	s.lastActivity = time.Now()
	if update != nil {
		update()
	}
	s.mu.Unlock()

	metrics.RecordStateChange(from.String(), to.String())
	s.log.Info().Str("from", from.String()).Str("state", to.String()).Msg("セッションの状態が変わりました")
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(s.cameraID, from, to)
	}

	return true
}

// run はセッションの制御ループ
// 接続、フレーム受信、失敗時のバックオフを停止要求まで繰り返す
func (s *Session) run() {
	defer close(s.done)
	defer s.release()

	sup := newSupervisor(s.opts.Supervisor)
	for {
		if !s.setState(StateConnecting, nil) {
			return
		}

		err := s.attempt(sup)
		if s.ctx.Err() != nil {
			return
		}

		d := sup.failure(err)
		s.recordFailure(d, sup.attempts)

		if !d.retry {
			s.log.Error().Err(d.err).Msg("回復できないエラーのため再接続しません")
			<-s.ctx.Done()
			return
		}

		s.log.Warn().Err(d.err).Int("attempt", sup.attempts).Dur("delay", d.delay).Msg("再接続を待機します")
		timer := time.NewTimer(d.delay)
		select {
		case <-timer.C:
			metrics.ReconnectsTotal.WithLabelValues(s.cameraID).Inc()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// attempt はパイプラインを1本起動し、致命的なイベントまでフレームを受け取る
// パイプラインはどの経路で戻っても解放される
func (s *Session) attempt(sup *supervisor) error {
	p, err := s.runtime.Start(s.ctx, s.desc)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			s.log.Warn().Err(err).Msg("パイプラインの解放に失敗しました")
		}
	}()

	connectTimeout := s.opts.ConnectTimeout
	stallTimeout := s.opts.Supervisor.StallTimeout

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	streaming := false
	frames, events := p.Frames(), p.Events()
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case f, ok := <-frames:
			if !ok {
				// 終端イベントはイベントキューから届く
				frames = nil
				continue
			}
			s.produce(f)
			if !streaming {
				streaming = true
				sup.reset()
				s.setState(StateStreaming, func() {
					s.attempts = 0
				})
			}
			if stallTimeout > 0 {
				timer.Reset(stallTimeout)
			} else {
				timer.Stop()
			}

		case ev, ok := <-events:
			if !ok {
				return pipeline.ConnectError("pipeline", errors.New("パイプラインが終端イベントなしで終了しました"))
			}
			if err := s.handleEvent(ev); err != nil {
				return err
			}

		case <-timer.C:
			if !streaming {
				return pipeline.ConnectError("connect", fmt.Errorf("%v 以内に最初のフレームを受信できません", connectTimeout))
			}
			return pipeline.ConnectError("stall", fmt.Errorf("%v 以上フレームが届いていません", stallTimeout))
		}
	}
}

// handleEvent はパイプラインのイベントを処理し、致命的なら終了理由を返す
func (s *Session) handleEvent(ev pipeline.Event) error {
	switch e := ev.(type) {
	case pipeline.EventEOS:
		return pipeline.ConnectError("eos", errEndOfStream)
	case pipeline.EventError:
		if e.Fatal {
			if e.Err == nil {
				return pipeline.ConnectError("pipeline", errors.New("原因不明のエラー"))
			}
			return e.Err
		}
		metrics.SkippedFramesTotal.WithLabelValues(s.cameraID).Inc()
		s.log.Debug().Err(e.Err).Msg("フレームを読み飛ばしました")
	case pipeline.EventStateChanged:
		s.log.Debug().Str("from", string(e.From)).Str("to", string(e.To)).Msg("パイプラインの状態が変わりました")
	}
	return nil
}

// produce はフレームに連番を付けてキャッシュと購読者に渡す
func (s *Session) produce(f pipeline.Frame) {
	s.seq++
	f.Seq = s.seq
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	s.cache.Put(f)

	s.mu.Lock()
	s.frameCount++
	s.lastActivity = f.Timestamp
	s.mu.Unlock()

	metrics.FramesTotal.WithLabelValues(s.cameraID).Inc()
	s.publish(f)
}

// recordFailure は失敗を記録して Error に遷移する
func (s *Session) recordFailure(d decision, attempts int) {
	kind, ok := pipeline.KindOf(d.err)
	if !ok {
		kind = pipeline.KindConnect
	}
	metrics.PipelineErrorsTotal.WithLabelValues(s.cameraID, kind.String()).Inc()

	s.setState(StateError, func() {
		s.lastErr = d.err
		s.retryable = d.retry
		s.attempts = attempts
	})
}

// release は実行ゴルーチンの終了時にキャッシュと購読を片付けて Stopped にする
func (s *Session) release() {
	s.cache.Clear()
	s.endSubscriptions()
	s.setState(StateStopped, nil)
}

// subscribe は連続配信用の購読を登録する
func (s *Session) subscribe() (*subscription, error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if s.ended || s.ctx.Err() != nil {
		return nil, fmt.Errorf("%w: カメラ %s は停止しています", ErrUnavailable, s.cameraID)
	}

	sub := newSubscription()
	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *Session) unsubscribe(sub *subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, sub)
}

// publish は全購読者にフレームを渡す（ブロックしない）
func (s *Session) publish(f pipeline.Frame) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.offer(f)
	}
}

func (s *Session) endSubscriptions() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.ended = true
	for sub := range s.subs {
		close(sub.done)
		delete(s.subs, sub)
	}
}
