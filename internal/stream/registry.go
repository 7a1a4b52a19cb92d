package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"kanshi/internal/camera"
	"kanshi/internal/logging"
	"kanshi/internal/metrics"
	"kanshi/internal/pipeline"
)

var errNoNegotiator = errors.New("ネゴシエーターが設定されていません")

// Registry はカメラIDごとにセッションを1つだけ保持する
type Registry struct {
	runtime *pipeline.Runtime
	opts    Options

	mu         sync.Mutex
	sessions   map[string]*Session
	negotiator Negotiator
	closed     bool

	reapers sync.WaitGroup
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(runtime *pipeline.Runtime, opts Options) *Registry {
	return &Registry{
		runtime:  runtime,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// SetNegotiator は連続配信のネゴシエーターを設定する
func (r *Registry) SetNegotiator(n Negotiator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negotiator = n
}

// MaxSessions は同時セッション数の上限を返す
func (r *Registry) MaxSessions() int {
	return r.opts.MaxSessions
}

// Init はパイプラインランタイムを初期化する
// 呼ばなくても最初のセッションが開始するときに初期化される
func (r *Registry) Init(ctx context.Context) error {
	return r.runtime.Init(ctx)
}

// Start はカメラのセッションを開始する
// 停止済みでないセッションが既にあればそれをそのまま返す
func (r *Registry) Start(id string, spec camera.ConnectionSpec) (*Session, error) {
	if spec.ID == "" {
		spec.ID = id
	}
	if spec.ID != id {
		return nil, pipeline.ConfigError("start", fmt.Errorf("カメラID %q と接続情報のID %q が一致しません", id, spec.ID))
	}

	desc, err := pipeline.Describe(spec, r.opts.Quality, pipeline.WithConnectTimeout(r.opts.ConnectTimeout))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if s, ok := r.sessions[id]; ok && s.State() != StateStopped {
		return s, nil
	}

	if live := r.liveLocked(); live >= r.opts.MaxSessions {
		return nil, fmt.Errorf("%w (%d/%d)", ErrResourceExhausted, live, r.opts.MaxSessions)
	}

	s := newSession(spec, desc, r.runtime, r.opts)
	r.sessions[id] = s
	s.start()

	r.reapers.Add(1)
	go r.reap(s)

	logging.Info().Str("camera_id", id).Str("source", spec.RedactedURI()).Msg("セッションを開始しました")
	return s, nil
}

// liveLocked は停止済みでないセッション数を返す（ロック済み前提）
func (r *Registry) liveLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.State() != StateStopped {
			n++
		}
	}
	return n
}

// reap はセッションがリソースを解放したあとでレジストリから取り除く
func (r *Registry) reap(s *Session) {
	defer r.reapers.Done()
	<-s.Done()

	r.mu.Lock()
	if cur, ok := r.sessions[s.cameraID]; ok && cur == s {
		delete(r.sessions, s.cameraID)
	}
	r.mu.Unlock()

	metrics.RecordStateChange(StateStopped.String(), "")
	logging.Info().Str("camera_id", s.cameraID).Str("instance_id", s.instanceID).Msg("セッションを削除しました")
}

// Stop はセッションに停止を要求する
// I/Oの完了は待たない。セッションが無い、または停止処理中なら何もしない
// 戻り値は要求後の状態と、セッションが存在したかどうか
func (r *Registry) Stop(id string) (Status, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return Status{CameraID: id, State: StateStopped}, false
	}
	if s.stop() {
		logging.Info().Str("camera_id", id).Msg("セッションの停止を要求しました")
	}
	return s.Status(), true
}

// Get はセッションの状態を返す
func (r *Registry) Get(id string) (Status, bool) {
	s, ok := r.lookup(id)
	if !ok {
		return Status{}, false
	}
	return s.Status(), true
}

// List は全セッションの状態をカメラID順に返す
func (r *Registry) List() []Status {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	slices.SortFunc(statuses, func(a, b Status) int {
		return strings.Compare(a.CameraID, b.CameraID)
	})
	return statuses
}

// LatestFrame はセッションの最新フレームを返す
// セッションが無い場合のエラーは ErrUnavailable と ErrNotFound の両方に一致する
func (r *Registry) LatestFrame(id string) (pipeline.Frame, error) {
	s, ok := r.lookup(id)
	if !ok {
		return pipeline.Frame{}, fmt.Errorf("%w: %w", ErrUnavailable, ErrNotFound)
	}
	return s.Snapshot()
}

// Attach は確立済みの送信先に連続配信を開始する
func (r *Registry) Attach(id string, t Transport) (*PushAdapter, error) {
	s, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("カメラ %s: %w", id, ErrNotFound)
	}
	return newPushAdapter(s, t, r.opts.Push)
}

// Negotiate はオファーを処理して連続配信を開始し、アンサーを返す
// 失敗はこの呼び出しにだけ返り、セッションや他の配信には影響しない
func (r *Registry) Negotiate(ctx context.Context, id string, offer SessionDescription) (SessionDescription, error) {
	s, ok := r.lookup(id)
	if !ok {
		return SessionDescription{}, fmt.Errorf("カメラ %s: %w", id, ErrNotFound)
	}

	r.mu.Lock()
	n := r.negotiator
	r.mu.Unlock()
	if n == nil {
		return SessionDescription{}, &NegotiationError{CameraID: id, Err: errNoNegotiator}
	}

	answer, t, err := n.Negotiate(ctx, id, offer)
	if err != nil {
		return SessionDescription{}, &NegotiationError{CameraID: id, Err: err}
	}

	if _, err := newPushAdapter(s, t, r.opts.Push); err != nil {
		_ = t.Close()
		return SessionDescription{}, &NegotiationError{CameraID: id, Err: err}
	}

	return answer, nil
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Shutdown は全セッションを並行して停止し、解放を待ってからランタイムを停止する
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.stop()
			select {
			case <-s.Done():
				return nil
			case <-gctx.Done():
				return fmt.Errorf("カメラ %s の停止を待てません: %w", s.cameraID, gctx.Err())
			}
		})
	}
	err := g.Wait()

	reaped := make(chan struct{})
	go func() {
		r.reapers.Wait()
		close(reaped)
	}()
	select {
	case <-reaped:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	if rerr := r.runtime.Shutdown(ctx); rerr != nil {
		err = errors.Join(err, rerr)
	}

	logging.Info().Int("sessions", len(sessions)).Msg("セッションレジストリを停止しました")
	return err
}
